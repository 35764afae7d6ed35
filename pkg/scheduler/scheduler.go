/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package scheduler fans reachability probes over a host list with a
// fixed concurrency bound. The first successful attempt per host becomes
// a raw change mutation on the bus carrying the measured latency; failed
// attempts are dropped so probing alone can never invent a device.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
	"github.com/carverauto/lanscape/pkg/probe"
)

// DefaultMaxConcurrent bounds in-flight probes regardless of host list
// size.
const DefaultMaxConcurrent = 32

// Scheduler dispatches probe work. It does not deduplicate hosts across
// overlapping Enqueue calls; callers own that discipline.
type Scheduler struct {
	maxConcurrent int
	prober        probe.Prober
	emitter       bus.Emitter
	logger        logger.Logger
}

// New builds a scheduler. A non-positive maxConcurrent picks the
// default.
func New(maxConcurrent int, prober probe.Prober, emitter bus.Emitter, log logger.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	return &Scheduler{
		maxConcurrent: maxConcurrent,
		prober:        prober,
		emitter:       emitter,
		logger:        log,
	}
}

// Enqueue probes every host and blocks until all probes finish or the
// context is canceled. Cancellation abandons hosts not yet started and
// lets in-flight probes run out their own timeouts. onDone, when not
// nil, is invoked once per probed host with its outcome.
func (s *Scheduler) Enqueue(ctx context.Context, hosts []string, cfg models.ProbeConfig, onDone func(host string, success bool)) {
	if len(hosts) == 0 {
		return
	}

	cfg = cfg.Normalized()

	workers := s.maxConcurrent
	if workers > len(hosts) {
		workers = len(hosts)
	}

	s.logger.Debug().
		Int("hosts", len(hosts)).
		Int("workers", workers).
		Int("count", cfg.Count).
		Msg("Starting probe sweep")

	workCh := make(chan string)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for host := range workCh {
				success := s.probeHost(ctx, host, cfg)

				if onDone != nil {
					onDone(host, success)
				}
			}
		}()
	}

	for _, host := range hosts {
		select {
		case <-ctx.Done():
			close(workCh)
			wg.Wait()

			s.logger.Debug().Msg("Probe sweep canceled, pending hosts abandoned")

			return
		case workCh <- host:
		}
	}

	close(workCh)
	wg.Wait()
}

// probeHost consumes one host's probe stream. The first success emits a
// mutation and cancels the remaining attempts for that host.
func (s *Scheduler) probeHost(ctx context.Context, host string, cfg models.ProbeConfig) bool {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.prober.Probe(probeCtx, host, cfg)
	if err != nil {
		s.logger.Debug().Err(err).Str("host", host).Msg("Probe not started")
		return false
	}

	for result := range stream {
		if !result.Success {
			continue
		}

		s.emitSuccess(host, result)
		cancel()

		for range stream {
		}

		return true
	}

	return false
}

func (s *Scheduler) emitSuccess(host string, result models.ProbeResult) {
	rtt := float64(result.RTT) / float64(time.Millisecond)

	device := &models.Device{
		PrimaryIP:        host,
		IPs:              []string{host},
		DiscoverySources: []models.DiscoverySource{models.SourcePing},
		RTTMillis:        &rtt,
	}

	s.emitter.Emit(models.NewChange(nil, device, nil, models.SourcePing))

	s.logger.Debug().
		Str("host", host).
		Float64("rtt_ms", rtt).
		Int("seq", result.Seq).
		Msg("Host responded to probe")
}
