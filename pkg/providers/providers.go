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

// Package providers contains the discovery sources. Passive sources
// (mdns, arp) push raw observations onto the mutation bus; enrichment
// sources (portscan, snmp, ssh, http) watch canonical changes and probe
// newly seen devices for detail. Every provider is failure-isolated: a
// probe error is logged and dropped, never propagated.
package providers

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	// DefaultCooldown bounds how often one device is re-probed by a
	// single enrichment source.
	DefaultCooldown = 10 * time.Minute

	// DefaultMaxInFlight bounds concurrent probes per enrichment source.
	DefaultMaxInFlight = 4
)

// Provider is a discovery source with a lifecycle. Start is
// non-blocking; the provider winds down when the context is canceled or
// Stop is called.
type Provider interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// MutationStream is the slice of the bus enrichment sources need: emit
// raw observations, consume canonical ones.
type MutationStream interface {
	Emit(m models.Mutation)
	Subscribe(includeBuffered bool) (<-chan models.Mutation, func())
}

// reactor is the shared engine behind enrichment sources. It consumes
// canonical changes, applies a per-device cooldown, and dispatches the
// source's probe on a bounded number of goroutines.
type reactor struct {
	name       string
	stream     MutationStream
	logger     logger.Logger
	cooldown   time.Duration
	skipSource models.DiscoverySource
	slots      chan struct{}
	probe      func(ctx context.Context, device *models.Device)

	mu     sync.Mutex
	last   map[string]time.Time
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup
}

func newReactor(
	name string,
	stream MutationStream,
	cooldown time.Duration,
	maxInFlight int,
	skipSource models.DiscoverySource,
	probe func(ctx context.Context, device *models.Device),
	log logger.Logger,
) *reactor {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	return &reactor{
		name:       name,
		stream:     stream,
		logger:     log,
		cooldown:   cooldown,
		skipSource: skipSource,
		slots:      make(chan struct{}, maxInFlight),
		probe:      probe,
		last:       make(map[string]time.Time),
	}
}

func (r *reactor) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return nil
	}

	reactorCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ch, unsub := r.stream.Subscribe(true)
	r.unsub = unsub

	r.wg.Add(1)

	go r.consume(reactorCtx, ch)

	return nil
}

func (r *reactor) stop() error {
	r.mu.Lock()

	cancel := r.cancel
	unsub := r.unsub
	r.cancel = nil
	r.unsub = nil

	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if unsub != nil {
		unsub()
	}

	r.wg.Wait()

	return nil
}

func (r *reactor) consume(ctx context.Context, ch <-chan models.Mutation) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			r.handle(ctx, m)
		}
	}
}

func (r *reactor) handle(ctx context.Context, m models.Mutation) {
	if !m.Canonical || m.Kind != models.MutationChange || m.After == nil {
		return
	}

	if r.skipSource != "" && m.Source == r.skipSource {
		return
	}

	target := m.After
	if target.PrimaryIP == "" {
		return
	}

	if !r.shouldProbe(target.ID) {
		return
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}

	device := target.Clone()

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() { <-r.slots }()

		r.logger.Debug().
			Str("provider", r.name).
			Str("device_id", device.ID).
			Str("ip", device.PrimaryIP).
			Msg("Probing device")

		r.probe(ctx, device)
	}()
}

// shouldProbe marks the device as probed when it clears the cooldown.
func (r *reactor) shouldProbe(id string) bool {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.last[id]; ok && now.Sub(last) < r.cooldown {
		return false
	}

	r.last[id] = now

	return true
}
