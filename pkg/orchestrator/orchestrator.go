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

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/lanscape/pkg/enumerate"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
	"github.com/carverauto/lanscape/pkg/probe"
)

// ScanRequest describes one active discovery sweep.
type ScanRequest struct {
	// Hosts is the explicit target list. Empty plus AutoEnumerate asks
	// the enumerator for candidates.
	Hosts         []string
	Probe         models.ProbeConfig
	Warmup        time.Duration
	AutoEnumerate bool
	MaxAutoHosts  int
}

// Orchestrator drives the staged discovery cycle. Passive browsing and
// the active scan are independent controls; both are safe for concurrent
// use.
type Orchestrator struct {
	scheduler Scheduler
	prober    probe.Prober
	enum      enumerate.Enumerator
	passive   PassiveSource
	neighbors NeighborSource
	logger    logger.Logger

	mu            sync.Mutex
	scanActive    bool
	scanID        string
	scanCancel    context.CancelFunc
	scanDone      chan struct{}
	progress      models.ScanProgress
	passiveActive bool
	passiveCancel context.CancelFunc
	observer      func(models.ScanProgress)
}

// New builds an Orchestrator. The enumerator, passive source, and
// neighbor source may be nil; the corresponding phases are skipped with
// a log line when they are.
func New(
	sched Scheduler,
	prober probe.Prober,
	enum enumerate.Enumerator,
	passive PassiveSource,
	neighbors NeighborSource,
	log logger.Logger,
) (*Orchestrator, error) {
	if sched == nil {
		return nil, ErrNilScheduler
	}

	if prober == nil {
		return nil, ErrNilProber
	}

	return &Orchestrator{
		scheduler: sched,
		prober:    prober,
		enum:      enum,
		passive:   passive,
		neighbors: neighbors,
		logger:    log,
		progress:  models.ScanProgress{Phase: models.PhaseIdle},
	}, nil
}

// OnProgress registers the observer invoked after every phase transition
// and per-host completion. Only one observer is held; nil clears it.
func (o *Orchestrator) OnProgress(fn func(models.ScanProgress)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.observer = fn
}

// StartScan begins a sweep and returns its ID. The sweep runs in the
// background; callers follow it through Progress or the observer.
func (o *Orchestrator) StartScan(ctx context.Context, req ScanRequest) (string, error) {
	o.mu.Lock()

	if o.scanActive {
		o.mu.Unlock()
		return "", ErrScanInProgress
	}

	scanCtx, cancel := context.WithCancel(ctx)

	o.scanActive = true
	o.scanID = uuid.NewString()
	o.scanCancel = cancel
	o.scanDone = make(chan struct{})
	o.progress = models.ScanProgress{Started: true, Phase: models.PhaseEnumerating}

	id := o.scanID
	snapshot := o.progress
	observer := o.observer

	o.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}

	o.logger.Info().
		Str("scan_id", id).
		Int("hosts", len(req.Hosts)).
		Bool("auto_enumerate", req.AutoEnumerate).
		Msg("Starting discovery sweep")

	go o.runScan(scanCtx, id, req)

	return id, nil
}

// StopScan cancels the in-flight sweep and waits for it to wind down.
// Already-merged results are untouched. No-op when nothing is running.
func (o *Orchestrator) StopScan() {
	o.mu.Lock()

	if !o.scanActive {
		o.mu.Unlock()
		return
	}

	cancel := o.scanCancel
	done := o.scanDone

	o.mu.Unlock()

	cancel()
	<-done
}

// StartBonjour turns on passive multicast browsing. Idempotent while
// already active.
func (o *Orchestrator) StartBonjour(ctx context.Context) error {
	o.mu.Lock()

	if o.passiveActive {
		o.mu.Unlock()
		return nil
	}

	if o.passive == nil {
		o.mu.Unlock()
		return ErrNoPassiveSource
	}

	passiveCtx, cancel := context.WithCancel(ctx)

	if err := o.passive.Start(passiveCtx); err != nil {
		cancel()
		o.mu.Unlock()

		return fmt.Errorf("start passive discovery: %w", err)
	}

	o.passiveActive = true
	o.passiveCancel = cancel

	o.mu.Unlock()

	o.logger.Info().Msg("Passive discovery started")

	return nil
}

// StopBonjour turns passive browsing off. No-op when inactive.
func (o *Orchestrator) StopBonjour() error {
	o.mu.Lock()

	if !o.passiveActive {
		o.mu.Unlock()
		return nil
	}

	cancel := o.passiveCancel
	o.passiveActive = false
	o.passiveCancel = nil

	o.mu.Unlock()

	cancel()

	if err := o.passive.Stop(); err != nil {
		return fmt.Errorf("stop passive discovery: %w", err)
	}

	o.logger.Info().Msg("Passive discovery stopped")

	return nil
}

// Stop shuts down both controls. Used on daemon shutdown.
func (o *Orchestrator) Stop() error {
	o.StopScan()

	return o.StopBonjour()
}

// CurrentState reports the two orthogonal control booleans.
func (o *Orchestrator) CurrentState() models.ControlState {
	o.mu.Lock()
	defer o.mu.Unlock()

	return models.ControlState{
		PassiveDiscoveryActive: o.passiveActive,
		ActiveScanInProgress:   o.scanActive,
	}
}

// Progress returns a copy of the current sweep's progress. After a sweep
// completes the final counts remain readable until the next StartScan.
func (o *Orchestrator) Progress() models.ScanProgress {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.progress
}

func (o *Orchestrator) runScan(ctx context.Context, id string, req ScanRequest) {
	defer o.finishScan(ctx, id)

	hosts, err := o.resolveHosts(ctx, req)
	if err != nil {
		o.logger.Warn().Err(err).Str("scan_id", id).Msg("Host enumeration failed, sweeping zero hosts")
	}

	o.updateProgress(func(p *models.ScanProgress) {
		p.TotalHosts = len(hosts)
	})

	if len(hosts) == 0 {
		o.logger.Info().Str("scan_id", id).Msg("No hosts to sweep")
		return
	}

	if o.prober.Available() {
		o.runPingPhases(ctx, id, hosts, req)
		return
	}

	o.runNeighborPhases(ctx, id, hosts)
}

// resolveHosts returns the target list, consulting the enumerator when
// the request carries no explicit hosts.
func (o *Orchestrator) resolveHosts(ctx context.Context, req ScanRequest) ([]string, error) {
	if len(req.Hosts) > 0 {
		return req.Hosts, nil
	}

	if !req.AutoEnumerate {
		return nil, nil
	}

	if o.enum == nil {
		return nil, ErrEnumerationFailed
	}

	maxHosts := req.MaxAutoHosts
	if maxHosts <= 0 {
		maxHosts = enumerate.DefaultMaxHosts
	}

	hosts, err := o.enum.Enumerate(ctx, maxHosts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	return hosts, nil
}

func (o *Orchestrator) runPingPhases(ctx context.Context, id string, hosts []string, req ScanRequest) {
	if req.Warmup > 0 && o.CurrentState().PassiveDiscoveryActive {
		o.setPhase(models.PhaseMDNSWarmup)

		select {
		case <-ctx.Done():
			return
		case <-time.After(req.Warmup):
		}
	}

	o.setPhase(models.PhasePinging)

	o.scheduler.Enqueue(ctx, hosts, req.Probe, func(_ string, success bool) {
		o.updateProgress(func(p *models.ScanProgress) {
			p.CompletedHosts++
			if success {
				p.SuccessHosts++
			}
		})
	})

	o.logger.Debug().Str("scan_id", id).Msg("Ping phase complete")
}

// runNeighborPhases is the no-ICMP fallback: touch every candidate so
// the kernel resolves it, then read the neighbor table back.
func (o *Orchestrator) runNeighborPhases(ctx context.Context, id string, hosts []string) {
	if o.neighbors == nil {
		o.logger.Warn().Str("scan_id", id).Msg("ICMP unavailable and no neighbor source, skipping active phases")
		return
	}

	o.setPhase(models.PhaseARPPriming)

	if err := o.neighbors.Prime(ctx, hosts); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", id).Msg("Neighbor priming failed")
	}

	if ctx.Err() != nil {
		return
	}

	o.setPhase(models.PhaseARPRefresh)

	if err := o.neighbors.Refresh(ctx); err != nil {
		o.logger.Warn().Err(err).Str("scan_id", id).Msg("Neighbor refresh failed")
	}

	o.updateProgress(func(p *models.ScanProgress) {
		p.CompletedHosts = p.TotalHosts
	})
}

func (o *Orchestrator) finishScan(ctx context.Context, id string) {
	canceled := ctx.Err() != nil

	o.mu.Lock()

	if o.scanCancel != nil {
		o.scanCancel()
	}

	o.scanActive = false
	o.scanCancel = nil

	if canceled {
		o.progress.Phase = models.PhaseIdle
	} else {
		o.progress.Phase = models.PhaseFinished
		o.progress.Finished = true
	}

	snapshot := o.progress
	observer := o.observer
	done := o.scanDone
	o.scanDone = nil

	o.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}

	o.logger.Info().
		Str("scan_id", id).
		Bool("canceled", canceled).
		Int("total", snapshot.TotalHosts).
		Int("alive", snapshot.SuccessHosts).
		Msg("Discovery sweep finished")

	close(done)
}

func (o *Orchestrator) setPhase(phase models.ScanPhase) {
	o.updateProgress(func(p *models.ScanProgress) {
		p.Phase = phase
	})
}

// updateProgress applies fn under the lock, then notifies the observer
// outside it.
func (o *Orchestrator) updateProgress(fn func(*models.ScanProgress)) {
	o.mu.Lock()

	fn(&o.progress)

	snapshot := o.progress
	observer := o.observer

	o.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}
}
