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

// Package engine assembles the discovery pipeline: mutation bus,
// persistence, reconciler, probe scheduler, orchestrator, and the
// configured discovery providers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/classify"
	"github.com/carverauto/lanscape/pkg/devstore"
	"github.com/carverauto/lanscape/pkg/enumerate"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
	"github.com/carverauto/lanscape/pkg/natsutil"
	"github.com/carverauto/lanscape/pkg/orchestrator"
	"github.com/carverauto/lanscape/pkg/probe"
	"github.com/carverauto/lanscape/pkg/providers"
	"github.com/carverauto/lanscape/pkg/reconciler"
	"github.com/carverauto/lanscape/pkg/scheduler"
)

var errNilLogger = errors.New("logger is required")

// Engine owns every component of the discovery pipeline and exposes the
// control surface the daemon and embedders drive.
type Engine struct {
	config Config
	logger logger.Logger

	bus        *bus.Bus
	kv         devstore.KVStore
	reconciler *reconciler.Reconciler
	orch       *orchestrator.Orchestrator
	enrichers  []providers.Provider

	bridge     *bus.NATSBridge
	bridgeConn *nats.Conn

	mu      sync.Mutex
	started bool
	logStop func()
	logDone chan struct{}
}

// New wires the pipeline from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Engine, error) {
	if log == nil {
		return nil, errNilLogger
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()

	b := bus.New(cfg.BusBuffer, log)

	kv, err := newKVBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rec, err := newReconciler(cfg, b, kv, log)
	if err != nil {
		return nil, err
	}

	var prober probe.Prober = probe.NewICMPProber(log)

	if !prober.Available() && len(cfg.Scan.TCPFallbackPorts) > 0 {
		log.Info().Msg("ICMP unavailable, probing reachability over TCP")

		prober = probe.NewTCPProber(cfg.Scan.TCPFallbackPorts, log)
	}

	sched := scheduler.New(cfg.Scan.MaxConcurrent, prober, b, log)

	var passive orchestrator.PassiveSource

	if cfg.Providers.MDNS.Enabled {
		passive = providers.NewMDNSProvider(providers.MDNSConfig{
			Services: cfg.Providers.MDNS.Services,
			Window:   cfg.Providers.MDNS.Window,
			Interval: cfg.Providers.MDNS.Interval,
		}, b, log)
	}

	var neighbors orchestrator.NeighborSource

	if cfg.Providers.ARP.Enabled {
		neighbors = providers.NewARPProvider(b, log)
	}

	orch, err := orchestrator.New(sched, prober, enumerate.NewNetEnumerator(log), passive, neighbors, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:     cfg,
		logger:     log,
		bus:        b,
		kv:         kv,
		reconciler: rec,
		orch:       orch,
		enrichers:  newEnrichers(cfg, b, log),
	}, nil
}

func newKVBackend(ctx context.Context, cfg Config, log logger.Logger) (devstore.KVStore, error) {
	switch cfg.Store.Backend {
	case StoreBackendNATS:
		opts, err := natsutil.Options(cfg.Store.TLS)
		if err != nil {
			return nil, fmt.Errorf("store tls: %w", err)
		}

		return devstore.NewNatsStore(ctx, cfg.Store.NATSURL, cfg.Store.Bucket, cfg.Store.TTL.Duration(), log, opts...)
	default:
		return devstore.NewFileStore(cfg.StateDir)
	}
}

func newReconciler(cfg Config, b *bus.Bus, kv devstore.KVStore, log logger.Logger) (*reconciler.Reconciler, error) {
	var filter reconciler.BroadcastFilter

	networks, err := enumerate.LocalNetworks()
	if err != nil {
		log.Warn().Err(err).Msg("Could not enumerate local networks, broadcast guard disabled")
	} else {
		filter = enumerate.NewBroadcastFilter(networks)
	}

	return reconciler.New(reconciler.Config{
		GraceWindow:     cfg.GraceWindow.Duration(),
		SweepInterval:   cfg.SweepInterval.Duration(),
		BroadcastFilter: filter,
	}, b, devstore.NewKVDeviceStore(kv), classify.NewRuleClassifier(), log)
}

func newEnrichers(cfg Config, b *bus.Bus, log logger.Logger) []providers.Provider {
	var enrichers []providers.Provider

	if cfg.Providers.PortScan.Enabled {
		enrichers = append(enrichers, providers.NewPortScanProvider(providers.PortScanConfig{
			Ports:       cfg.Providers.PortScan.Ports,
			Timeout:     cfg.Providers.PortScan.Timeout,
			Concurrency: cfg.Providers.PortScan.Concurrency,
			Cooldown:    cfg.Providers.PortScan.Cooldown,
			MaxInFlight: cfg.Providers.PortScan.MaxInFlight,
		}, b, log))
	}

	if cfg.Providers.SNMP.Enabled {
		enrichers = append(enrichers, providers.NewSNMPProvider(providers.SNMPConfig{
			Community:   cfg.Providers.SNMP.Community,
			Port:        cfg.Providers.SNMP.Port,
			Timeout:     cfg.Providers.SNMP.Timeout,
			Retries:     cfg.Providers.SNMP.Retries,
			Cooldown:    cfg.Providers.SNMP.Cooldown,
			MaxInFlight: cfg.Providers.SNMP.MaxInFlight,
		}, b, log))
	}

	if cfg.Providers.SSH.Enabled {
		enrichers = append(enrichers, providers.NewSSHProvider(providers.SSHConfig{
			Port:        cfg.Providers.SSH.Port,
			Timeout:     cfg.Providers.SSH.Timeout,
			Cooldown:    cfg.Providers.SSH.Cooldown,
			MaxInFlight: cfg.Providers.SSH.MaxInFlight,
		}, b, log))
	}

	if cfg.Providers.HTTP.Enabled {
		enrichers = append(enrichers, providers.NewHTTPProvider(providers.HTTPConfig{
			Timeout:     cfg.Providers.HTTP.Timeout,
			Cooldown:    cfg.Providers.HTTP.Cooldown,
			MaxInFlight: cfg.Providers.HTTP.MaxInFlight,
		}, b, log))
	}

	return enrichers
}

// Start brings the pipeline up: canonical state is restored, the bridge
// and providers begin running, and an initial scan is kicked off when
// configured. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	if err := e.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}

	if e.config.Bridge != nil {
		opts, err := natsutil.Options(e.config.Bridge.TLS)
		if err != nil {
			return fmt.Errorf("event bridge tls: %w", err)
		}

		bridge, nc, err := bus.NewNATSBridge(ctx, e.config.Bridge.NATSURL, e.config.Bridge.Stream, e.logger, opts...)
		if err != nil {
			return fmt.Errorf("start event bridge: %w", err)
		}

		bridge.Start(ctx, e.bus)
		e.bridge = bridge
		e.bridgeConn = nc
	}

	e.watchDiscoveries(ctx)

	for _, p := range e.enrichers {
		if err := p.Start(ctx); err != nil {
			e.logger.Warn().Err(err).Str("provider", p.Name()).Msg("Provider failed to start")
		}
	}

	if e.config.Providers.MDNS.Enabled {
		if err := e.orch.StartBonjour(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Passive discovery failed to start")
		}
	}

	e.started = true

	e.logger.Info().
		Str("store", e.config.Store.Backend).
		Int("providers", len(e.enrichers)).
		Msg("Engine started")

	if e.config.ScanOnStart {
		if _, err := e.StartScan(ctx, nil); err != nil {
			e.logger.Warn().Err(err).Msg("Initial scan failed to start")
		}
	}

	return nil
}

// Stop tears the pipeline down in reverse order. The context bounds how
// long shutdown may take; expiry abandons the remaining components.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := e.orch.Stop(); err != nil {
			e.logger.Warn().Err(err).Msg("Orchestrator stop reported an error")
		}

		for _, p := range e.enrichers {
			if err := p.Stop(); err != nil {
				e.logger.Warn().Err(err).Str("provider", p.Name()).Msg("Provider stop reported an error")
			}
		}

		if e.bridge != nil {
			e.bridge.Stop()
			e.bridgeConn.Close()
		}

		if e.logStop != nil {
			e.logStop()
			<-e.logDone
		}

		e.reconciler.Stop()
		e.bus.Close()

		if err := e.kv.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Store close reported an error")
		}
	}()

	select {
	case <-done:
		e.started = false
		e.logger.Info().Msg("Engine stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchDiscoveries logs newly discovered devices by display name.
func (e *Engine) watchDiscoveries(ctx context.Context) {
	ch, unsub := e.bus.Subscribe(false)

	ctx, cancel := context.WithCancel(ctx)
	e.logStop = cancel
	e.logDone = make(chan struct{})

	go func() {
		defer close(e.logDone)
		defer unsub()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				if !m.Canonical || m.Kind != models.MutationChange || m.Before != nil || m.After == nil {
					continue
				}

				event := e.logger.Info().
					Str("name", classify.DisplayName(m.After)).
					Str("id", m.After.ID).
					Str("source", string(m.Source))

				if m.After.Classification != nil {
					event = event.Str("kind", string(m.After.Classification.Kind))
				}

				event.Msg("Device discovered")
			}
		}
	}()
}
