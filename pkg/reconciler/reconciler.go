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

// Package reconciler owns the canonical device collection. It folds raw
// observations from the mutation bus (or direct Upsert calls) into one
// record per device, persists after every accepted merge, and re-emits
// the canonical result so downstream subscribers never see raw input.
// All folds are serialized through a single mutex, so no two mutations
// are ever merged concurrently.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/devstore"
	"github.com/carverauto/lanscape/pkg/identity"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	// DefaultGraceWindow is how long after the last observation a device
	// still counts as online.
	DefaultGraceWindow = 90 * time.Second

	// DefaultSweepInterval is how often the offline sweep runs.
	DefaultSweepInterval = 30 * time.Second
)

var (
	errNilBus   = errors.New("reconciler requires a mutation bus")
	errNilStore = errors.New("reconciler requires a device store")
)

// classificationFields is the subset of changed fields that triggers a
// classification recompute. Fingerprint-only merges are deliberately
// excluded so frequent enrichment probes cannot cause recompute storms.
var classificationFields = []string{
	models.FieldHostname,
	models.FieldVendor,
	models.FieldServices,
	models.FieldOpenPorts,
	models.FieldDiscoverySources,
}

// Classifier derives a device category from a merged record. It must be
// a pure function of its input.
type Classifier interface {
	Classify(d *models.Device) *models.Classification
}

// BroadcastFilter reports whether an address is a network or broadcast
// address that active probing must never turn into a device.
type BroadcastFilter func(ip string) bool

// Config carries reconciler tuning. Zero values pick the defaults.
type Config struct {
	StoreKey      string
	GraceWindow   time.Duration
	SweepInterval time.Duration

	// BroadcastFilter guards reachability-probe results. Nil disables
	// the guard.
	BroadcastFilter BroadcastFilter
}

func (c Config) withDefaults() Config {
	if c.StoreKey == "" {
		c.StoreKey = devstore.DefaultKey
	}

	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}

	return c
}

// Reconciler folds observations into canonical device state.
type Reconciler struct {
	config     Config
	bus        *bus.Bus
	store      devstore.Store
	classifier Classifier
	logger     logger.Logger

	// foldMu serializes every fold (merge + persist + emit). It is the
	// single-writer discipline for canonical state.
	foldMu sync.Mutex

	// mu guards the map and order slice for concurrent readers.
	mu      sync.RWMutex
	devices map[string]*models.Device
	order   []string

	degraded atomic.Bool

	now func() time.Time

	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup
}

// New builds a reconciler. The classifier may be nil, in which case no
// classification is ever computed.
func New(cfg Config, b *bus.Bus, store devstore.Store, classifier Classifier, log logger.Logger) (*Reconciler, error) {
	if b == nil {
		return nil, errNilBus
	}

	if store == nil {
		return nil, errNilStore
	}

	return &Reconciler{
		config:     cfg.withDefaults(),
		bus:        b,
		store:      store,
		classifier: classifier,
		logger:     log,
		devices:    make(map[string]*models.Device),
		now:        time.Now,
	}, nil
}

// Start loads persisted state, replays it as a snapshot for subscribers,
// and begins consuming raw mutations from the bus plus running the
// offline sweep. Load failures are non-fatal: the reconciler starts
// empty and flags persistence as degraded.
func (r *Reconciler) Start(ctx context.Context) error {
	loaded, err := r.store.Load(ctx, r.config.StoreKey)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to load persisted devices, starting empty")
		r.degraded.Store(true)

		loaded = nil
	}

	r.mu.Lock()
	for _, d := range loaded {
		if d == nil || d.ID == "" {
			continue
		}

		d.OpenPorts = models.NormalizePorts(d.OpenPorts)
		d.Services = models.NormalizeServices(d.Services)

		if _, ok := r.devices[d.ID]; !ok {
			r.order = append(r.order, d.ID)
		}

		r.devices[d.ID] = d
	}
	r.mu.Unlock()

	snapshot := models.NewSnapshot(r.Snapshot())
	snapshot.Canonical = true
	r.bus.Emit(snapshot)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ch, unsub := r.bus.Subscribe(false)
	r.unsub = unsub

	r.wg.Add(2)

	go r.consume(runCtx, ch)
	go r.runOfflineSweep(runCtx)

	r.logger.Info().
		Int("devices", r.Count()).
		Dur("grace_window", r.config.GraceWindow).
		Msg("Reconciler started")

	return nil
}

// Stop cancels the consume loop and the offline sweep and waits for both
// to finish. Safe to call once after a successful Start.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}

	if r.unsub != nil {
		r.unsub()
	}

	r.wg.Wait()

	r.logger.Info().Msg("Reconciler stopped")
}

// Upsert folds one observation directly, bypassing the bus. Providers
// that already hold a full device object use this path; the canonical
// result is still re-emitted on the bus.
func (r *Reconciler) Upsert(ctx context.Context, observed *models.Device, source models.DiscoverySource) {
	if observed == nil {
		return
	}

	r.fold(ctx, observed, source)
}

// RemoveAll clears canonical state, persists the empty list, and emits
// an empty snapshot. The returned error only reports persistence
// trouble; in-memory state is cleared regardless.
func (r *Reconciler) RemoveAll(ctx context.Context) error {
	r.foldMu.Lock()
	defer r.foldMu.Unlock()

	r.mu.Lock()
	r.devices = make(map[string]*models.Device)
	r.order = nil
	r.mu.Unlock()

	err := r.persist(ctx)

	snapshot := models.NewSnapshot([]*models.Device{})
	snapshot.Canonical = true
	r.bus.Emit(snapshot)

	r.logger.Info().Msg("Canonical device state cleared")

	return err
}

// Snapshot returns a deep copy of the canonical collection in stable
// first-discovery order.
func (r *Reconciler) Snapshot() []*models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Device, 0, len(r.order))

	for _, id := range r.order {
		if d, ok := r.devices[id]; ok {
			out = append(out, d.Clone())
		}
	}

	return out
}

// Device returns a deep copy of one canonical record.
func (r *Reconciler) Device(id string) (*models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}

	return d.Clone(), true
}

// Count reports the number of canonical devices.
func (r *Reconciler) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.devices)
}

// PersistenceDegraded reports whether the most recent save or load
// failed. It clears on the next successful save.
func (r *Reconciler) PersistenceDegraded() bool {
	return r.degraded.Load()
}

// consume reads raw mutations from the bus and folds them. Canonical
// mutations are skipped so the reconciler never re-processes its own
// output; snapshot mutations are only ever produced by the reconciler
// itself and are skipped for the same reason.
func (r *Reconciler) consume(ctx context.Context, ch <-chan models.Mutation) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			if m.Canonical || m.Kind != models.MutationChange || m.After == nil {
				continue
			}

			r.fold(ctx, m.After, m.Source)
		}
	}
}

// fold is the serialized merge path: resolve identity, create or merge,
// classify when triggered, persist, and re-emit the canonical change.
func (r *Reconciler) fold(ctx context.Context, observed *models.Device, source models.DiscoverySource) {
	r.foldMu.Lock()
	defer r.foldMu.Unlock()

	if r.discardBroadcast(observed, source) {
		return
	}

	obsTime := r.now()
	id, kind := identity.Resolve(observed)

	r.mu.RLock()
	current := r.devices[id]
	r.mu.RUnlock()

	var (
		before  *models.Device
		after   *models.Device
		changed []string
	)

	if current == nil {
		after, changed = newDeviceFromObservation(observed, id, obsTime)

		r.logger.Info().
			Str("device_id", id).
			Str("identity", string(kind)).
			Str("source", string(source)).
			Msg("Device discovered")
	} else {
		before = current
		after, changed = mergeObservation(current, observed, obsTime)

		if len(changed) == 0 {
			return
		}
	}

	if r.classifier != nil && intersects(changed, classificationFields) {
		cls := r.classifier.Classify(after)
		if !classificationEqual(after.Classification, cls) {
			after.Classification = cls
			changed = append(changed, models.FieldClassification)
		}
	}

	r.mu.Lock()
	if current == nil {
		r.order = append(r.order, id)
	}

	r.devices[id] = after
	r.mu.Unlock()

	if err := r.persist(ctx); err != nil {
		r.logger.Error().Err(err).Str("device_id", id).Msg("Failed to persist device inventory")
	}

	change := models.NewChange(before, after.Clone(), changed, source)
	change.Canonical = true
	r.bus.Emit(change)
}

// discardBroadcast applies the phantom-device guard: a successful
// reachability probe aimed at a network or broadcast address is dropped
// before it can create or touch a record.
func (r *Reconciler) discardBroadcast(observed *models.Device, source models.DiscoverySource) bool {
	if r.config.BroadcastFilter == nil {
		return false
	}

	if source != models.SourcePing && source != models.SourceARP {
		return false
	}

	if observed.PrimaryIP == "" || !r.config.BroadcastFilter(observed.PrimaryIP) {
		return false
	}

	r.logger.Debug().
		Str("ip", observed.PrimaryIP).
		Str("source", string(source)).
		Msg("Discarding probe result for broadcast address")

	return true
}

// persist saves the full canonical list under the configured key and
// tracks the degraded flag. Called inside the fold lock so saves are
// strictly ordered with merges.
func (r *Reconciler) persist(ctx context.Context) error {
	err := r.store.Save(ctx, r.config.StoreKey, r.Snapshot())
	r.degraded.Store(err != nil)

	return err
}

// runOfflineSweep periodically flips the liveness override to false for
// devices whose last observation fell out of the grace window. This is
// the only path that changes liveness without a new observation.
func (r *Reconciler) runOfflineSweep(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOffline(ctx)
		}
	}
}

func (r *Reconciler) sweepOffline(ctx context.Context) {
	r.foldMu.Lock()
	defer r.foldMu.Unlock()

	now := r.now()

	r.mu.RLock()
	var stale []string

	for id, d := range r.devices {
		if d.OnlineOverride != nil || d.LastSeen.IsZero() {
			continue
		}

		if now.Sub(d.LastSeen) > r.config.GraceWindow {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.mu.Lock()
		before := r.devices[id]
		after := before.Clone()
		offline := false
		after.OnlineOverride = &offline
		r.devices[id] = after
		r.mu.Unlock()

		if err := r.persist(ctx); err != nil {
			r.logger.Error().Err(err).Str("device_id", id).Msg("Failed to persist offline sweep")
		}

		change := models.NewChange(before, after.Clone(), []string{models.FieldOnlineOverride}, "")
		change.Canonical = true
		r.bus.Emit(change)

		r.logger.Debug().Str("device_id", id).Msg("Device marked offline by sweep")
	}
}

func intersects(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}

	return false
}
