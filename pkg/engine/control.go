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

package engine

import (
	"context"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/models"
	"github.com/carverauto/lanscape/pkg/orchestrator"
)

// StartScan begins a reachability sweep. An empty host list enumerates
// the local networks. Returns the scan id.
func (e *Engine) StartScan(ctx context.Context, hosts []string) (string, error) {
	return e.orch.StartScan(ctx, orchestrator.ScanRequest{
		Hosts:         hosts,
		Probe:         e.config.Probe,
		Warmup:        e.config.Scan.Warmup.Duration(),
		AutoEnumerate: len(hosts) == 0,
		MaxAutoHosts:  e.config.Scan.MaxAutoHosts,
	})
}

// StopScan cancels the active scan, if any, and waits for it to wind
// down. Canonical device state is untouched.
func (e *Engine) StopScan() {
	e.orch.StopScan()
}

// StartBonjour turns passive mDNS discovery on.
func (e *Engine) StartBonjour(ctx context.Context) error {
	return e.orch.StartBonjour(ctx)
}

// StopBonjour turns passive mDNS discovery off.
func (e *Engine) StopBonjour() error {
	return e.orch.StopBonjour()
}

// CurrentState reports which discovery activities are running.
func (e *Engine) CurrentState() models.ControlState {
	return e.orch.CurrentState()
}

// Progress returns a copy of the active or last scan progress.
func (e *Engine) Progress() models.ScanProgress {
	return e.orch.Progress()
}

// OnProgress registers a callback invoked on every progress change.
func (e *Engine) OnProgress(fn func(models.ScanProgress)) {
	e.orch.OnProgress(fn)
}

// Snapshot returns the canonical device list.
func (e *Engine) Snapshot() []*models.Device {
	return e.reconciler.Snapshot()
}

// Device returns the canonical record for id.
func (e *Engine) Device(id string) (*models.Device, bool) {
	return e.reconciler.Device(id)
}

// Count returns the number of canonical devices.
func (e *Engine) Count() int {
	return e.reconciler.Count()
}

// AddDevice folds a manually entered device into the inventory.
func (e *Engine) AddDevice(ctx context.Context, device *models.Device) {
	e.reconciler.Upsert(ctx, device, models.SourceManual)
}

// RemoveAll clears the inventory and persists the empty state.
func (e *Engine) RemoveAll(ctx context.Context) error {
	return e.reconciler.RemoveAll(ctx)
}

// PersistenceDegraded reports whether the last persistence operation
// failed, meaning the in-memory inventory is ahead of the store.
func (e *Engine) PersistenceDegraded() bool {
	return e.reconciler.PersistenceDegraded()
}

// Bus exposes the mutation stream for additional subscribers.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}
