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

//go:generate mockgen -destination=mock_orchestrator.go -package=orchestrator github.com/carverauto/lanscape/pkg/orchestrator Scheduler,PassiveSource,NeighborSource

// Package orchestrator sequences discovery phases across the scheduler,
// the passive browser, and the neighbor-table provider, and reports scan
// progress to observers.
package orchestrator

import (
	"context"

	"github.com/carverauto/lanscape/pkg/models"
)

// Scheduler dispatches reachability probes for a host list, invoking
// onDone once per host.
type Scheduler interface {
	Enqueue(ctx context.Context, hosts []string, cfg models.ProbeConfig, onDone func(host string, success bool))
}

// PassiveSource is a continuously running discovery provider, typically
// the multicast DNS browser. Start is non-blocking; browsing stops when
// the context is canceled or Stop is called.
type PassiveSource interface {
	Start(ctx context.Context) error
	Stop() error
}

// NeighborSource primes and re-reads the neighbor table. It is the
// active-discovery fallback on platforms without ICMP socket access.
type NeighborSource interface {
	Prime(ctx context.Context, hosts []string) error
	Refresh(ctx context.Context) error
}
