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

//go:generate mockgen -destination=mock_prober.go -package=probe github.com/carverauto/lanscape/pkg/probe Prober

// Package probe implements host reachability probing. The ICMP prober
// prefers unprivileged datagram sockets and falls back to raw sockets;
// the TCP prober infers liveness from connect results on a few common
// ports when ICMP is not usable at all.
package probe

import (
	"context"

	"github.com/carverauto/lanscape/pkg/models"
)

// Prober runs a reachability probe sequence against one host and streams
// one result per attempt. The channel closes after the last attempt or
// when the context is canceled.
type Prober interface {
	Probe(ctx context.Context, host string, cfg models.ProbeConfig) (<-chan models.ProbeResult, error)

	// Available reports whether this prober can operate with the current
	// platform and privileges.
	Available() bool
}
