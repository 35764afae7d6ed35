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

package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

// defaultTCPProbePorts are tried in order; the first response ends the
// attempt. A refused connection still proves the host is up.
var defaultTCPProbePorts = []uint16{443, 80, 22, 7}

// TCPProber infers reachability from TCP connect behavior. It needs no
// privileges and works everywhere, at the cost of missing hosts that
// drop all probed ports silently.
type TCPProber struct {
	ports  []uint16
	logger logger.Logger
}

var _ Prober = (*TCPProber)(nil)

// NewTCPProber builds a connect prober. A nil or empty port list picks
// the defaults.
func NewTCPProber(ports []uint16, log logger.Logger) *TCPProber {
	if len(ports) == 0 {
		ports = defaultTCPProbePorts
	}

	return &TCPProber{ports: ports, logger: log}
}

func (p *TCPProber) Available() bool {
	return true
}

func (p *TCPProber) Probe(ctx context.Context, host string, cfg models.ProbeConfig) (<-chan models.ProbeResult, error) {
	if net.ParseIP(host) == nil {
		return nil, fmt.Errorf("%w: %q", errNotIPv4, host)
	}

	cfg = cfg.Normalized()
	ch := make(chan models.ProbeResult, cfg.Count)

	go func() {
		defer close(ch)

		for seq := 1; seq <= cfg.Count; seq++ {
			result := p.connectOnce(ctx, host, cfg.Timeout.Duration())
			result.Host = host
			result.Seq = seq

			select {
			case ch <- result:
			case <-ctx.Done():
				return
			}

			if seq == cfg.Count {
				return
			}

			select {
			case <-time.After(cfg.Interval.Duration()):
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// connectOnce tries each probe port until one yields evidence of life: a
// completed connect or an active refusal. Timeouts and unreachable
// errors move on to the next port.
func (p *TCPProber) connectOnce(ctx context.Context, host string, timeout time.Duration) models.ProbeResult {
	perPort := timeout / time.Duration(len(p.ports))
	if perPort < 50*time.Millisecond {
		perPort = 50 * time.Millisecond
	}

	start := time.Now()

	for _, port := range p.ports {
		if ctx.Err() != nil {
			return models.ProbeResult{Err: ctx.Err()}
		}

		dialCtx, cancel := context.WithTimeout(ctx, perPort)

		var dialer net.Dialer

		attempt := time.Now()
		conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))

		cancel()

		if err == nil {
			conn.Close()
			return models.ProbeResult{Success: true, RTT: time.Since(attempt)}
		}

		if errors.Is(err, syscall.ECONNREFUSED) {
			return models.ProbeResult{Success: true, RTT: time.Since(attempt)}
		}
	}

	return models.ProbeResult{Err: fmt.Errorf("%w after %s", errProbeTimeout, time.Since(start).Round(time.Millisecond))}
}
