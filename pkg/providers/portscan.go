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

package providers

import (
	"context"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

// DefaultScanPorts is the connect-scan port set, biased toward ports
// that identify a device class.
var DefaultScanPorts = []uint16{
	22, 53, 80, 139, 443, 445, 515, 548, 554, 631,
	1883, 3389, 5000, 5900, 8080, 8443, 9100,
}

// wellKnownServices names the ports worth surfacing as services.
var wellKnownServices = map[uint16]string{
	22:   "ssh",
	53:   "dns",
	80:   "http",
	443:  "https",
	445:  "smb",
	548:  "afp",
	554:  "rtsp",
	631:  "ipp",
	1883: "mqtt",
	3389: "rdp",
	5900: "vnc",
	8080: "http",
	9100: "jetdirect",
}

const (
	defaultPortScanTimeout     = 500 * time.Millisecond
	defaultPortScanConcurrency = 8
)

// PortScanConfig controls the connect scanner.
type PortScanConfig struct {
	Ports       []uint16
	Timeout     models.Duration
	Concurrency int
	Cooldown    models.Duration
	MaxInFlight int
}

func (c PortScanConfig) withDefaults() PortScanConfig {
	out := c

	if len(out.Ports) == 0 {
		out.Ports = DefaultScanPorts
	}

	if out.Timeout.Duration() <= 0 {
		out.Timeout = models.Duration(defaultPortScanTimeout)
	}

	if out.Concurrency <= 0 {
		out.Concurrency = defaultPortScanConcurrency
	}

	return out
}

// PortScanProvider connect-scans newly seen devices and reports their
// open ports.
type PortScanProvider struct {
	cfg     PortScanConfig
	stream  MutationStream
	logger  logger.Logger
	reactor *reactor
}

func NewPortScanProvider(cfg PortScanConfig, stream MutationStream, log logger.Logger) *PortScanProvider {
	p := &PortScanProvider{
		cfg:    cfg.withDefaults(),
		stream: stream,
		logger: log,
	}

	p.reactor = newReactor(
		p.Name(),
		stream,
		cfg.Cooldown.Duration(),
		cfg.MaxInFlight,
		models.SourcePortScan,
		p.scanDevice,
		log,
	)

	return p
}

var _ Provider = (*PortScanProvider)(nil)

func (p *PortScanProvider) Name() string { return "portscan" }

func (p *PortScanProvider) Start(ctx context.Context) error { return p.reactor.start(ctx) }

func (p *PortScanProvider) Stop() error { return p.reactor.stop() }

func (p *PortScanProvider) scanDevice(ctx context.Context, device *models.Device) {
	open := p.scanPorts(ctx, device.PrimaryIP)
	if len(open) == 0 {
		return
	}

	p.logger.Debug().Str("ip", device.PrimaryIP).Ints("ports", portsToInts(open)).Msg("Open ports found")

	p.stream.Emit(models.NewChange(nil, observationFromPorts(device.PrimaryIP, open), nil, models.SourcePortScan))
}

// observationFromPorts builds the observation for a scanned host,
// naming the ports that identify a service.
func observationFromPorts(ip string, open []uint16) *models.Device {
	observation := &models.Device{
		PrimaryIP:        ip,
		IPs:              []string{ip},
		DiscoverySources: []models.DiscoverySource{models.SourcePortScan},
	}

	for _, port := range open {
		observation.OpenPorts = append(observation.OpenPorts, models.Port{
			Number: port,
			Status: models.PortOpen,
		})

		if name, ok := wellKnownServices[port]; ok {
			observation.Services = append(observation.Services, models.Service{
				Type: name,
				Port: port,
			})
		}
	}

	return observation
}

// scanPorts dials every configured port with a bounded worker pool and
// returns the open ones sorted.
func (p *PortScanProvider) scanPorts(ctx context.Context, host string) []uint16 {
	workers := p.cfg.Concurrency
	if len(p.cfg.Ports) < workers {
		workers = len(p.cfg.Ports)
	}

	portCh := make(chan uint16)
	resultCh := make(chan uint16, len(p.cfg.Ports))

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			dialer := &net.Dialer{}

			for port := range portCh {
				if p.checkPort(ctx, dialer, host, port) {
					resultCh <- port
				}
			}
		}()
	}

feed:
	for _, port := range p.cfg.Ports {
		select {
		case portCh <- port:
		case <-ctx.Done():
			break feed
		}
	}

	close(portCh)
	wg.Wait()
	close(resultCh)

	open := make([]uint16, 0, len(resultCh))
	for port := range resultCh {
		open = append(open, port)
	}

	slices.Sort(open)

	return open
}

func (p *PortScanProvider) checkPort(ctx context.Context, dialer *net.Dialer, host string, port uint16) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout.Duration())
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

func portsToInts(ports []uint16) []int {
	out := make([]int, len(ports))
	for i, p := range ports {
		out[i] = int(p)
	}

	return out
}
