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
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	mdnsDomain = "local."

	// DefaultMDNSWindow is how long one browse round listens per
	// service type.
	DefaultMDNSWindow = 12 * time.Second

	// DefaultMDNSInterval is the pause between browse rounds.
	DefaultMDNSInterval = 2 * time.Minute
)

// DefaultMDNSServices covers the service types LAN devices commonly
// advertise.
var DefaultMDNSServices = []string{
	"_workstation._tcp",
	"_ssh._tcp",
	"_smb._tcp",
	"_afpovertcp._tcp",
	"_ipp._tcp",
	"_printer._tcp",
	"_airplay._tcp",
	"_raop._tcp",
	"_googlecast._tcp",
	"_hap._tcp",
	"_http._tcp",
	"_rfb._tcp",
}

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the multicast browser.
type MDNSConfig struct {
	Services []string
	Window   models.Duration
	Interval models.Duration

	// browseFn overrides the zeroconf resolver, for tests.
	browseFn browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c

	if len(out.Services) == 0 {
		out.Services = DefaultMDNSServices
	}

	if out.Window.Duration() <= 0 {
		out.Window = models.Duration(DefaultMDNSWindow)
	}

	if out.Interval.Duration() <= 0 {
		out.Interval = models.Duration(DefaultMDNSInterval)
	}

	return out
}

// MDNSProvider browses multicast DNS and emits an observation for every
// advertisement carrying an IPv4 address.
type MDNSProvider struct {
	cfg     MDNSConfig
	emitter bus.Emitter
	logger  logger.Logger
	browse  browseFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMDNSProvider(cfg MDNSConfig, emitter bus.Emitter, log logger.Logger) *MDNSProvider {
	cfg = cfg.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		browse = func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return err
			}

			return resolver.Browse(ctx, service, domain, entries)
		}
	}

	return &MDNSProvider{
		cfg:     cfg,
		emitter: emitter,
		logger:  log,
		browse:  browse,
	}
}

func (p *MDNSProvider) Name() string { return "mdns" }

// Start launches the browse loop. Idempotent while running.
func (p *MDNSProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)

	go p.run(runCtx)

	return nil
}

func (p *MDNSProvider) Stop() error {
	p.mu.Lock()

	cancel := p.cancel
	p.cancel = nil

	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	p.wg.Wait()

	return nil
}

func (p *MDNSProvider) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		p.browseRound(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.Interval.Duration()):
		}
	}
}

// browseRound listens on every configured service type for one window.
func (p *MDNSProvider) browseRound(ctx context.Context) {
	windowCtx, cancel := context.WithTimeout(ctx, p.cfg.Window.Duration())
	defer cancel()

	var wg sync.WaitGroup

	for _, service := range p.cfg.Services {
		entries := make(chan *zeroconf.ServiceEntry, 32)

		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case <-windowCtx.Done():
					return
				case entry, ok := <-entries:
					if !ok {
						return
					}

					if entry == nil {
						continue
					}

					p.observe(entry)
				}
			}
		}()

		if err := p.browse(windowCtx, service, mdnsDomain, entries); err != nil {
			p.logger.Debug().Err(err).Str("service", service).Msg("mDNS browse failed")
		}
	}

	<-windowCtx.Done()
	wg.Wait()
}

func (p *MDNSProvider) observe(entry *zeroconf.ServiceEntry) {
	device, ok := deviceFromEntry(entry)
	if !ok {
		return
	}

	p.emitter.Emit(models.NewChange(nil, device, nil, models.SourceMDNS))
}

// deviceFromEntry maps one advertisement to an observation. Entries
// without an IPv4 address are skipped.
func deviceFromEntry(entry *zeroconf.ServiceEntry) (*models.Device, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return nil, false
	}

	ip := entry.AddrIPv4[0].String()

	device := &models.Device{
		PrimaryIP:        ip,
		IPs:              []string{ip},
		Hostname:         strings.TrimSuffix(strings.TrimSpace(entry.HostName), "."),
		DiscoverySources: []models.DiscoverySource{models.SourceMDNS},
	}

	if entry.Service != "" && entry.Port > 0 {
		device.Services = []models.Service{{
			Type: entry.Service,
			Port: uint16(entry.Port),
			Name: strings.TrimSpace(entry.Instance),
		}}
	}

	if len(entry.Text) > 0 {
		device.Fingerprints = make(map[string]string, len(entry.Text))

		for _, txt := range entry.Text {
			key, value, _ := strings.Cut(txt, "=")
			if key = strings.TrimSpace(key); key != "" {
				device.Fingerprints["mdns."+key] = strings.TrimSpace(value)
			}
		}
	}

	return device, true
}
