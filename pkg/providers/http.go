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
	"crypto/tls"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	defaultHTTPTimeout = 4 * time.Second

	maxBodyPeek  = 64 * 1024
	maxTitleLen  = 120
	maxRedirects = 3
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>\s*(.*?)\s*</title>`)

// HTTPConfig controls the web metadata probe.
type HTTPConfig struct {
	Timeout     models.Duration
	Cooldown    models.Duration
	MaxInFlight int
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	out := c

	if out.Timeout.Duration() <= 0 {
		out.Timeout = models.Duration(defaultHTTPTimeout)
	}

	return out
}

// HTTPProvider fetches the landing page of devices exposing a web UI
// and keeps the Server header, page title, and TLS certificate subject
// as fingerprints.
type HTTPProvider struct {
	cfg     HTTPConfig
	stream  MutationStream
	logger  logger.Logger
	client  *http.Client
	reactor *reactor
}

func NewHTTPProvider(cfg HTTPConfig, stream MutationStream, log logger.Logger) *HTTPProvider {
	cfg = cfg.withDefaults()

	p := &HTTPProvider{
		cfg:    cfg,
		stream: stream,
		logger: log,
		client: &http.Client{
			Timeout: cfg.Timeout.Duration(),
			Transport: &http.Transport{
				// LAN devices ship self-signed certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}

				return nil
			},
		},
	}

	p.reactor = newReactor(
		p.Name(),
		stream,
		cfg.Cooldown.Duration(),
		cfg.MaxInFlight,
		models.SourceHTTP,
		p.probeDevice,
		log,
	)

	return p
}

var _ Provider = (*HTTPProvider)(nil)

func (p *HTTPProvider) Name() string { return "httpmeta" }

func (p *HTTPProvider) Start(ctx context.Context) error { return p.reactor.start(ctx) }

func (p *HTTPProvider) Stop() error { return p.reactor.stop() }

func (p *HTTPProvider) probeDevice(ctx context.Context, device *models.Device) {
	fingerprints := p.fetch(ctx, "https://"+device.PrimaryIP+"/")
	if fingerprints == nil {
		fingerprints = p.fetch(ctx, "http://"+device.PrimaryIP+"/")
	}

	if len(fingerprints) == 0 {
		return
	}

	observation := &models.Device{
		PrimaryIP:        device.PrimaryIP,
		IPs:              []string{device.PrimaryIP},
		DiscoverySources: []models.DiscoverySource{models.SourceHTTP},
		Fingerprints:     fingerprints,
	}

	p.stream.Emit(models.NewChange(nil, observation, nil, models.SourceHTTP))
}

// fetch returns the fingerprints found at url, or nil when the endpoint
// was unreachable.
func (p *HTTPProvider) fetch(ctx context.Context, url string) map[string]string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", url).Msg("Web probe failed")
		return nil
	}
	defer resp.Body.Close()

	fingerprints := make(map[string]string)

	if server := strings.TrimSpace(resp.Header.Get("Server")); server != "" {
		fingerprints["http.server"] = server
	}

	if title := extractTitle(resp.Body); title != "" {
		fingerprints["http.title"] = title
	}

	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		if subject := resp.TLS.PeerCertificates[0].Subject.CommonName; subject != "" {
			fingerprints["tls.subject"] = subject
		}
	}

	return fingerprints
}

// extractTitle scans the first chunk of the body for an HTML title.
func extractTitle(body io.Reader) string {
	peek, err := io.ReadAll(io.LimitReader(body, maxBodyPeek))
	if err != nil && len(peek) == 0 {
		return ""
	}

	match := titlePattern.FindSubmatch(peek)
	if match == nil {
		return ""
	}

	title := html.UnescapeString(strings.Join(strings.Fields(string(match[1])), " "))
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}

	return title
}
