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
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	defaultSSHPort    = 22
	defaultSSHTimeout = 3 * time.Second

	maxBannerLen = 256
)

var errNotSSHBanner = errors.New("no ssh identification string")

// SSHConfig controls the banner and host-key capture.
type SSHConfig struct {
	Port        uint16
	Timeout     models.Duration
	Cooldown    models.Duration
	MaxInFlight int
}

func (c SSHConfig) withDefaults() SSHConfig {
	out := c

	if out.Port == 0 {
		out.Port = defaultSSHPort
	}

	if out.Timeout.Duration() <= 0 {
		out.Timeout = models.Duration(defaultSSHTimeout)
	}

	return out
}

// SSHProvider records the server identification string and host-key
// fingerprint of devices exposing SSH. It never authenticates.
type SSHProvider struct {
	cfg     SSHConfig
	stream  MutationStream
	logger  logger.Logger
	reactor *reactor
}

func NewSSHProvider(cfg SSHConfig, stream MutationStream, log logger.Logger) *SSHProvider {
	p := &SSHProvider{
		cfg:    cfg.withDefaults(),
		stream: stream,
		logger: log,
	}

	p.reactor = newReactor(
		p.Name(),
		stream,
		cfg.Cooldown.Duration(),
		cfg.MaxInFlight,
		models.SourceSSH,
		p.probeDevice,
		log,
	)

	return p
}

var _ Provider = (*SSHProvider)(nil)

func (p *SSHProvider) Name() string { return "sshmeta" }

func (p *SSHProvider) Start(ctx context.Context) error { return p.reactor.start(ctx) }

func (p *SSHProvider) Stop() error { return p.reactor.stop() }

func (p *SSHProvider) probeDevice(ctx context.Context, device *models.Device) {
	addr := net.JoinHostPort(device.PrimaryIP, strconv.Itoa(int(p.cfg.Port)))

	banner, err := p.readBanner(ctx, addr)
	if err != nil {
		p.logger.Debug().Err(err).Str("ip", device.PrimaryIP).Msg("SSH banner read failed")
		return
	}

	observation := &models.Device{
		PrimaryIP:        device.PrimaryIP,
		IPs:              []string{device.PrimaryIP},
		DiscoverySources: []models.DiscoverySource{models.SourceSSH},
		Fingerprints:     map[string]string{"ssh.banner": banner},
		Services: []models.Service{{
			Type: "ssh",
			Port: p.cfg.Port,
		}},
	}

	if fingerprint := p.captureHostKey(ctx, addr); fingerprint != "" {
		observation.Fingerprints["ssh.hostkey"] = fingerprint
	}

	p.stream.Emit(models.NewChange(nil, observation, nil, models.SourceSSH))
}

// readBanner reads the identification string the server sends first.
func (p *SSHProvider) readBanner(ctx context.Context, addr string) (string, error) {
	dialer := net.Dialer{Timeout: p.cfg.Timeout.Duration()}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(p.cfg.Timeout.Duration()))

	line, err := bufio.NewReader(io.LimitReader(conn, maxBannerLen)).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}

	banner := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(banner, "SSH-") {
		return "", errNotSSHBanner
	}

	return banner, nil
}

// captureHostKey runs the key exchange far enough to observe the host
// key. The handshake then fails at authentication, which is fine.
func (p *SSHProvider) captureHostKey(ctx context.Context, addr string) string {
	var fingerprint string

	config := &ssh.ClientConfig{
		User:    "lanscape",
		Auth:    []ssh.AuthMethod{},
		Timeout: p.cfg.Timeout.Duration(),
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			fingerprint = ssh.FingerprintSHA256(key)
			return nil
		},
	}

	dialer := net.Dialer{Timeout: config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ""
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(config.Timeout))

	client, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return fingerprint
	}

	// Some servers accept none-auth; close the session immediately.
	go ssh.DiscardRequests(reqs)

	go func() {
		for ch := range chans {
			_ = ch.Reject(ssh.Prohibited, "")
		}
	}()

	_ = client.Close()

	return fingerprint
}
