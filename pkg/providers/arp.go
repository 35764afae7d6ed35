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
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/identity"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	procNetARP = "/proc/net/arp"

	// arpSettleDelay gives the kernel time to resolve touched hosts
	// before the table is read back.
	arpSettleDelay = 1 * time.Second

	// udpTouchPort is the discard port; the datagram only needs to
	// trigger neighbor resolution, nobody has to be listening.
	udpTouchPort = "9"
)

type neighborEntry struct {
	IP  string
	MAC string
}

// ARPProvider turns the OS neighbor table into observations. It stands
// in for ICMP probing where raw sockets are unavailable: Prime touches
// every candidate so the kernel resolves it, Refresh reads the table
// back and emits what stuck.
type ARPProvider struct {
	emitter bus.Emitter
	logger  logger.Logger
	read    func(ctx context.Context) ([]neighborEntry, error)
	settle  time.Duration
}

func NewARPProvider(emitter bus.Emitter, log logger.Logger) *ARPProvider {
	p := &ARPProvider{
		emitter: emitter,
		logger:  log,
		settle:  arpSettleDelay,
	}

	if runtime.GOOS == "linux" {
		p.read = readProcNetARP
	} else {
		p.read = readARPCommand
	}

	return p
}

func (p *ARPProvider) Name() string { return "arp" }

// Prime sends one throwaway UDP datagram per host. Resolution happens
// as a side effect in the kernel; errors on individual hosts are
// ignored.
func (p *ARPProvider) Prime(ctx context.Context, hosts []string) error {
	dialer := net.Dialer{Timeout: 200 * time.Millisecond}

	touched := 0

	for _, host := range hosts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := dialer.DialContext(ctx, "udp4", net.JoinHostPort(host, udpTouchPort))
		if err != nil {
			continue
		}

		_, _ = conn.Write([]byte{0})
		_ = conn.Close()

		touched++
	}

	p.logger.Debug().Int("touched", touched).Int("hosts", len(hosts)).Msg("Neighbor table primed")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.settle):
	}

	return nil
}

// Refresh reads the neighbor table and emits an observation per
// resolved entry.
func (p *ARPProvider) Refresh(ctx context.Context) error {
	entries, err := p.read(ctx)
	if err != nil {
		return fmt.Errorf("read neighbor table: %w", err)
	}

	emitted := 0

	for _, entry := range entries {
		ip := net.ParseIP(entry.IP)
		if ip == nil || ip.IsMulticast() || ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}

		mac, ok := identity.NormalizeMAC(entry.MAC)
		if !ok {
			continue
		}

		device := &models.Device{
			PrimaryIP:        entry.IP,
			IPs:              []string{entry.IP},
			MAC:              mac,
			DiscoverySources: []models.DiscoverySource{models.SourceARP},
		}

		p.emitter.Emit(models.NewChange(nil, device, nil, models.SourceARP))

		emitted++
	}

	p.logger.Debug().Int("entries", emitted).Msg("Neighbor table refreshed")

	return nil
}

func readProcNetARP(_ context.Context) ([]neighborEntry, error) {
	f, err := os.Open(procNetARP)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseProcNetARP(f), nil
}

func readARPCommand(ctx context.Context) ([]neighborEntry, error) {
	out, err := exec.CommandContext(ctx, "arp", "-an").Output()
	if err != nil {
		return nil, err
	}

	return parseARPOutput(strings.NewReader(string(out))), nil
}

// parseProcNetARP reads the Linux neighbor table format:
//
//	IP address  HW type  Flags  HW address  Mask  Device
//
// Flags 0x0 marks an incomplete entry.
func parseProcNetARP(r io.Reader) []neighborEntry {
	var entries []neighborEntry

	scanner := bufio.NewScanner(r)

	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}

		if fields[2] == "0x0" || fields[3] == "00:00:00:00:00:00" {
			continue
		}

		if net.ParseIP(fields[0]) == nil {
			continue
		}

		entries = append(entries, neighborEntry{IP: fields[0], MAC: fields[3]})
	}

	return entries
}

// parseARPOutput reads `arp -an` lines:
//
//	? (192.168.1.1) at a0:b1:c2:d3:e4:f5 on en0 ifscope [ethernet]
//
// BSD arp prints single-digit hex groups, so groups are zero-padded
// before validation.
func parseARPOutput(r io.Reader) []neighborEntry {
	var entries []neighborEntry

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()

		open := strings.Index(line, "(")
		closing := strings.Index(line, ")")

		if open < 0 || closing <= open {
			continue
		}

		ip := line[open+1 : closing]
		if net.ParseIP(ip) == nil {
			continue
		}

		rest := line[closing+1:]

		atIdx := strings.Index(rest, " at ")
		if atIdx < 0 {
			continue
		}

		mac := strings.Fields(rest[atIdx+4:])
		if len(mac) == 0 || strings.Contains(mac[0], "incomplete") {
			continue
		}

		entries = append(entries, neighborEntry{IP: ip, MAC: padMACGroups(mac[0])})
	}

	return entries
}

func padMACGroups(mac string) string {
	groups := strings.Split(mac, ":")

	for i, g := range groups {
		if len(g) == 1 {
			groups[i] = "0" + g
		}
	}

	return strings.Join(groups, ":")
}
