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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	protocolICMP  = 1
	identifierMod = 65536
	tokenLen      = 8
	replyBufSize  = 1500
)

var (
	errICMPUnavailable = errors.New("icmp probing unavailable on this host")
	errNotIPv4         = errors.New("probe target is not an IPv4 address")
	errProbeTimeout    = errors.New("probe timed out")
)

// ICMPProber sends echo requests over a per-probe socket. Each Probe call
// owns its own listener, so concurrent probes never have to demultiplex
// each other's replies; a payload token guards against strays anyway.
type ICMPProber struct {
	available  bool
	privileged bool
	logger     logger.Logger
	nonce      atomic.Uint64
}

var _ Prober = (*ICMPProber)(nil)

// NewICMPProber detects which socket mode works here. Unprivileged
// datagram ICMP is tried first; raw sockets need elevated privileges.
func NewICMPProber(log logger.Logger) *ICMPProber {
	p := &ICMPProber{logger: log}

	conn, privileged, err := listenICMP()
	if err != nil {
		log.Warn().Err(err).Msg("ICMP probing unavailable, reachability will fall back")
		return p
	}

	conn.Close()

	p.available = true
	p.privileged = privileged

	if privileged {
		log.Debug().Msg("ICMP prober using raw sockets")
	} else {
		log.Debug().Msg("ICMP prober using unprivileged datagram sockets")
	}

	return p
}

func (p *ICMPProber) Available() bool {
	return p.available
}

func (p *ICMPProber) Probe(ctx context.Context, host string, cfg models.ProbeConfig) (<-chan models.ProbeResult, error) {
	if !p.available {
		return nil, errICMPUnavailable
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q", errNotIPv4, host)
	}

	conn, privileged, err := listenICMP()
	if err != nil {
		return nil, fmt.Errorf("failed to open icmp socket: %w", err)
	}

	cfg = cfg.Normalized()
	ch := make(chan models.ProbeResult, cfg.Count)

	go func() {
		defer close(ch)
		defer conn.Close()

		id := int(time.Now().UnixNano() % identifierMod)

		token := make([]byte, tokenLen)
		binary.BigEndian.PutUint64(token, p.nonce.Add(1)^uint64(time.Now().UnixNano()))

		for seq := 1; seq <= cfg.Count; seq++ {
			result := pingOnce(conn, privileged, ip.To4(), id, seq, token, cfg.Timeout.Duration())
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

// listenICMP opens an ICMP listener, preferring the unprivileged
// datagram flavor. The second return reports raw-socket (privileged)
// mode, which changes the destination address family on writes.
func listenICMP() (*icmp.PacketConn, bool, error) {
	conn, dgramErr := icmp.ListenPacket("udp4", "0.0.0.0")
	if dgramErr == nil {
		return conn, false, nil
	}

	conn, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr == nil {
		return conn, true, nil
	}

	return nil, false, errors.Join(dgramErr, rawErr)
}

func pingOnce(conn *icmp.PacketConn, privileged bool, ip net.IP, id, seq int, token []byte, timeout time.Duration) models.ProbeResult {
	msg, err := buildEchoRequest(id, seq, token)
	if err != nil {
		return models.ProbeResult{Err: err}
	}

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if privileged {
		dst = &net.IPAddr{IP: ip}
	}

	start := time.Now()

	if _, err := conn.WriteTo(msg, dst); err != nil {
		return models.ProbeResult{Err: fmt.Errorf("echo send failed: %w", err)}
	}

	if err := conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return models.ProbeResult{Err: err}
	}

	buf := make([]byte, replyBufSize)

	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return models.ProbeResult{Err: errProbeTimeout}
		}

		if gotSeq, ok := parseEchoReply(buf[:n], token); ok && gotSeq == seq {
			return models.ProbeResult{Success: true, RTT: time.Since(start)}
		}
	}
}

func buildEchoRequest(id, seq int, token []byte) ([]byte, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: token,
		},
	}

	data, err := msg.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal echo request: %w", err)
	}

	return data, nil
}

// parseEchoReply extracts the sequence number from an echo reply whose
// payload starts with our token. Unprivileged sockets rewrite the echo
// identifier, so the token is the reliable correlator.
func parseEchoReply(buf, token []byte) (int, bool) {
	msg, err := icmp.ParseMessage(protocolICMP, buf)
	if err != nil {
		return 0, false
	}

	if msg.Type != ipv4.ICMPTypeEchoReply {
		return 0, false
	}

	echo, ok := msg.Body.(*icmp.Echo)
	if !ok || len(echo.Data) < len(token) {
		return 0, false
	}

	if !bytes.Equal(echo.Data[:len(token)], token) {
		return 0, false
	}

	return echo.Seq, true
}
