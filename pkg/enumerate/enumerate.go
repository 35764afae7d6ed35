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

// Package enumerate derives candidate probe targets from the attached
// IPv4 networks. It also knows which addresses are network or broadcast
// addresses, so active probing can refuse to manufacture phantom
// devices for them.
package enumerate

import (
	"context"
	"fmt"
	"net"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/carverauto/lanscape/pkg/logger"
)

// DefaultMaxHosts caps auto-enumeration when the caller supplies no
// bound.
const DefaultMaxHosts = 256

// Enumerator produces candidate host addresses for an active sweep.
type Enumerator interface {
	Enumerate(ctx context.Context, maxHosts int) ([]string, error)
}

// NetEnumerator walks the machine's up, non-loopback interfaces and
// expands their IPv4 subnets.
type NetEnumerator struct {
	logger     logger.Logger
	interfaces func() (psnet.InterfaceStatList, error)
}

var _ Enumerator = (*NetEnumerator)(nil)

func NewNetEnumerator(log logger.Logger) *NetEnumerator {
	return &NetEnumerator{
		logger:     log,
		interfaces: psnet.Interfaces,
	}
}

// Enumerate returns up to maxHosts candidate addresses across all
// eligible interfaces, network and broadcast addresses excluded.
func (e *NetEnumerator) Enumerate(_ context.Context, maxHosts int) ([]string, error) {
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}

	ifaces, err := e.interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	seen := make(map[string]struct{})

	var hosts []string

	for _, iface := range ifaces {
		if !eligibleInterface(iface) {
			continue
		}

		for _, addr := range iface.Addrs {
			ipnet := parseIPv4Net(addr.Addr)
			if ipnet == nil {
				continue
			}

			for _, host := range expandBounded(ipnet, maxHosts-len(hosts)) {
				if _, dup := seen[host]; dup {
					continue
				}

				seen[host] = struct{}{}

				hosts = append(hosts, host)
			}

			if len(hosts) >= maxHosts {
				e.logger.Debug().
					Int("max_hosts", maxHosts).
					Str("interface", iface.Name).
					Msg("Enumeration truncated at host cap")

				return hosts, nil
			}
		}
	}

	e.logger.Debug().Int("hosts", len(hosts)).Msg("Enumerated probe candidates")

	return hosts, nil
}

// LocalNetworks returns the IPv4 networks attached to eligible
// interfaces, for broadcast-address detection.
func (e *NetEnumerator) LocalNetworks() ([]*net.IPNet, error) {
	ifaces, err := e.interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var networks []*net.IPNet

	for _, iface := range ifaces {
		if !eligibleInterface(iface) {
			continue
		}

		for _, addr := range iface.Addrs {
			if ipnet := parseIPv4Net(addr.Addr); ipnet != nil {
				networks = append(networks, ipnet)
			}
		}
	}

	return networks, nil
}

func eligibleInterface(iface psnet.InterfaceStat) bool {
	return hasFlag(iface.Flags, "up") && !hasFlag(iface.Flags, "loopback")
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}

	return false
}

// parseIPv4Net parses an interface address in CIDR form and returns its
// IPv4 network, or nil when the address is not usable for sweeping.
func parseIPv4Net(addr string) *net.IPNet {
	ip, ipnet, err := net.ParseCIDR(addr)
	if err != nil || ip.To4() == nil {
		return nil
	}

	ones, bits := ipnet.Mask.Size()
	if bits != 32 && len(ipnet.IP) == net.IPv6len {
		// mapped form; normalize to 4-byte representation
		if v4 := ipnet.IP.To4(); v4 != nil {
			ipnet = &net.IPNet{IP: v4, Mask: ipnet.Mask[len(ipnet.Mask)-4:]}
			ones, bits = ipnet.Mask.Size()
		}
	}

	if bits != 32 || ones >= 31 {
		return nil
	}

	return ipnet
}

// expandBounded walks the subnet's host addresses up to limit, skipping
// the network and broadcast addresses.
func expandBounded(ipnet *net.IPNet, limit int) []string {
	if limit <= 0 {
		return nil
	}

	var hosts []string

	ip := make(net.IP, len(ipnet.IP))
	copy(ip, ipnet.IP.Mask(ipnet.Mask))

	for ipnet.Contains(ip) && len(hosts) < limit {
		if !ip.Equal(ipnet.IP.Mask(ipnet.Mask)) && !isBroadcast(ip, ipnet) {
			hosts = append(hosts, ip.String())
		}

		incIP(ip)
	}

	return hosts
}

// incIP increments an IP address in place.
func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

// isBroadcast checks if an IP is the broadcast address of a network.
func isBroadcast(ip net.IP, ipnet *net.IPNet) bool {
	if len(ip) != len(ipnet.IP) {
		if v4 := ip.To4(); v4 != nil && len(ipnet.IP) == net.IPv4len {
			ip = v4
		} else {
			return false
		}
	}

	broadcast := make(net.IP, len(ip))
	for i := range ip {
		broadcast[i] = ipnet.IP[i] | ^ipnet.Mask[i]
	}

	return ip.Equal(broadcast)
}
