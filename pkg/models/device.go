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

// Package models provides the shared data model for the discovery engine.
package models

import (
	"sort"
	"time"
)

// DiscoverySource identifies which subsystem produced an observation.
type DiscoverySource string

const (
	SourceMDNS     DiscoverySource = "mdns"
	SourcePing     DiscoverySource = "ping"
	SourceARP      DiscoverySource = "arp"
	SourcePortScan DiscoverySource = "portscan"
	SourceSNMP     DiscoverySource = "snmp"
	SourceSSH      DiscoverySource = "ssh"
	SourceHTTP     DiscoverySource = "http"
	SourceManual   DiscoverySource = "manual"
)

// PortStatus is the observed state of a TCP port.
type PortStatus string

const (
	PortOpen     PortStatus = "open"
	PortFiltered PortStatus = "filtered"
	PortClosed   PortStatus = "closed"
)

// portRank orders statuses for merge precedence: open > filtered > closed.
func (s PortStatus) portRank() int {
	switch s {
	case PortOpen:
		return 3
	case PortFiltered:
		return 2
	case PortClosed:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether s takes precedence over o when both describe
// the same port number.
func (s PortStatus) Outranks(o PortStatus) bool {
	return s.portRank() > o.portRank()
}

// Port is one observed TCP port on a device.
type Port struct {
	Number uint16     `json:"number"`
	Status PortStatus `json:"status"`
}

// Service is a network service advertised or detected on a device,
// deduplicated by (Type, Port).
type Service struct {
	Type string `json:"type"`
	Port uint16 `json:"port"`
	Name string `json:"name,omitempty"`
}

// DeviceKind is the coarse device category assigned by classification.
type DeviceKind string

const (
	KindRouter   DeviceKind = "router"
	KindSwitch   DeviceKind = "switch"
	KindServer   DeviceKind = "server"
	KindNAS      DeviceKind = "nas"
	KindPrinter  DeviceKind = "printer"
	KindCamera   DeviceKind = "camera"
	KindPhone    DeviceKind = "phone"
	KindComputer DeviceKind = "computer"
	KindIoT      DeviceKind = "iot"
	KindUnknown  DeviceKind = "unknown"
)

// Classification is the derived categorization of a device.
type Classification struct {
	Kind       DeviceKind `json:"kind"`
	Confidence int        `json:"confidence"`
	Reason     string     `json:"reason,omitempty"`
}

// Device is the canonical record for one physical endpoint.
type Device struct {
	ID               string            `json:"id"`
	PrimaryIP        string            `json:"primary_ip,omitempty"`
	IPs              []string          `json:"ips,omitempty"`
	Hostname         string            `json:"hostname,omitempty"`
	Vendor           string            `json:"vendor,omitempty"`
	MAC              string            `json:"mac,omitempty"`
	ModelHint        string            `json:"model_hint,omitempty"`
	Services         []Service         `json:"services,omitempty"`
	OpenPorts        []Port            `json:"open_ports,omitempty"`
	DiscoverySources []DiscoverySource `json:"discovery_sources,omitempty"`
	Fingerprints     map[string]string `json:"fingerprints,omitempty"`
	Classification   *Classification   `json:"classification,omitempty"`
	FirstSeen        time.Time         `json:"first_seen"`
	LastSeen         time.Time         `json:"last_seen"`
	OnlineOverride   *bool             `json:"online_override,omitempty"`
	RTTMillis        *float64          `json:"rtt_millis,omitempty"`
}

// Field names used in Change.ChangedFields. They match the JSON tags so
// that a persisted change and an in-memory change read the same.
const (
	FieldPrimaryIP        = "primary_ip"
	FieldIPs              = "ips"
	FieldHostname         = "hostname"
	FieldVendor           = "vendor"
	FieldMAC              = "mac"
	FieldModelHint        = "model_hint"
	FieldServices         = "services"
	FieldOpenPorts        = "open_ports"
	FieldDiscoverySources = "discovery_sources"
	FieldFingerprints     = "fingerprints"
	FieldClassification   = "classification"
	FieldFirstSeen        = "first_seen"
	FieldLastSeen         = "last_seen"
	FieldOnlineOverride   = "online_override"
	FieldRTT              = "rtt_millis"
)

// Online reports derived liveness: the override wins when set, otherwise
// the device is online if LastSeen falls within the grace window.
func (d *Device) Online(now time.Time, grace time.Duration) bool {
	if d.OnlineOverride != nil {
		return *d.OnlineOverride
	}

	if d.LastSeen.IsZero() {
		return false
	}

	return now.Sub(d.LastSeen) <= grace
}

// HasIP reports whether addr is already among the device's observed IPs.
func (d *Device) HasIP(addr string) bool {
	for _, ip := range d.IPs {
		if ip == addr {
			return true
		}
	}

	return false
}

// HasSource reports whether the device already carries the source tag.
func (d *Device) HasSource(src DiscoverySource) bool {
	for _, s := range d.DiscoverySources {
		if s == src {
			return true
		}
	}

	return false
}

// Clone returns a deep copy. Mutating the copy never affects the original.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	clone := *d

	if d.IPs != nil {
		clone.IPs = append([]string(nil), d.IPs...)
	}

	if d.Services != nil {
		clone.Services = append([]Service(nil), d.Services...)
	}

	if d.OpenPorts != nil {
		clone.OpenPorts = append([]Port(nil), d.OpenPorts...)
	}

	if d.DiscoverySources != nil {
		clone.DiscoverySources = append([]DiscoverySource(nil), d.DiscoverySources...)
	}

	if d.Fingerprints != nil {
		clone.Fingerprints = make(map[string]string, len(d.Fingerprints))
		for k, v := range d.Fingerprints {
			clone.Fingerprints[k] = v
		}
	}

	if d.Classification != nil {
		c := *d.Classification
		clone.Classification = &c
	}

	if d.OnlineOverride != nil {
		v := *d.OnlineOverride
		clone.OnlineOverride = &v
	}

	if d.RTTMillis != nil {
		v := *d.RTTMillis
		clone.RTTMillis = &v
	}

	return &clone
}

// NormalizePorts sorts ports ascending by number and collapses duplicates,
// keeping the higher-precedence status for each number.
func NormalizePorts(ports []Port) []Port {
	if len(ports) == 0 {
		return nil
	}

	byNumber := make(map[uint16]PortStatus, len(ports))

	for _, p := range ports {
		if cur, ok := byNumber[p.Number]; !ok || p.Status.Outranks(cur) {
			byNumber[p.Number] = p.Status
		}
	}

	out := make([]Port, 0, len(byNumber))
	for number, status := range byNumber {
		out = append(out, Port{Number: number, Status: status})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })

	return out
}

// NormalizeServices collapses duplicate (Type, Port) services, keeping the
// entry with the more descriptive (longer) name. Order is stable by type
// then port.
func NormalizeServices(services []Service) []Service {
	if len(services) == 0 {
		return nil
	}

	type serviceKey struct {
		typ  string
		port uint16
	}

	byKey := make(map[serviceKey]Service, len(services))

	for _, s := range services {
		key := serviceKey{typ: s.Type, port: s.Port}
		if cur, ok := byKey[key]; !ok || len(s.Name) > len(cur.Name) {
			byKey[key] = s
		}
	}

	out := make([]Service, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}

		return out[i].Port < out[j].Port
	})

	return out
}
