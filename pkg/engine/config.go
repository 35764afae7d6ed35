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

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/lanscape/pkg/bus"
	"github.com/carverauto/lanscape/pkg/enumerate"
	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
	"github.com/carverauto/lanscape/pkg/natsutil"
	"github.com/carverauto/lanscape/pkg/scheduler"
)

const (
	// StoreBackendFile persists the inventory as JSON files under the
	// state directory.
	StoreBackendFile = "file"
	// StoreBackendNATS persists the inventory in a JetStream KV bucket.
	StoreBackendNATS = "nats"

	defaultStateDir      = "/var/lib/lanscape"
	defaultStoreBucket   = "lanscape-devices"
	defaultBridgeStream  = "LANSCAPE_EVENTS"
	defaultGraceWindow   = 90 * time.Second
	defaultSweepInterval = 30 * time.Second
	defaultScanWarmup    = 3 * time.Second
)

var (
	errUnknownStoreBackend = errors.New("unknown store backend")
	errStoreURLRequired    = errors.New("store.nats_url is required for the nats backend")
	errBridgeURLRequired   = errors.New("bridge.nats_url is required when the bridge is configured")
	errNegativeBusBuffer   = errors.New("bus_buffer must not be negative")
)

// Config is the full daemon configuration. Zero values fall back to the
// defaults from NewDefaultConfig, so a partial JSON file is enough.
type Config struct {
	StateDir      string             `json:"state_dir"`
	Store         StoreConfig        `json:"store"`
	BusBuffer     int                `json:"bus_buffer"`
	GraceWindow   models.Duration    `json:"grace_window"`
	SweepInterval models.Duration    `json:"sweep_interval"`
	Probe         models.ProbeConfig `json:"probe"`
	Scan          ScanConfig         `json:"scan"`
	Providers     ProvidersConfig    `json:"providers"`
	Logging       *logger.Config     `json:"logging,omitempty"`
	Bridge        *BridgeConfig      `json:"bridge,omitempty"`
	ScanOnStart   bool               `json:"scan_on_start"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	Backend string              `json:"backend"`
	NATSURL string              `json:"nats_url,omitempty"`
	Bucket  string              `json:"bucket,omitempty"`
	TTL     models.Duration     `json:"ttl,omitempty"`
	TLS     *natsutil.TLSConfig `json:"tls,omitempty"`
}

// ScanConfig holds the defaults applied to scans the engine starts.
type ScanConfig struct {
	Warmup        models.Duration `json:"warmup"`
	MaxAutoHosts  int             `json:"max_auto_hosts"`
	MaxConcurrent int             `json:"max_concurrent"`

	// TCPFallbackPorts switches the reachability probe to TCP connect
	// attempts against these ports when raw ICMP is not permitted.
	// Empty keeps ICMP and lets scans fall back to the neighbor table.
	TCPFallbackPorts []uint16 `json:"tcp_fallback_ports,omitempty"`
}

// BridgeConfig enables republishing bus mutations to a JetStream stream.
type BridgeConfig struct {
	NATSURL string              `json:"nats_url"`
	Stream  string              `json:"stream,omitempty"`
	TLS     *natsutil.TLSConfig `json:"tls,omitempty"`
}

// ProvidersConfig toggles and parameterizes the discovery providers.
type ProvidersConfig struct {
	MDNS     MDNSSection     `json:"mdns"`
	ARP      ARPSection      `json:"arp"`
	PortScan PortScanSection `json:"portscan"`
	SNMP     SNMPSection     `json:"snmp"`
	SSH      SSHSection      `json:"ssh"`
	HTTP     HTTPSection     `json:"http"`
}

type MDNSSection struct {
	Enabled  bool            `json:"enabled"`
	Services []string        `json:"services,omitempty"`
	Window   models.Duration `json:"window,omitempty"`
	Interval models.Duration `json:"interval,omitempty"`
}

type ARPSection struct {
	Enabled bool `json:"enabled"`
}

type PortScanSection struct {
	Enabled     bool            `json:"enabled"`
	Ports       []uint16        `json:"ports,omitempty"`
	Timeout     models.Duration `json:"timeout,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
	Cooldown    models.Duration `json:"cooldown,omitempty"`
	MaxInFlight int             `json:"max_in_flight,omitempty"`
}

type SNMPSection struct {
	Enabled     bool            `json:"enabled"`
	Community   string          `json:"community,omitempty"`
	Port        uint16          `json:"port,omitempty"`
	Timeout     models.Duration `json:"timeout,omitempty"`
	Retries     int             `json:"retries,omitempty"`
	Cooldown    models.Duration `json:"cooldown,omitempty"`
	MaxInFlight int             `json:"max_in_flight,omitempty"`
}

type SSHSection struct {
	Enabled     bool            `json:"enabled"`
	Port        uint16          `json:"port,omitempty"`
	Timeout     models.Duration `json:"timeout,omitempty"`
	Cooldown    models.Duration `json:"cooldown,omitempty"`
	MaxInFlight int             `json:"max_in_flight,omitempty"`
}

type HTTPSection struct {
	Enabled     bool            `json:"enabled"`
	Timeout     models.Duration `json:"timeout,omitempty"`
	Cooldown    models.Duration `json:"cooldown,omitempty"`
	MaxInFlight int             `json:"max_in_flight,omitempty"`
}

// NewDefaultConfig returns the recommended configuration: file-backed
// persistence under /var/lib/lanscape, passive and active discovery on,
// SNMP off until a community is configured.
func NewDefaultConfig() Config {
	return Config{
		StateDir:      defaultStateDir,
		Store:         StoreConfig{Backend: StoreBackendFile},
		BusBuffer:     bus.DefaultBufferSize,
		GraceWindow:   models.Duration(defaultGraceWindow),
		SweepInterval: models.Duration(defaultSweepInterval),
		Scan: ScanConfig{
			Warmup:        models.Duration(defaultScanWarmup),
			MaxAutoHosts:  enumerate.DefaultMaxHosts,
			MaxConcurrent: scheduler.DefaultMaxConcurrent,
		},
		Providers: ProvidersConfig{
			MDNS:     MDNSSection{Enabled: true},
			ARP:      ARPSection{Enabled: true},
			PortScan: PortScanSection{Enabled: true},
			SSH:      SSHSection{Enabled: true},
			HTTP:     HTTPSection{Enabled: true},
		},
	}
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.BusBuffer < 0 {
		return errNegativeBusBuffer
	}

	switch c.Store.Backend {
	case StoreBackendFile, "":
	case StoreBackendNATS:
		if c.Store.NATSURL == "" {
			return errStoreURLRequired
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			errUnknownStoreBackend, c.Store.Backend, StoreBackendFile, StoreBackendNATS)
	}

	if c.Bridge != nil && c.Bridge.NATSURL == "" {
		return errBridgeURLRequired
	}

	return nil
}

// withDefaults fills derived fields that Validate accepts as empty.
func (c Config) withDefaults() Config {
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendFile
	}

	if c.Store.Bucket == "" {
		c.Store.Bucket = defaultStoreBucket
	}

	if c.Bridge != nil && c.Bridge.Stream == "" {
		c.Bridge.Stream = defaultBridgeStream
	}

	return c
}
