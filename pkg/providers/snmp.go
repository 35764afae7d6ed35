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
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/lanscape/pkg/logger"
	"github.com/carverauto/lanscape/pkg/models"
)

const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysContact  = ".1.3.6.1.2.1.1.4.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"

	defaultSNMPPort      = 161
	defaultSNMPTimeout   = 2 * time.Second
	defaultSNMPRetries   = 1
	defaultSNMPCommunity = "public"
)

// SNMPConfig controls the system-group query.
type SNMPConfig struct {
	Community   string
	Port        uint16
	Timeout     models.Duration
	Retries     int
	Cooldown    models.Duration
	MaxInFlight int
}

func (c SNMPConfig) withDefaults() SNMPConfig {
	out := c

	if out.Community == "" {
		out.Community = defaultSNMPCommunity
	}

	if out.Port == 0 {
		out.Port = defaultSNMPPort
	}

	if out.Timeout.Duration() <= 0 {
		out.Timeout = models.Duration(defaultSNMPTimeout)
	}

	if out.Retries <= 0 {
		out.Retries = defaultSNMPRetries
	}

	return out
}

// SNMPProvider asks newly seen devices for their SNMP system group.
// Most consumer gear ignores it; network equipment answers with a
// hostname and a descriptive string worth keeping.
type SNMPProvider struct {
	cfg     SNMPConfig
	stream  MutationStream
	logger  logger.Logger
	reactor *reactor
}

func NewSNMPProvider(cfg SNMPConfig, stream MutationStream, log logger.Logger) *SNMPProvider {
	p := &SNMPProvider{
		cfg:    cfg.withDefaults(),
		stream: stream,
		logger: log,
	}

	p.reactor = newReactor(
		p.Name(),
		stream,
		cfg.Cooldown.Duration(),
		cfg.MaxInFlight,
		models.SourceSNMP,
		p.queryDevice,
		log,
	)

	return p
}

var _ Provider = (*SNMPProvider)(nil)

func (p *SNMPProvider) Name() string { return "snmpquery" }

func (p *SNMPProvider) Start(ctx context.Context) error { return p.reactor.start(ctx) }

func (p *SNMPProvider) Stop() error { return p.reactor.stop() }

func (p *SNMPProvider) queryDevice(_ context.Context, device *models.Device) {
	client := p.createClient(device.PrimaryIP)

	if err := client.Connect(); err != nil {
		p.logger.Debug().Err(err).Str("ip", device.PrimaryIP).Msg("SNMP connect failed")
		return
	}

	defer func() {
		if err := client.Conn.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("SNMP connection close failed")
		}
	}()

	result, err := client.Get([]string{
		oidSysDescr,
		oidSysObjectID,
		oidSysContact,
		oidSysName,
		oidSysLocation,
	})
	if err != nil {
		p.logger.Debug().Err(err).Str("ip", device.PrimaryIP).Msg("SNMP get failed")
		return
	}

	if result.Error != gosnmp.NoError {
		p.logger.Debug().Str("ip", device.PrimaryIP).Str("error", result.Error.String()).Msg("SNMP error status")
		return
	}

	observation, ok := deviceFromSysInfo(device.PrimaryIP, result.Variables)
	if !ok {
		return
	}

	p.stream.Emit(models.NewChange(nil, observation, nil, models.SourceSNMP))
}

func (p *SNMPProvider) createClient(target string) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Target:             target,
		Port:               p.cfg.Port,
		Version:            gosnmp.Version2c,
		Community:          p.cfg.Community,
		Timeout:            p.cfg.Timeout.Duration(),
		Retries:            p.cfg.Retries,
		MaxOids:            gosnmp.MaxOids,
		ExponentialTimeout: true,
	}
}

// deviceFromSysInfo maps system-group PDUs to an observation. Reports
// false when no variable carried a value.
func deviceFromSysInfo(ip string, variables []gosnmp.SnmpPDU) (*models.Device, bool) {
	observation := &models.Device{
		PrimaryIP:        ip,
		IPs:              []string{ip},
		DiscoverySources: []models.DiscoverySource{models.SourceSNMP},
		Fingerprints:     make(map[string]string),
	}

	found := false

	for _, v := range variables {
		switch v.Name {
		case oidSysName:
			if s, ok := pduString(v); ok && s != "" {
				observation.Hostname = s
				found = true
			}
		case oidSysDescr:
			if s, ok := pduString(v); ok && s != "" {
				observation.Fingerprints["snmp.sysDescr"] = s
				observation.ModelHint = firstLine(s)
				found = true
			}
		case oidSysObjectID:
			if v.Type == gosnmp.ObjectIdentifier {
				if s, ok := v.Value.(string); ok && s != "" {
					observation.Fingerprints["snmp.sysObjectID"] = s
					found = true
				}
			}
		case oidSysContact:
			if s, ok := pduString(v); ok && s != "" {
				observation.Fingerprints["snmp.sysContact"] = s
				found = true
			}
		case oidSysLocation:
			if s, ok := pduString(v); ok && s != "" {
				observation.Fingerprints["snmp.sysLocation"] = s
				found = true
			}
		}
	}

	if !found {
		return nil, false
	}

	return observation, true
}

// pduString extracts an OctetString value.
func pduString(v gosnmp.SnmpPDU) (string, bool) {
	if v.Type != gosnmp.OctetString {
		return "", false
	}

	b, ok := v.Value.([]byte)
	if !ok {
		return "", false
	}

	return strings.TrimSpace(string(b)), true
}

func firstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		s = s[:idx]
	}

	const maxHint = 120
	if len(s) > maxHint {
		s = s[:maxHint]
	}

	return strings.TrimSpace(s)
}
