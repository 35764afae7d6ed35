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

// Package classify derives a coarse device category from a merged
// record. Signals are ranked: advertised services are strongest, then
// hostname and vendor hints, then open-port patterns. Classification is
// a pure function so the reconciler can recompute it at will.
package classify

import (
	"strings"

	"github.com/carverauto/lanscape/pkg/models"
)

// serviceKinds maps mDNS service types to a device kind.
var serviceKinds = map[string]models.DeviceKind{
	"_ipp._tcp":            models.KindPrinter,
	"_ipps._tcp":           models.KindPrinter,
	"_printer._tcp":        models.KindPrinter,
	"_pdl-datastream._tcp": models.KindPrinter,
	"_scanner._tcp":        models.KindPrinter,
	"_smb._tcp":            models.KindNAS,
	"_afpovertcp._tcp":     models.KindNAS,
	"_nfs._tcp":            models.KindNAS,
	"_workstation._tcp":    models.KindComputer,
	"_companion-link._tcp": models.KindComputer,
	"_rfb._tcp":            models.KindComputer,
	"_airplay._tcp":        models.KindIoT,
	"_raop._tcp":           models.KindIoT,
	"_hap._tcp":            models.KindIoT,
	"_googlecast._tcp":     models.KindIoT,
	"_spotify-connect._tcp": models.KindIoT,
	"_axis-video._tcp":     models.KindCamera,
	"_rtsp._tcp":           models.KindCamera,
}

var hostnameKinds = []struct {
	hint string
	kind models.DeviceKind
}{
	{hint: "router", kind: models.KindRouter},
	{hint: "gateway", kind: models.KindRouter},
	{hint: "fritz", kind: models.KindRouter},
	{hint: "openwrt", kind: models.KindRouter},
	{hint: "mikrotik", kind: models.KindRouter},
	{hint: "unifi", kind: models.KindRouter},
	{hint: "switch", kind: models.KindSwitch},
	{hint: "printer", kind: models.KindPrinter},
	{hint: "laserjet", kind: models.KindPrinter},
	{hint: "deskjet", kind: models.KindPrinter},
	{hint: "nas", kind: models.KindNAS},
	{hint: "synology", kind: models.KindNAS},
	{hint: "qnap", kind: models.KindNAS},
	{hint: "truenas", kind: models.KindNAS},
	{hint: "camera", kind: models.KindCamera},
	{hint: "doorbell", kind: models.KindCamera},
	{hint: "iphone", kind: models.KindPhone},
	{hint: "android", kind: models.KindPhone},
	{hint: "pixel", kind: models.KindPhone},
	{hint: "galaxy", kind: models.KindPhone},
	{hint: "macbook", kind: models.KindComputer},
	{hint: "imac", kind: models.KindComputer},
	{hint: "laptop", kind: models.KindComputer},
	{hint: "desktop", kind: models.KindComputer},
	{hint: "esp", kind: models.KindIoT},
	{hint: "tasmota", kind: models.KindIoT},
	{hint: "shelly", kind: models.KindIoT},
	{hint: "sonoff", kind: models.KindIoT},
}

var vendorKinds = []struct {
	hint string
	kind models.DeviceKind
}{
	{hint: "ubiquiti", kind: models.KindRouter},
	{hint: "mikrotik", kind: models.KindRouter},
	{hint: "tp-link", kind: models.KindRouter},
	{hint: "netgear", kind: models.KindRouter},
	{hint: "cisco", kind: models.KindSwitch},
	{hint: "synology", kind: models.KindNAS},
	{hint: "qnap", kind: models.KindNAS},
	{hint: "hewlett", kind: models.KindPrinter},
	{hint: "epson", kind: models.KindPrinter},
	{hint: "brother", kind: models.KindPrinter},
	{hint: "canon", kind: models.KindPrinter},
	{hint: "hikvision", kind: models.KindCamera},
	{hint: "dahua", kind: models.KindCamera},
	{hint: "axis communications", kind: models.KindCamera},
	{hint: "espressif", kind: models.KindIoT},
	{hint: "tuya", kind: models.KindIoT},
	{hint: "raspberry", kind: models.KindComputer},
}

// RuleClassifier is the built-in heuristic classifier.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify never returns nil; records with no usable signal come back as
// KindUnknown with zero confidence.
func (c *RuleClassifier) Classify(d *models.Device) *models.Classification {
	if d == nil {
		return &models.Classification{Kind: models.KindUnknown}
	}

	if cls := classifyByService(d.Services); cls != nil {
		return cls
	}

	if cls := classifyByHostname(d.Hostname); cls != nil {
		return cls
	}

	if cls := classifyByVendor(d.Vendor); cls != nil {
		return cls
	}

	if cls := classifyByPorts(d.OpenPorts); cls != nil {
		return cls
	}

	return &models.Classification{Kind: models.KindUnknown}
}

func classifyByService(services []models.Service) *models.Classification {
	for _, s := range services {
		if kind, ok := serviceKinds[strings.ToLower(s.Type)]; ok {
			return &models.Classification{
				Kind:       kind,
				Confidence: 85,
				Reason:     "service " + strings.ToLower(s.Type),
			}
		}
	}

	return nil
}

func classifyByHostname(hostname string) *models.Classification {
	host := strings.ToLower(hostname)
	if host == "" {
		return nil
	}

	for _, h := range hostnameKinds {
		if strings.Contains(host, h.hint) {
			return &models.Classification{
				Kind:       h.kind,
				Confidence: 70,
				Reason:     "hostname hint " + h.hint,
			}
		}
	}

	return nil
}

func classifyByVendor(vendor string) *models.Classification {
	v := strings.ToLower(vendor)
	if v == "" {
		return nil
	}

	for _, h := range vendorKinds {
		if strings.Contains(v, h.hint) {
			return &models.Classification{
				Kind:       h.kind,
				Confidence: 60,
				Reason:     "vendor hint " + h.hint,
			}
		}
	}

	return nil
}

// classifyByPorts guesses from open-port patterns. Weakest signal, so
// lowest confidence.
func classifyByPorts(ports []models.Port) *models.Classification {
	open := make(map[uint16]bool, len(ports))

	for _, p := range ports {
		if p.Status == models.PortOpen {
			open[p.Number] = true
		}
	}

	if len(open) == 0 {
		return nil
	}

	match := func(kind models.DeviceKind, reason string) *models.Classification {
		return &models.Classification{Kind: kind, Confidence: 45, Reason: reason}
	}

	switch {
	case open[53] && (open[80] || open[443]):
		return match(models.KindRouter, "dns plus web ports")
	case open[631] || open[9100]:
		return match(models.KindPrinter, "printing ports")
	case open[554]:
		return match(models.KindCamera, "rtsp port")
	case open[445] && open[139] && (open[5000] || open[548] || open[2049]):
		return match(models.KindNAS, "file sharing ports")
	case open[161] && !open[22]:
		return match(models.KindSwitch, "snmp without ssh")
	case open[3389] || open[445]:
		return match(models.KindComputer, "windows ports")
	case open[22] && (open[80] || open[443]):
		return match(models.KindServer, "ssh plus web ports")
	case open[5900]:
		return match(models.KindComputer, "vnc port")
	case open[1883] || open[8883]:
		return match(models.KindIoT, "mqtt port")
	case open[22]:
		return match(models.KindServer, "ssh port")
	case open[80] || open[443] || open[8080]:
		return match(models.KindServer, "web ports")
	}

	return nil
}
