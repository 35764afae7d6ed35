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

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/lanscape/pkg/models"
)

func openPorts(numbers ...uint16) []models.Port {
	ports := make([]models.Port, 0, len(numbers))
	for _, n := range numbers {
		ports = append(ports, models.Port{Number: n, Status: models.PortOpen})
	}

	return ports
}

func TestClassifyPortHeuristics(t *testing.T) {
	tests := []struct {
		name  string
		ports []models.Port
		want  models.DeviceKind
	}{
		{name: "dns and web is a router", ports: openPorts(53, 80), want: models.KindRouter},
		{name: "dns and https is a router", ports: openPorts(53, 443), want: models.KindRouter},
		{name: "ipp is a printer", ports: openPorts(631), want: models.KindPrinter},
		{name: "jetdirect is a printer", ports: openPorts(9100), want: models.KindPrinter},
		{name: "rtsp is a camera", ports: openPorts(554), want: models.KindCamera},
		{name: "smb with dsm is a nas", ports: openPorts(139, 445, 5000), want: models.KindNAS},
		{name: "snmp without ssh is a switch", ports: openPorts(161), want: models.KindSwitch},
		{name: "rdp is a computer", ports: openPorts(3389), want: models.KindComputer},
		{name: "ssh and web is a server", ports: openPorts(22, 443), want: models.KindServer},
		{name: "vnc is a computer", ports: openPorts(5900), want: models.KindComputer},
		{name: "mqtt is iot", ports: openPorts(1883), want: models.KindIoT},
		{name: "bare ssh is a server", ports: openPorts(22), want: models.KindServer},
		{name: "bare web is a server", ports: openPorts(8080), want: models.KindServer},
		{name: "nothing open is unknown", ports: nil, want: models.KindUnknown},
	}

	c := NewRuleClassifier()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := c.Classify(&models.Device{OpenPorts: tt.ports})
			require.NotNil(t, cls)
			assert.Equal(t, tt.want, cls.Kind)
		})
	}
}

func TestClassifyFilteredPortsDoNotCount(t *testing.T) {
	c := NewRuleClassifier()

	cls := c.Classify(&models.Device{OpenPorts: []models.Port{
		{Number: 22, Status: models.PortFiltered},
		{Number: 80, Status: models.PortClosed},
	}})

	require.NotNil(t, cls)
	assert.Equal(t, models.KindUnknown, cls.Kind)
	assert.Zero(t, cls.Confidence)
}

func TestClassifyServiceBeatsPorts(t *testing.T) {
	c := NewRuleClassifier()

	cls := c.Classify(&models.Device{
		Services:  []models.Service{{Type: "_ipp._tcp", Port: 631, Name: "Office LaserJet"}},
		OpenPorts: openPorts(22, 443),
	})

	require.NotNil(t, cls)
	assert.Equal(t, models.KindPrinter, cls.Kind)
	assert.Equal(t, "service _ipp._tcp", cls.Reason)
	assert.Greater(t, cls.Confidence, 45)
}

func TestClassifyHostnameBeatsVendor(t *testing.T) {
	c := NewRuleClassifier()

	cls := c.Classify(&models.Device{
		Hostname: "synology-nas.local",
		Vendor:   "Cisco Systems",
	})

	require.NotNil(t, cls)
	assert.Equal(t, models.KindNAS, cls.Kind)
}

func TestClassifyVendorHints(t *testing.T) {
	tests := []struct {
		vendor string
		want   models.DeviceKind
	}{
		{vendor: "Ubiquiti Inc.", want: models.KindRouter},
		{vendor: "Hewlett Packard", want: models.KindPrinter},
		{vendor: "Hikvision Digital Technology", want: models.KindCamera},
		{vendor: "Espressif Inc.", want: models.KindIoT},
		{vendor: "Raspberry Pi Foundation", want: models.KindComputer},
	}

	c := NewRuleClassifier()

	for _, tt := range tests {
		t.Run(tt.vendor, func(t *testing.T) {
			cls := c.Classify(&models.Device{Vendor: tt.vendor})
			require.NotNil(t, cls)
			assert.Equal(t, tt.want, cls.Kind)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewRuleClassifier()

	device := &models.Device{
		Hostname:  "printer-upstairs",
		OpenPorts: openPorts(631, 80),
	}

	first := c.Classify(device)
	second := c.Classify(device)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first, second)
}

func TestClassifyNilDevice(t *testing.T) {
	c := NewRuleClassifier()

	cls := c.Classify(nil)
	require.NotNil(t, cls)
	assert.Equal(t, models.KindUnknown, cls.Kind)
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		device *models.Device
		want   string
	}{
		{
			name:   "hostname wins",
			device: &models.Device{Hostname: "office-printer.local", PrimaryIP: "192.168.1.50"},
			want:   "office-printer",
		},
		{
			name:   "trailing dot stripped",
			device: &models.Device{Hostname: "nas.lan."},
			want:   "nas",
		},
		{
			name: "service instance name next",
			device: &models.Device{
				Services:  []models.Service{{Type: "_airplay._tcp", Port: 7000, Name: "Living Room TV"}},
				PrimaryIP: "192.168.1.51",
			},
			want: "Living Room TV",
		},
		{
			name:   "vendor with address",
			device: &models.Device{Vendor: "Espressif Inc.", PrimaryIP: "192.168.1.52"},
			want:   "Espressif Inc. (192.168.1.52)",
		},
		{
			name:   "bare address",
			device: &models.Device{PrimaryIP: "192.168.1.53"},
			want:   "192.168.1.53",
		},
		{
			name:   "falls back to id",
			device: &models.Device{ID: "aa:bb:cc:dd:ee:ff"},
			want:   "aa:bb:cc:dd:ee:ff",
		},
		{
			name:   "nil device",
			device: nil,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.device))
		})
	}
}
