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

package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/lanscape/pkg/models"
)

var mergeBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMergeObservationGrowsIPSet(t *testing.T) {
	current := &models.Device{
		ID:        "AA:BB:CC:00:11:22",
		MAC:       "AA:BB:CC:00:11:22",
		PrimaryIP: "192.168.1.10",
		IPs:       []string{"192.168.1.10"},
		FirstSeen: mergeBase,
		LastSeen:  mergeBase,
	}

	observed := &models.Device{
		MAC:       "AA:BB:CC:00:11:22",
		PrimaryIP: "10.0.0.5",
	}

	after, changed := mergeObservation(current, observed, mergeBase.Add(time.Minute))

	assert.Equal(t, []string{"192.168.1.10", "10.0.0.5"}, after.IPs)
	assert.Equal(t, "10.0.0.5", after.PrimaryIP)
	assert.Contains(t, changed, models.FieldPrimaryIP)
	assert.Contains(t, changed, models.FieldIPs)
	assert.Contains(t, changed, models.FieldLastSeen)
}

func TestMergeObservationKeepsPrimaryIPWhenNoneSupplied(t *testing.T) {
	current := &models.Device{
		ID:        "host.local",
		Hostname:  "host.local",
		PrimaryIP: "192.168.1.10",
		IPs:       []string{"192.168.1.10"},
		LastSeen:  mergeBase,
	}

	observed := &models.Device{Hostname: "host.local", Vendor: "Acme"}

	after, changed := mergeObservation(current, observed, mergeBase.Add(time.Second))

	assert.Equal(t, "192.168.1.10", after.PrimaryIP)
	assert.NotContains(t, changed, models.FieldPrimaryIP)
	assert.Contains(t, changed, models.FieldVendor)
}

func TestMergeObservationPortPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		current    models.PortStatus
		observed   models.PortStatus
		want       models.PortStatus
		wantChange bool
	}{
		{name: "open survives closed report", current: models.PortOpen, observed: models.PortClosed, want: models.PortOpen, wantChange: false},
		{name: "open survives filtered report", current: models.PortOpen, observed: models.PortFiltered, want: models.PortOpen, wantChange: false},
		{name: "closed upgrades to open", current: models.PortClosed, observed: models.PortOpen, want: models.PortOpen, wantChange: true},
		{name: "filtered upgrades to open", current: models.PortFiltered, observed: models.PortOpen, want: models.PortOpen, wantChange: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := &models.Device{
				ID:        "192.168.1.20",
				PrimaryIP: "192.168.1.20",
				OpenPorts: []models.Port{{Number: 80, Status: tt.current}},
				LastSeen:  mergeBase,
			}

			observed := &models.Device{
				PrimaryIP: "192.168.1.20",
				OpenPorts: []models.Port{{Number: 80, Status: tt.observed}},
			}

			after, changed := mergeObservation(current, observed, mergeBase.Add(time.Second))

			require.Len(t, after.OpenPorts, 1)
			assert.Equal(t, tt.want, after.OpenPorts[0].Status)
			assert.Equal(t, tt.wantChange, containsField(changed, models.FieldOpenPorts))
		})
	}
}

func TestMergeObservationPortsStaySortedAndDeduped(t *testing.T) {
	current := &models.Device{
		ID:        "192.168.1.20",
		PrimaryIP: "192.168.1.20",
		OpenPorts: []models.Port{{Number: 443, Status: models.PortOpen}},
		LastSeen:  mergeBase,
	}

	observed := &models.Device{
		PrimaryIP: "192.168.1.20",
		OpenPorts: []models.Port{
			{Number: 22, Status: models.PortOpen},
			{Number: 443, Status: models.PortFiltered},
			{Number: 80, Status: models.PortOpen},
		},
	}

	after, _ := mergeObservation(current, observed, mergeBase.Add(time.Second))

	assert.Equal(t, []models.Port{
		{Number: 22, Status: models.PortOpen},
		{Number: 80, Status: models.PortOpen},
		{Number: 443, Status: models.PortOpen},
	}, after.OpenPorts)
}

func TestMergeObservationServiceDedupKeepsLongerName(t *testing.T) {
	current := &models.Device{
		ID:       "printer.local",
		Hostname: "printer.local",
		Services: []models.Service{{Type: "_ipp._tcp", Port: 631, Name: "Printer"}},
		LastSeen: mergeBase,
	}

	observed := &models.Device{
		Hostname: "printer.local",
		Services: []models.Service{{Type: "_ipp._tcp", Port: 631, Name: "Office Laser Printer"}},
	}

	after, changed := mergeObservation(current, observed, mergeBase.Add(time.Second))

	require.Len(t, after.Services, 1)
	assert.Equal(t, "Office Laser Printer", after.Services[0].Name)
	assert.Contains(t, changed, models.FieldServices)
}

func TestMergeObservationSourcesUnionNeverShrinks(t *testing.T) {
	current := &models.Device{
		ID:               "192.168.1.30",
		PrimaryIP:        "192.168.1.30",
		DiscoverySources: []models.DiscoverySource{models.SourceMDNS, models.SourcePing},
		LastSeen:         mergeBase,
	}

	observed := &models.Device{
		PrimaryIP:        "192.168.1.30",
		DiscoverySources: []models.DiscoverySource{models.SourceARP},
	}

	after, changed := mergeObservation(current, observed, mergeBase.Add(time.Second))

	assert.Equal(t, []models.DiscoverySource{models.SourceMDNS, models.SourcePing, models.SourceARP}, after.DiscoverySources)
	assert.Contains(t, changed, models.FieldDiscoverySources)

	again, changed := mergeObservation(after, observed, mergeBase.Add(2*time.Second))

	assert.Equal(t, after.DiscoverySources, again.DiscoverySources)
	assert.NotContains(t, changed, models.FieldDiscoverySources)
}

func TestMergeObservationFingerprintsAdditive(t *testing.T) {
	current := &models.Device{
		ID:           "192.168.1.40",
		PrimaryIP:    "192.168.1.40",
		Fingerprints: map[string]string{"http.server": "nginx"},
		LastSeen:     mergeBase,
	}

	observed := &models.Device{
		PrimaryIP:    "192.168.1.40",
		Fingerprints: map[string]string{"http.server": "nginx/1.25", "ssh.banner": "OpenSSH_9.6"},
	}

	after, changed := mergeObservation(current, observed, mergeBase.Add(time.Second))

	assert.Equal(t, "nginx/1.25", after.Fingerprints["http.server"])
	assert.Equal(t, "OpenSSH_9.6", after.Fingerprints["ssh.banner"])
	assert.Contains(t, changed, models.FieldFingerprints)
}

func TestMergeObservationClearsStandingOverride(t *testing.T) {
	offline := false
	current := &models.Device{
		ID:             "192.168.1.50",
		PrimaryIP:      "192.168.1.50",
		OnlineOverride: &offline,
		LastSeen:       mergeBase,
	}

	observed := &models.Device{PrimaryIP: "192.168.1.50"}

	after, changed := mergeObservation(current, observed, mergeBase.Add(time.Second))

	assert.Nil(t, after.OnlineOverride)
	assert.Contains(t, changed, models.FieldOnlineOverride)
	assert.True(t, after.Online(mergeBase.Add(2*time.Second), time.Minute))
}

func TestMergeObservationLastSeenNeverMovesBackward(t *testing.T) {
	current := &models.Device{
		ID:        "192.168.1.60",
		PrimaryIP: "192.168.1.60",
		IPs:       []string{"192.168.1.60"},
		LastSeen:  mergeBase,
	}

	observed := &models.Device{PrimaryIP: "192.168.1.60"}

	after, changed := mergeObservation(current, observed, mergeBase.Add(-time.Minute))

	assert.Equal(t, mergeBase, after.LastSeen)
	assert.Empty(t, changed)
}

func TestMergeObservationDoesNotMutateCurrent(t *testing.T) {
	current := &models.Device{
		ID:               "192.168.1.70",
		PrimaryIP:        "192.168.1.70",
		IPs:              []string{"192.168.1.70"},
		OpenPorts:        []models.Port{{Number: 22, Status: models.PortOpen}},
		DiscoverySources: []models.DiscoverySource{models.SourcePing},
		Fingerprints:     map[string]string{"k": "v"},
		LastSeen:         mergeBase,
	}

	observed := &models.Device{
		PrimaryIP:        "192.168.1.71",
		OpenPorts:        []models.Port{{Number: 80, Status: models.PortOpen}},
		DiscoverySources: []models.DiscoverySource{models.SourceARP},
		Fingerprints:     map[string]string{"k": "v2"},
	}

	_, _ = mergeObservation(current, observed, mergeBase.Add(time.Second))

	assert.Equal(t, "192.168.1.70", current.PrimaryIP)
	assert.Equal(t, []string{"192.168.1.70"}, current.IPs)
	assert.Len(t, current.OpenPorts, 1)
	assert.Equal(t, []models.DiscoverySource{models.SourcePing}, current.DiscoverySources)
	assert.Equal(t, "v", current.Fingerprints["k"])
	assert.Equal(t, mergeBase, current.LastSeen)
}

func TestNewDeviceFromObservationStampsBothTimestamps(t *testing.T) {
	rtt := 3.2
	observed := &models.Device{
		PrimaryIP:        "10.0.0.201",
		DiscoverySources: []models.DiscoverySource{models.SourcePing},
		RTTMillis:        &rtt,
	}

	d, changed := newDeviceFromObservation(observed, "10.0.0.201", mergeBase)

	assert.Equal(t, mergeBase, d.FirstSeen)
	assert.Equal(t, mergeBase, d.LastSeen)
	assert.Equal(t, []string{"10.0.0.201"}, d.IPs)
	assert.Contains(t, changed, models.FieldPrimaryIP)
	assert.Contains(t, changed, models.FieldIPs)
	assert.Contains(t, changed, models.FieldDiscoverySources)
	assert.Contains(t, changed, models.FieldFirstSeen)
	assert.Contains(t, changed, models.FieldLastSeen)
	assert.Contains(t, changed, models.FieldRTT)
	assert.NotContains(t, changed, models.FieldHostname)
}

func containsField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}

	return false
}
