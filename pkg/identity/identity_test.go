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

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/lanscape/pkg/models"
)

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name     string
		device   *models.Device
		expected string
		kind     Kind
	}{
		{
			name: "mac wins over everything",
			device: &models.Device{
				MAC:       "aa:bb:cc:00:11:22",
				PrimaryIP: "192.168.1.10",
				Hostname:  "ap.local",
			},
			expected: "AA:BB:CC:00:11:22",
			kind:     KindMAC,
		},
		{
			name: "primary ip when no mac",
			device: &models.Device{
				PrimaryIP: "192.168.1.10",
				Hostname:  "ap.local",
			},
			expected: "192.168.1.10",
			kind:     KindIP,
		},
		{
			name:     "hostname as last stored anchor",
			device:   &models.Device{Hostname: "ap.local"},
			expected: "ap.local",
			kind:     KindHostname,
		},
		{
			name: "invalid mac falls through to ip",
			device: &models.Device{
				MAC:       "not-a-mac",
				PrimaryIP: "10.0.0.5",
			},
			expected: "10.0.0.5",
			kind:     KindIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, kind := Resolve(tt.device)
			assert.Equal(t, tt.expected, id)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestResolveGeneratesOpaqueID(t *testing.T) {
	id1, kind1 := Resolve(&models.Device{})
	id2, kind2 := Resolve(&models.Device{})

	assert.Equal(t, KindGenerated, kind1)
	assert.Equal(t, KindGenerated, kind2)
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2, "generated ids must be unique")

	id3, kind3 := Resolve(nil)
	assert.Equal(t, KindGenerated, kind3)
	assert.NotEmpty(t, id3)
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{name: "lowercase colons", input: "aa:bb:cc:00:11:22", expected: "AA:BB:CC:00:11:22", ok: true},
		{name: "already canonical", input: "AA:BB:CC:00:11:22", expected: "AA:BB:CC:00:11:22", ok: true},
		{name: "dashed", input: "aa-bb-cc-00-11-22", expected: "AA:BB:CC:00:11:22", ok: true},
		{name: "bare hex", input: "aabbcc001122", expected: "AA:BB:CC:00:11:22", ok: true},
		{name: "surrounding space", input: "  aa:bb:cc:00:11:22  ", expected: "AA:BB:CC:00:11:22", ok: true},
		{name: "too short", input: "aa:bb:cc:00:11", ok: false},
		{name: "non-hex", input: "zz:bb:cc:00:11:22", ok: false},
		{name: "empty", input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeMAC(tt.input)
			require.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestParseMACList(t *testing.T) {
	got := ParseMACList("aa:bb:cc:00:11:22, dd:ee:ff:33:44:55,aa:bb:cc:00:11:22")
	assert.Equal(t, []string{"AA:BB:CC:00:11:22", "DD:EE:FF:33:44:55"}, got)

	assert.Nil(t, ParseMACList(""))
	assert.Nil(t, ParseMACList("no macs here"))
}
