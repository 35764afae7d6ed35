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
	"strings"

	"github.com/carverauto/lanscape/pkg/models"
)

var localSuffixes = []string{".local", ".lan", ".home", ".localdomain", ".internal"}

// DisplayName resolves a human readable label for a device record.
// Preference order: hostname, advertised service instance name, vendor
// with an address, then the bare address or record ID.
func DisplayName(d *models.Device) string {
	if d == nil {
		return ""
	}

	if name := CleanHostname(d.Hostname); name != "" {
		return name
	}

	for _, s := range d.Services {
		if name := strings.TrimSpace(s.Name); name != "" {
			return name
		}
	}

	addr := strings.TrimSpace(d.PrimaryIP)
	if addr == "" && len(d.IPs) > 0 {
		addr = strings.TrimSpace(d.IPs[0])
	}

	if vendor := strings.TrimSpace(d.Vendor); vendor != "" && addr != "" {
		return vendor + " (" + addr + ")"
	}

	if addr != "" {
		return addr
	}

	return d.ID
}

// CleanHostname strips trailing dots and link-local domain suffixes.
// Returns "" when nothing presentable remains.
func CleanHostname(hostname string) string {
	name := strings.TrimSpace(hostname)
	name = strings.TrimSuffix(name, ".")

	lower := strings.ToLower(name)
	for _, suffix := range localSuffixes {
		if strings.HasSuffix(lower, suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}

	return strings.TrimSpace(name)
}
