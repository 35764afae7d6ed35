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

// Package identity resolves the stable identity of a device observation.
//
// Identity strength is ordered: a MAC address is the anchor when known,
// the primary IP is next, then the hostname, and as a last resort a
// generated opaque id. An IP is a mutable attribute, not an identity
// anchor, so IP-keyed records are inherently weaker. Resolution does NOT
// unify a record first seen by IP with a later observation that adds a
// MAC: the two resolve to different ids and remain separate records.
package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/carverauto/lanscape/pkg/models"
)

var (
	macRe     = regexp.MustCompile(`(?i)^[0-9a-f]{2}(?::[0-9a-f]{2}){5}$`)
	macListRe = regexp.MustCompile(`(?i)[0-9a-f]{2}(?::[0-9a-f]{2}){5}`)
)

// Kind labels which attribute anchored a resolved identity.
type Kind string

const (
	KindMAC       Kind = "mac"
	KindIP        Kind = "ip"
	KindHostname  Kind = "hostname"
	KindGenerated Kind = "generated"
)

// Resolve returns the stable id for a device observation plus the kind of
// anchor that produced it. Observations with no usable identity field get
// a freshly generated opaque id, so resolution is total.
func Resolve(d *models.Device) (string, Kind) {
	if d != nil {
		if mac, ok := NormalizeMAC(d.MAC); ok {
			return mac, KindMAC
		}

		if ip := strings.TrimSpace(d.PrimaryIP); ip != "" {
			return ip, KindIP
		}

		if host := strings.TrimSpace(d.Hostname); host != "" {
			return host, KindHostname
		}
	}

	return uuid.NewString(), KindGenerated
}

// NormalizeMAC validates and canonicalizes a colon-separated MAC address
// to uppercase. Dashed and bare-hex notations are normalized first.
func NormalizeMAC(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	s = strings.ReplaceAll(s, "-", ":")

	if !strings.Contains(s, ":") && len(s) == 12 {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}

			b.WriteString(s[i : i+2])
		}

		s = b.String()
	}

	if !macRe.MatchString(s) {
		return "", false
	}

	return strings.ToUpper(s), true
}

// ParseMACList extracts every distinct MAC address from a free-form
// string (some neighbor tables report several, comma separated).
func ParseMACList(s string) []string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}

	matches := macListRe.FindAllString(trimmed, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{})

	for _, match := range matches {
		mac := strings.ToUpper(match)
		if _, ok := seen[mac]; ok {
			continue
		}

		seen[mac] = struct{}{}

		out = append(out, mac)
	}

	return out
}
