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
	"slices"
	"strings"
	"time"

	"github.com/carverauto/lanscape/pkg/identity"
	"github.com/carverauto/lanscape/pkg/models"
)

// mergeObservation folds one observation into the current canonical
// record and returns the merged record plus the exact set of field names
// that changed. The current record is never mutated. Field rules:
// scalars are replaced only when the observation supplies a value, ips
// and discoverySources only grow, ports keep the higher-precedence
// status per number, services dedup by (type, port) keeping the longer
// name, fingerprints are additive. A genuine observation clears a
// standing online override so liveness derives from the fresh lastSeen.
func mergeObservation(current, observed *models.Device, obsTime time.Time) (*models.Device, []string) {
	after := current.Clone()

	var changed []string

	if ip := strings.TrimSpace(observed.PrimaryIP); ip != "" && ip != after.PrimaryIP {
		after.PrimaryIP = ip
		changed = append(changed, models.FieldPrimaryIP)
	}

	if ips, grew := unionStrings(after.IPs, observedIPs(observed)...); grew {
		after.IPs = ips
		changed = append(changed, models.FieldIPs)
	}

	if host := strings.TrimSpace(observed.Hostname); host != "" && host != after.Hostname {
		after.Hostname = host
		changed = append(changed, models.FieldHostname)
	}

	if vendor := strings.TrimSpace(observed.Vendor); vendor != "" && vendor != after.Vendor {
		after.Vendor = vendor
		changed = append(changed, models.FieldVendor)
	}

	if mac, ok := identity.NormalizeMAC(observed.MAC); ok && mac != after.MAC {
		after.MAC = mac
		changed = append(changed, models.FieldMAC)
	}

	if hint := strings.TrimSpace(observed.ModelHint); hint != "" && hint != after.ModelHint {
		after.ModelHint = hint
		changed = append(changed, models.FieldModelHint)
	}

	if len(observed.Services) > 0 {
		merged := models.NormalizeServices(append(slices.Clone(after.Services), observed.Services...))
		if !slices.Equal(merged, after.Services) {
			after.Services = merged
			changed = append(changed, models.FieldServices)
		}
	}

	if len(observed.OpenPorts) > 0 {
		merged := models.NormalizePorts(append(slices.Clone(after.OpenPorts), observed.OpenPorts...))
		if !slices.Equal(merged, after.OpenPorts) {
			after.OpenPorts = merged
			changed = append(changed, models.FieldOpenPorts)
		}
	}

	if sources, grew := unionSources(after.DiscoverySources, observed.DiscoverySources); grew {
		after.DiscoverySources = sources
		changed = append(changed, models.FieldDiscoverySources)
	}

	if mergeFingerprints(after, observed) {
		changed = append(changed, models.FieldFingerprints)
	}

	if obsTime.After(after.LastSeen) {
		after.LastSeen = obsTime
		changed = append(changed, models.FieldLastSeen)
	}

	if overrideChanged(after, observed) {
		changed = append(changed, models.FieldOnlineOverride)
	}

	if observed.RTTMillis != nil && (after.RTTMillis == nil || *after.RTTMillis != *observed.RTTMillis) {
		rtt := *observed.RTTMillis
		after.RTTMillis = &rtt
		changed = append(changed, models.FieldRTT)
	}

	return after, changed
}

// newDeviceFromObservation builds the canonical record for a first
// observation. firstSeen and lastSeen are both stamped with the
// observation time; the changed set lists every populated field.
func newDeviceFromObservation(observed *models.Device, id string, obsTime time.Time) (*models.Device, []string) {
	d := &models.Device{
		ID:        id,
		PrimaryIP: strings.TrimSpace(observed.PrimaryIP),
		Hostname:  strings.TrimSpace(observed.Hostname),
		Vendor:    strings.TrimSpace(observed.Vendor),
		ModelHint: strings.TrimSpace(observed.ModelHint),
		FirstSeen: obsTime,
		LastSeen:  obsTime,
	}

	if mac, ok := identity.NormalizeMAC(observed.MAC); ok {
		d.MAC = mac
	}

	d.IPs, _ = unionStrings(nil, observedIPs(observed)...)
	d.Services = models.NormalizeServices(observed.Services)
	d.OpenPorts = models.NormalizePorts(observed.OpenPorts)
	d.DiscoverySources, _ = unionSources(nil, observed.DiscoverySources)

	if len(observed.Fingerprints) > 0 {
		d.Fingerprints = make(map[string]string, len(observed.Fingerprints))
		for k, v := range observed.Fingerprints {
			if k == "" {
				continue
			}

			d.Fingerprints[k] = v
		}
	}

	if observed.OnlineOverride != nil {
		v := *observed.OnlineOverride
		d.OnlineOverride = &v
	}

	if observed.RTTMillis != nil {
		rtt := *observed.RTTMillis
		d.RTTMillis = &rtt
	}

	return d, populatedFields(d)
}

// populatedFields lists the field names set on a freshly created record,
// in the declaration order of the field constants.
func populatedFields(d *models.Device) []string {
	fields := make([]string, 0, 12)

	if d.PrimaryIP != "" {
		fields = append(fields, models.FieldPrimaryIP)
	}

	if len(d.IPs) > 0 {
		fields = append(fields, models.FieldIPs)
	}

	if d.Hostname != "" {
		fields = append(fields, models.FieldHostname)
	}

	if d.Vendor != "" {
		fields = append(fields, models.FieldVendor)
	}

	if d.MAC != "" {
		fields = append(fields, models.FieldMAC)
	}

	if d.ModelHint != "" {
		fields = append(fields, models.FieldModelHint)
	}

	if len(d.Services) > 0 {
		fields = append(fields, models.FieldServices)
	}

	if len(d.OpenPorts) > 0 {
		fields = append(fields, models.FieldOpenPorts)
	}

	if len(d.DiscoverySources) > 0 {
		fields = append(fields, models.FieldDiscoverySources)
	}

	if len(d.Fingerprints) > 0 {
		fields = append(fields, models.FieldFingerprints)
	}

	fields = append(fields, models.FieldFirstSeen, models.FieldLastSeen)

	if d.OnlineOverride != nil {
		fields = append(fields, models.FieldOnlineOverride)
	}

	if d.RTTMillis != nil {
		fields = append(fields, models.FieldRTT)
	}

	return fields
}

// observedIPs collects the observation's addresses, primary first.
func observedIPs(observed *models.Device) []string {
	ips := make([]string, 0, len(observed.IPs)+1)

	if ip := strings.TrimSpace(observed.PrimaryIP); ip != "" {
		ips = append(ips, ip)
	}

	return append(ips, observed.IPs...)
}

// unionStrings appends values not already present, preserving order, and
// reports whether the set grew.
func unionStrings(dst []string, values ...string) ([]string, bool) {
	grew := false

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(dst, v) {
			continue
		}

		dst = append(dst, v)
		grew = true
	}

	return dst, grew
}

func unionSources(dst []models.DiscoverySource, values []models.DiscoverySource) ([]models.DiscoverySource, bool) {
	grew := false

	for _, v := range values {
		if v == "" || slices.Contains(dst, v) {
			continue
		}

		dst = append(dst, v)
		grew = true
	}

	return dst, grew
}

func mergeFingerprints(after, observed *models.Device) bool {
	changed := false

	for k, v := range observed.Fingerprints {
		if k == "" {
			continue
		}

		if cur, ok := after.Fingerprints[k]; ok && cur == v {
			continue
		}

		if after.Fingerprints == nil {
			after.Fingerprints = make(map[string]string, len(observed.Fingerprints))
		}

		after.Fingerprints[k] = v
		changed = true
	}

	return changed
}

// overrideChanged applies the liveness-override rule on a genuine
// observation: an explicit override in the observation wins, otherwise a
// standing override is cleared.
func overrideChanged(after, observed *models.Device) bool {
	if observed.OnlineOverride != nil {
		if after.OnlineOverride != nil && *after.OnlineOverride == *observed.OnlineOverride {
			return false
		}

		v := *observed.OnlineOverride
		after.OnlineOverride = &v

		return true
	}

	if after.OnlineOverride != nil {
		after.OnlineOverride = nil
		return true
	}

	return false
}

func classificationEqual(a, b *models.Classification) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
