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

package models

// MutationKind discriminates the two event shapes carried on the bus.
type MutationKind string

const (
	MutationSnapshot MutationKind = "snapshot"
	MutationChange   MutationKind = "change"
)

// Mutation is one event on the device bus: either a full snapshot of the
// canonical collection or an incremental change for a single device.
type Mutation struct {
	Kind MutationKind `json:"kind"`

	// Devices is the full replacement list for snapshot mutations.
	Devices []*Device `json:"devices,omitempty"`

	// Change fields. Before is nil on creation. ChangedFields holds the
	// exact set of attribute names that differ between Before and After.
	Before        *Device         `json:"before,omitempty"`
	After         *Device         `json:"after,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
	Source        DiscoverySource `json:"source,omitempty"`

	// Canonical marks mutations re-published by the reconciler after a
	// merge. Raw provider observations leave it false; the reconciler only
	// folds non-canonical changes, so its own output never loops back in.
	Canonical bool `json:"canonical,omitempty"`
}

// NewSnapshot builds a snapshot mutation.
func NewSnapshot(devices []*Device) Mutation {
	return Mutation{Kind: MutationSnapshot, Devices: devices}
}

// NewChange builds a change mutation for one device.
func NewChange(before, after *Device, changedFields []string, source DiscoverySource) Mutation {
	return Mutation{
		Kind:          MutationChange,
		Before:        before,
		After:         after,
		ChangedFields: changedFields,
		Source:        source,
	}
}

// FieldsChanged reports whether any of the given field names appear in the
// mutation's changed set.
func (m *Mutation) FieldsChanged(fields ...string) bool {
	for _, want := range fields {
		for _, have := range m.ChangedFields {
			if have == want {
				return true
			}
		}
	}

	return false
}
