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

// ScanPhase is a stage of the staged discovery cycle.
type ScanPhase string

const (
	PhaseIdle        ScanPhase = "idle"
	PhaseEnumerating ScanPhase = "enumerating"
	PhaseMDNSWarmup  ScanPhase = "mdnsWarmup"
	PhasePinging     ScanPhase = "pinging"
	PhaseARPPriming  ScanPhase = "arpPriming"
	PhaseARPRefresh  ScanPhase = "arpRefresh"
	PhaseFinished    ScanPhase = "finished"
)

// ScanProgress tracks one active scan cycle for observers. Counts refer to
// hosts handed to the active-probe stage.
type ScanProgress struct {
	TotalHosts     int       `json:"total_hosts"`
	CompletedHosts int       `json:"completed_hosts"`
	SuccessHosts   int       `json:"success_hosts"`
	Started        bool      `json:"started"`
	Finished       bool      `json:"finished"`
	Phase          ScanPhase `json:"phase"`
}

// ControlState is the orthogonal pair of discovery controls: passive
// multicast browsing and the active scan cycle.
type ControlState struct {
	PassiveDiscoveryActive bool `json:"passive_discovery_active"`
	ActiveScanInProgress   bool `json:"active_scan_in_progress"`
}
