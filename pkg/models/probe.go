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

import "time"

const (
	defaultProbeCount    = 3
	defaultProbeInterval = 200 * time.Millisecond
	defaultProbeTimeout  = 2 * time.Second
)

// ProbeConfig controls a reachability probe run against a single host.
type ProbeConfig struct {
	Count    int      `json:"count"`
	Interval Duration `json:"interval"`
	Timeout  Duration `json:"timeout"`
}

// Normalized returns a copy with zero values replaced by defaults.
func (c ProbeConfig) Normalized() ProbeConfig {
	if c.Count <= 0 {
		c.Count = defaultProbeCount
	}

	if c.Interval <= 0 {
		c.Interval = Duration(defaultProbeInterval)
	}

	if c.Timeout <= 0 {
		c.Timeout = Duration(defaultProbeTimeout)
	}

	return c
}

// ProbeResult is one attempt from a probe sequence. A failed attempt
// carries Success=false; Err is diagnostic only and may be nil on a plain
// timeout.
type ProbeResult struct {
	Host    string
	Seq     int
	Success bool
	RTT     time.Duration
	Err     error
}
