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

package orchestrator

import "errors"

var (
	// ErrScanInProgress occurs when StartScan is called while a sweep is
	// still running. Callers stop the current sweep first.
	ErrScanInProgress = errors.New("active scan already in progress")

	ErrNilScheduler      = errors.New("scheduler is required")
	ErrNilProber         = errors.New("prober is required")
	ErrNoPassiveSource   = errors.New("no passive discovery source configured")
	ErrNoNeighborSource  = errors.New("no neighbor-table source configured")
	ErrEnumerationFailed = errors.New("host enumeration failed")
)
