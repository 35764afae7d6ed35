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

package enumerate

import (
	"net"
	"strings"
)

// NewBroadcastFilter builds the phantom-device guard from the attached
// networks. An address is rejected when it is the limited broadcast, the
// network or directed-broadcast address of an attached subnet, or ends
// in .0 or .255 (a heuristic for subnets this machine is not attached
// to). The heuristic can reject a handful of legitimate hosts inside
// networks wider than /24; losing those to probing is the accepted cost
// of never inventing a broadcast device.
func NewBroadcastFilter(networks []*net.IPNet) func(ip string) bool {
	return func(raw string) bool {
		ip := net.ParseIP(strings.TrimSpace(raw))
		if ip == nil || ip.To4() == nil {
			return false
		}

		v4 := ip.To4()

		if v4.Equal(net.IPv4bcast) {
			return true
		}

		for _, n := range networks {
			if !n.Contains(v4) {
				continue
			}

			if v4.Equal(n.IP.Mask(n.Mask)) || isBroadcast(v4, n) {
				return true
			}
		}

		last := v4[3]

		return last == 0 || last == 255
	}
}
