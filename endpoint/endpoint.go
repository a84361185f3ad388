// Copyright 2025 QueryFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package endpoint

import (
	"time"
)

// HealthState is the live health of a tool-provider endpoint.
type HealthState string

const (
	// Healthy endpoints are preferred for routing.
	Healthy HealthState = "HEALTHY"

	// Degraded endpoints have crossed the failure threshold but are
	// still routable when no healthy candidate serves a tool.
	Degraded HealthState = "DEGRADED"

	// Unreachable endpoints are excluded from routing unless they are
	// the only candidates left.
	Unreachable HealthState = "UNREACHABLE"
)

// Endpoint is a single network-addressable tool-provider service instance.
// Static identity comes from configuration; health fields are mutated only
// through the Registry.
type Endpoint struct {
	Name       string
	Category   string
	Address    string
	Credential string // opaque credential reference
	Tools      []string

	// Health state, owned by the Registry. Read through Registry methods
	// or from the snapshot returned by Lookup.
	State                HealthState
	LastCheck            time.Time
	LastFailure          time.Time
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// ServesTool reports whether the endpoint declares the given tool.
func (e *Endpoint) ServesTool(tool string) bool {
	for _, t := range e.Tools {
		if t == tool {
			return true
		}
	}
	return false
}
