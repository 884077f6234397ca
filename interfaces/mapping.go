// Copyright © 2020 Ispirata Srl
//
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

package interfaces

// Mapping represents a single endpoint template within an Interface, fully typed.
type Mapping struct {
	Endpoint          string
	Type              MappingType
	ExplicitTimestamp bool
	Reliability       Reliability
	AllowUnset        bool
}

// IsEndpointParametric returns whether the mapping's endpoint has a %{...} placeholder.
func (m Mapping) IsEndpointParametric() bool {
	return isParametric(m.Endpoint)
}

// matches returns whether concretePath is an instantiation of this mapping's endpoint.
func (m Mapping) matches(concretePath string) bool {
	return matchesEndpoint(m.Endpoint, concretePath)
}

// ValidatePayload validates a Value against this mapping's type. Range and finiteness constraints
// are enforced when a Value is built (the typed constructors and ValueFromAny), so this only
// compares tags: it guards against a caller handing over a Value built for a different
// MappingType (e.g. reusing a Value across mappings).
func (m Mapping) ValidatePayload(v Value) error {
	if v.Type() != m.Type {
		return &ValidationError{Msg: "value type " + string(v.Type()) + " does not match mapping type " + string(m.Type) + " for endpoint " + m.Endpoint}
	}
	return nil
}

// ValidateTimestamp enforces the explicit_timestamp contract: a timestamp is required iff the
// mapping declares explicit_timestamp, and forbidden otherwise.
func (m Mapping) ValidateTimestamp(hasTimestamp bool) error {
	if m.ExplicitTimestamp && !hasTimestamp {
		return &ValidationError{Msg: "timestamp required for " + m.Endpoint}
	}
	if !m.ExplicitTimestamp && hasTimestamp {
		return &ValidationError{Msg: "it is not possible to set a timestamp for " + m.Endpoint}
	}
	return nil
}
