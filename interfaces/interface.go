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

import (
	"encoding/json"
	"fmt"
)

// MappingDefinition is the JSON-facing shape of a single mapping within an interface definition
// document, mirroring the Astarte interface JSON schema.
type MappingDefinition struct {
	Endpoint          string `json:"endpoint"`
	Type              string `json:"type"`
	ExplicitTimestamp bool   `json:"explicit_timestamp,omitempty"`
	Reliability       string `json:"reliability,omitempty"`
	AllowUnset        bool   `json:"allow_unset,omitempty"`
	Description       string `json:"description,omitempty"`
	Documentation     string `json:"doc,omitempty"`
}

// Definition is the JSON-facing shape of an interface definition document. Use ParseInterface
// to turn a document into a validated, immutable Interface.
type Definition struct {
	Name          string              `json:"interface_name"`
	MajorVersion  int                 `json:"version_major"`
	MinorVersion  int                 `json:"version_minor"`
	Type          string              `json:"type"`
	Ownership     string              `json:"ownership"`
	Aggregation   string              `json:"aggregation,omitempty"`
	Description   string              `json:"description,omitempty"`
	Documentation string              `json:"doc,omitempty"`
	Mappings      []MappingDefinition `json:"mappings"`
}

// Interface is an immutable, validated Astarte interface schema: what a device may publish or
// receive, along with enough information to validate paths, payloads and timestamps against it.
type Interface struct {
	Name         string
	MajorVersion int
	MinorVersion int
	Type         Type
	Ownership    Ownership
	Aggregation  Aggregation
	Mappings     []Mapping
}

// requiredFields mirrors Definition but with pointer fields, used purely to detect missing
// required JSON fields before applying defaults - the same shadow-struct trick the management
// client uses to validate a document before committing to its zero-valued defaults.
type requiredFields struct {
	Name         *string `json:"interface_name"`
	MajorVersion *int    `json:"version_major"`
	MinorVersion *int    `json:"version_minor"`
	Type         *string `json:"type"`
	Ownership    *string `json:"ownership"`
	Mappings     []struct {
		Endpoint *string `json:"endpoint"`
		Type     *string `json:"type"`
	} `json:"mappings"`
}

func (r *requiredFields) ensurePresent(b []byte) error {
	if err := json.Unmarshal(b, r); err != nil {
		return err
	}
	if r.Name == nil || *r.Name == "" {
		return &SchemaError{Reason: ReasonMissingField, Msg: "interface_name must be set"}
	}
	if r.MajorVersion == nil {
		return &SchemaError{Interface: *r.Name, Reason: ReasonMissingField, Msg: "version_major must be set"}
	}
	if r.MinorVersion == nil {
		return &SchemaError{Interface: *r.Name, Reason: ReasonMissingField, Msg: "version_minor must be set"}
	}
	if r.Type == nil {
		return &SchemaError{Interface: *r.Name, Reason: ReasonMissingField, Msg: "type must be set"}
	}
	if r.Ownership == nil {
		return &SchemaError{Interface: *r.Name, Reason: ReasonMissingField, Msg: "ownership must be set"}
	}
	if len(r.Mappings) == 0 {
		return &SchemaError{Interface: *r.Name, Reason: ReasonEmptyMappings, Msg: "no mappings are present"}
	}
	for _, m := range r.Mappings {
		if m.Endpoint == nil || *m.Endpoint == "" {
			return &SchemaError{Interface: *r.Name, Reason: ReasonMissingField, Msg: "missing endpoint in mapping"}
		}
		if m.Type == nil {
			return &SchemaError{Interface: *r.Name, Reason: ReasonMissingField, Msg: "missing type in mapping"}
		}
	}
	return nil
}

// ParseInterface parses an interface definition document and returns a validated Interface.
// Use this rather than json.Unmarshal directly: it applies the required-field check before
// handing the result to FromDefinition, which applies the defaulting rules (aggregation defaults
// to individual, mapping reliability defaults depend on interface type).
func ParseInterface(document []byte) (Interface, error) {
	required := requiredFields{}
	if err := required.ensurePresent(document); err != nil {
		return Interface{}, err
	}

	def := Definition{}
	if err := json.Unmarshal(document, &def); err != nil {
		return Interface{}, err
	}
	return FromDefinition(def)
}

// FromDefinition validates all the §3/§4.1 invariants and builds an immutable Interface, or
// returns a SchemaError describing the first violation found.
func FromDefinition(def Definition) (Interface, error) {
	iface := Interface{
		Name:         def.Name,
		MajorVersion: def.MajorVersion,
		MinorVersion: def.MinorVersion,
	}

	if !isValidInterfaceName(def.Name) {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonBadName, Msg: fmt.Sprintf("invalid interface name %q", def.Name)}
	}
	if def.MajorVersion < 0 || def.MinorVersion < 0 {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonMissingField, Msg: "version numbers must be non-negative"}
	}
	if def.MajorVersion == 0 && def.MinorVersion == 0 {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonBothVersionsZero, Msg: "version_major and version_minor cannot both be zero"}
	}

	ifaceType := Type(def.Type)
	if err := ifaceType.IsValid(); err != nil {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonUnknownType, Msg: err.Error()}
	}
	iface.Type = ifaceType

	ownership := Ownership(def.Ownership)
	if err := ownership.IsValid(); err != nil {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonUnknownOwnership, Msg: err.Error()}
	}
	iface.Ownership = ownership

	aggregation := Aggregation(def.Aggregation)
	if def.Aggregation == "" {
		aggregation = IndividualAggregation
	}
	if err := aggregation.IsValid(); err != nil {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonUnknownAggregation, Msg: err.Error()}
	}
	if aggregation == ObjectAggregation && ifaceType == PropertiesType {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonObjectProperties, Msg: "properties interfaces must use individual aggregation"}
	}
	iface.Aggregation = aggregation

	if len(def.Mappings) == 0 {
		return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonEmptyMappings, Msg: "no mappings are present"}
	}

	mappings := make([]Mapping, 0, len(def.Mappings))
	seenEndpoints := map[string]bool{}
	for _, md := range def.Mappings {
		mapping, err := buildMapping(def.Name, md, ifaceType)
		if err != nil {
			return Interface{}, err
		}
		if seenEndpoints[mapping.Endpoint] {
			return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonDuplicateEndpoint, Msg: fmt.Sprintf("duplicate endpoint %q", mapping.Endpoint)}
		}
		seenEndpoints[mapping.Endpoint] = true
		mappings = append(mappings, mapping)
	}

	if aggregation == ObjectAggregation {
		first := mappings[0]
		for _, m := range mappings[1:] {
			if m.ExplicitTimestamp != first.ExplicitTimestamp || m.Reliability != first.Reliability {
				return Interface{}, &SchemaError{Interface: def.Name, Reason: ReasonHeterogeneousObject, Msg: "all mappings of an object-aggregated interface must share explicit_timestamp and reliability"}
			}
		}
	}

	iface.Mappings = mappings
	return iface, nil
}

func buildMapping(ifaceName string, md MappingDefinition, ifaceType Type) (Mapping, error) {
	if !isValidEndpoint(md.Endpoint) {
		return Mapping{}, &SchemaError{Interface: ifaceName, Reason: ReasonBadEndpoint, Msg: fmt.Sprintf("malformed endpoint %q", md.Endpoint)}
	}

	mappingType := MappingType(md.Type)
	if err := mappingType.IsValid(); err != nil {
		return Mapping{}, &SchemaError{Interface: ifaceName, Reason: ReasonUnknownType, Msg: err.Error()}
	}

	isDatastream := ifaceType == DatastreamType

	if !isDatastream && (md.ExplicitTimestamp || md.Reliability != "") {
		return Mapping{}, &SchemaError{Interface: ifaceName, Reason: ReasonPropertyOnlyField, Msg: fmt.Sprintf("explicit_timestamp/reliability have no meaning for property mapping %q", md.Endpoint)}
	}
	if isDatastream && md.AllowUnset {
		return Mapping{}, &SchemaError{Interface: ifaceName, Reason: ReasonDatastreamOnlyField, Msg: fmt.Sprintf("allow_unset has no meaning for datastream mapping %q", md.Endpoint)}
	}

	reliability := Unreliable
	if isDatastream {
		if md.Reliability != "" {
			r, ok := reliabilityNames[md.Reliability]
			if !ok {
				return Mapping{}, &SchemaError{Interface: ifaceName, Reason: ReasonUnknownType, Msg: fmt.Sprintf("invalid reliability %q", md.Reliability)}
			}
			reliability = r
		}
	} else {
		reliability = Unique
	}

	return Mapping{
		Endpoint:          md.Endpoint,
		Type:              mappingType,
		ExplicitTimestamp: isDatastream && md.ExplicitTimestamp,
		Reliability:       reliability,
		AllowUnset:        md.AllowUnset,
	}, nil
}

// IsParametric returns whether the interface has at least one parametric mapping.
func (i Interface) IsParametric() bool {
	for _, m := range i.Mappings {
		if m.IsEndpointParametric() {
			return true
		}
	}
	return false
}

// IsServerOwned returns whether the interface is owned by the server.
func (i Interface) IsServerOwned() bool { return i.Ownership == ServerOwnership }

// IsDeviceOwned returns whether the interface is owned by the device.
func (i Interface) IsDeviceOwned() bool { return i.Ownership == DeviceOwnership }

// IsProperties returns whether the interface is a properties interface.
func (i Interface) IsProperties() bool { return i.Type == PropertiesType }

// IsObjectAggregated returns whether the interface aggregates its mappings under a common path.
func (i Interface) IsObjectAggregated() bool { return i.Aggregation == ObjectAggregation }

// GetMapping returns the unique mapping whose endpoint template matches path, or nil.
func (i Interface) GetMapping(path string) *Mapping {
	for idx := range i.Mappings {
		if i.Mappings[idx].matches(path) {
			return &i.Mappings[idx]
		}
	}
	return nil
}

// IsPropertyEndpointResettable returns true iff the interface is properties-typed and the
// mapping matched by path has allow_unset set. allow_unset is honored regardless of ownership:
// it governs receiver-side acceptance of empty payloads (see Open Questions).
func (i Interface) IsPropertyEndpointResettable(path string) bool {
	if !i.IsProperties() {
		return false
	}
	mapping := i.GetMapping(path)
	return mapping != nil && mapping.AllowUnset
}

// Reliability returns the wire reliability to use when publishing to path: 2 for property
// interfaces, the matched mapping's reliability for individual datastreams, and the interface's
// shared reliability for object-aggregated datastreams.
func (i Interface) Reliability(path string) (Reliability, error) {
	if i.IsProperties() {
		return Unique, nil
	}
	if !i.IsObjectAggregated() {
		mapping := i.GetMapping(path)
		if mapping == nil {
			return 0, &ValidationError{Msg: fmt.Sprintf("path %s not declared in %s", path, i.Name)}
		}
		return mapping.Reliability, nil
	}
	return i.Mappings[0].Reliability, nil
}

// ValidatePath checks that path resolves against the interface's mappings. For individual
// aggregation, path must match exactly one mapping. For object aggregation, path is the common
// prefix and every key of payload, joined to path, must resolve to a mapping.
func (i Interface) ValidatePath(path string, payload map[string]Value) error {
	if !i.IsObjectAggregated() {
		if i.GetMapping(path) == nil {
			return &ValidationError{Msg: fmt.Sprintf("path %s not in the %s interface", path, i.Name)}
		}
		return nil
	}
	for k := range payload {
		childPath := joinPath(path, k)
		if i.GetMapping(childPath) == nil {
			return &ValidationError{Msg: fmt.Sprintf("path %s not in the %s interface", childPath, i.Name)}
		}
	}
	return nil
}

// ValidatePayload checks an individual value against the mapping matched by path.
func (i Interface) ValidatePayload(path string, value Value) error {
	if i.IsObjectAggregated() {
		return &ValidationError{Msg: fmt.Sprintf("interface %s is object-aggregated, use ValidateObjectPayload", i.Name)}
	}
	mapping := i.GetMapping(path)
	if mapping == nil {
		return &ValidationError{Msg: fmt.Sprintf("mapping not found for path %s", path)}
	}
	return mapping.ValidatePayload(value)
}

// ValidateObjectPayload checks an aggregate payload against the interface. For device-owned
// interfaces, payload must cover every endpoint under path (completeness); server-owned
// interfaces may be published partially.
func (i Interface) ValidateObjectPayload(path string, payload map[string]Value) error {
	if !i.IsObjectAggregated() {
		return &ValidationError{Msg: fmt.Sprintf("interface %s is not object-aggregated", i.Name)}
	}
	for k, v := range payload {
		childPath := joinPath(path, k)
		mapping := i.GetMapping(childPath)
		if mapping == nil {
			return &ValidationError{Msg: fmt.Sprintf("mapping not found for path %s", childPath)}
		}
		if err := mapping.ValidatePayload(v); err != nil {
			return err
		}
	}
	if i.IsDeviceOwned() {
		return i.validateObjectCompleteness(path, payload)
	}
	return nil
}

func (i Interface) validateObjectCompleteness(path string, payload map[string]Value) error {
	prefixDepth := len(splitPath(path))
	for _, m := range i.Mappings {
		tokens := splitPath(m.Endpoint)
		if len(tokens) <= prefixDepth {
			continue
		}
		key := joinTokens(tokens[prefixDepth:])
		if _, ok := payload[key]; !ok {
			return &ValidationError{Msg: fmt.Sprintf("path %s of %s interface not in payload", m.Endpoint, i.Name)}
		}
	}
	return nil
}

// ValidateTimestamp enforces the explicit_timestamp contract for path; for object aggregation all
// mappings share the same requirement, so the first mapping reached through path is sufficient.
func (i Interface) ValidateTimestamp(path string, hasTimestamp bool) error {
	if i.IsProperties() {
		if hasTimestamp {
			return &ValidationError{Msg: "properties do not accept timestamps"}
		}
		return nil
	}
	if !i.IsObjectAggregated() {
		mapping := i.GetMapping(path)
		if mapping == nil {
			return &ValidationError{Msg: fmt.Sprintf("path %s not in the %s interface", path, i.Name)}
		}
		return mapping.ValidateTimestamp(hasTimestamp)
	}
	return i.Mappings[0].ValidateTimestamp(hasTimestamp)
}
