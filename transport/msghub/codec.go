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

package msghub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/device"
	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// aggregationAware mirrors transport/mqtt's capability check: a resolver that can also tell
// object-aggregated interfaces apart from individual ones.
type aggregationAware interface {
	IsObjectAggregated(interfaceName string) (isObject bool, known bool)
}

// encodeOutbound turns the BSON {v[, t]} payload the device core already built - the same bytes
// transport/mqtt would publish verbatim - into an AstarteMessage for Client.Send. The core treats
// BSON as its internal publish-side wire format regardless of adapter, so msghub decodes it back
// out rather than threading a second, BSON-free publish path through device.Transport.
func encodeOutbound(resolver device.MappingResolver, interfaceName, path string, payload []byte, isProperty bool) (*AstarteMessage, error) {
	isObject := false
	if ar, ok := resolver.(aggregationAware); ok {
		if known, isKnown := ar.IsObjectAggregated(interfaceName); isKnown {
			isObject = known
		}
	}

	if isObject {
		values, hasTimestamp, timestamp, err := decodeObjectPayload(resolver, interfaceName, path, payload)
		if err != nil {
			return nil, err
		}
		var ts *time.Time
		if hasTimestamp {
			ts = &timestamp
		}
		return &AstarteMessage{
			InterfaceName:    interfaceName,
			Path:             path,
			DatastreamObject: &DatastreamObject{Values: values, Timestamp: ts},
		}, nil
	}

	value, hasTimestamp, timestamp, err := decodeIndividualPayload(resolver, interfaceName, path, payload)
	if err != nil {
		return nil, err
	}

	if isProperty {
		return &AstarteMessage{
			InterfaceName:      interfaceName,
			Path:               path,
			PropertyIndividual: &PropertyIndividual{Value: value},
		}, nil
	}

	if value == nil {
		return nil, fmt.Errorf("msghub: empty payload for datastream %s%s", interfaceName, path)
	}
	var ts *time.Time
	if hasTimestamp {
		ts = &timestamp
	}
	return &AstarteMessage{
		InterfaceName:        interfaceName,
		Path:                 path,
		DatastreamIndividual: &DatastreamIndividual{Value: *value, Timestamp: ts},
	}, nil
}

// decodeIndividualPayload parses a single-mapping `{v[, t]}` BSON document. An empty payload
// decodes to a nil value, representing a property unset.
func decodeIndividualPayload(resolver device.MappingResolver, interfaceName, path string, data []byte) (value *interfaces.Value, hasTimestamp bool, timestamp time.Time, err error) {
	if len(data) == 0 {
		return nil, false, time.Time{}, nil
	}

	mapping, ok := resolver.ResolveMapping(interfaceName, path)
	if !ok {
		return nil, false, time.Time{}, fmt.Errorf("msghub: %s%s not declared in introspection", interfaceName, path)
	}

	var raw bson.M
	if unmarshalErr := bson.Unmarshal(data, &raw); unmarshalErr != nil {
		return nil, false, time.Time{}, fmt.Errorf("msghub: decode bson payload: %w", unmarshalErr)
	}

	v, ok := raw["v"]
	if !ok {
		return nil, false, time.Time{}, fmt.Errorf("msghub: bson payload missing \"v\"")
	}

	decoded, err := interfaces.ValueFromAny(mapping.Type, normalizeAny(v))
	if err != nil {
		return nil, false, time.Time{}, fmt.Errorf("msghub: decode value for %s%s: %w", interfaceName, path, err)
	}

	if t, ok := raw["t"]; ok {
		ts, ok := normalizeAny(t).(time.Time)
		if !ok {
			return nil, false, time.Time{}, fmt.Errorf("msghub: bson payload \"t\" is not a timestamp")
		}
		return &decoded, true, ts.UTC(), nil
	}
	return &decoded, false, time.Time{}, nil
}

// decodeObjectPayload parses an object-aggregated `{v: {key: value, ...}[, t]}` BSON document.
func decodeObjectPayload(resolver device.MappingResolver, interfaceName, basePath string, data []byte) (values map[string]interfaces.Value, hasTimestamp bool, timestamp time.Time, err error) {
	var raw bson.M
	if unmarshalErr := bson.Unmarshal(data, &raw); unmarshalErr != nil {
		return nil, false, time.Time{}, fmt.Errorf("msghub: decode bson payload: %w", unmarshalErr)
	}

	inner, ok := raw["v"].(bson.M)
	if !ok {
		return nil, false, time.Time{}, fmt.Errorf("msghub: bson object payload missing \"v\" document")
	}

	values = make(map[string]interfaces.Value, len(inner))
	for key, item := range inner {
		mapping, ok := resolver.ResolveMapping(interfaceName, basePath+"/"+key)
		if !ok {
			return nil, false, time.Time{}, fmt.Errorf("msghub: object payload key %q has no matching mapping", key)
		}
		v, err := interfaces.ValueFromAny(mapping.Type, normalizeAny(item))
		if err != nil {
			return nil, false, time.Time{}, fmt.Errorf("msghub: decode object field %q: %w", key, err)
		}
		values[key] = v
	}

	if t, ok := raw["t"]; ok {
		ts, ok := normalizeAny(t).(time.Time)
		if !ok {
			return nil, false, time.Time{}, fmt.Errorf("msghub: bson payload \"t\" is not a timestamp")
		}
		return values, true, ts.UTC(), nil
	}
	return values, false, time.Time{}, nil
}

// normalizeAny widens the driver-specific types bson.Unmarshal produces into a bson.M into the
// plain Go shapes interfaces.ValueFromAny expects: bson.A into []any, primitive.Binary into
// []byte, and primitive.DateTime into time.Time.
func normalizeAny(v any) any {
	switch t := v.(type) {
	case bson.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeAny(item)
		}
		return out
	case primitive.Binary:
		return t.Data
	case primitive.DateTime:
		return t.Time()
	default:
		return v
	}
}

// interfaceDefinition is the JSON-facing shape Node.InterfacesJSON entries take, mirroring
// interfaces.Definition. Interface itself doesn't retain the document it was parsed from, so
// attaching to the hub re-serializes one from the validated, typed Interface instead.
type interfaceDefinition struct {
	Name         string              `json:"interface_name"`
	MajorVersion int                 `json:"version_major"`
	MinorVersion int                 `json:"version_minor"`
	Type         string              `json:"type"`
	Ownership    string              `json:"ownership"`
	Aggregation  string              `json:"aggregation,omitempty"`
	Mappings     []mappingDefinition `json:"mappings"`
}

type mappingDefinition struct {
	Endpoint          string `json:"endpoint"`
	Type              string `json:"type"`
	ExplicitTimestamp bool   `json:"explicit_timestamp,omitempty"`
	Reliability       string `json:"reliability,omitempty"`
	AllowUnset        bool   `json:"allow_unset,omitempty"`
}

var reliabilityStrings = map[interfaces.Reliability]string{
	interfaces.Unreliable: "unreliable",
	interfaces.Guaranteed: "guaranteed",
	interfaces.Unique:     "unique",
}

// interfaceJSON re-serializes iface into the document form the hub expects in Node.InterfacesJSON.
func interfaceJSON(iface interfaces.Interface) (string, error) {
	def := interfaceDefinition{
		Name:         iface.Name,
		MajorVersion: iface.MajorVersion,
		MinorVersion: iface.MinorVersion,
		Type:         string(iface.Type),
		Ownership:    string(iface.Ownership),
		Aggregation:  string(iface.Aggregation),
		Mappings:     make([]mappingDefinition, 0, len(iface.Mappings)),
	}
	for _, m := range iface.Mappings {
		def.Mappings = append(def.Mappings, mappingDefinition{
			Endpoint:          m.Endpoint,
			Type:              string(m.Type),
			ExplicitTimestamp: m.ExplicitTimestamp,
			Reliability:       reliabilityStrings[m.Reliability],
			AllowUnset:        m.AllowUnset,
		})
	}
	encoded, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("msghub: encode interface %s: %w", iface.Name, err)
	}
	return string(encoded), nil
}
