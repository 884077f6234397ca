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
	"errors"
	"testing"
)

func validDatastreamDef() Definition {
	return Definition{
		Name:         "com.x.T",
		MajorVersion: 0,
		MinorVersion: 1,
		Type:         "datastream",
		Ownership:    "device",
		Mappings: []MappingDefinition{
			{Endpoint: "/s/v", Type: "integer"},
		},
	}
}

func TestFromDefinitionBothVersionsZero(t *testing.T) {
	def := validDatastreamDef()
	def.MajorVersion = 0
	def.MinorVersion = 0

	_, err := FromDefinition(def)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if schemaErr.Reason != ReasonBothVersionsZero {
		t.Errorf("expected ReasonBothVersionsZero, got %v", schemaErr.Reason)
	}
}

func TestFromDefinitionBadName(t *testing.T) {
	def := validDatastreamDef()
	def.Name = "1.invalid"

	_, err := FromDefinition(def)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Reason != ReasonBadName {
		t.Fatalf("expected ReasonBadName, got %v", err)
	}
}

func TestFromDefinitionDuplicateEndpoint(t *testing.T) {
	def := validDatastreamDef()
	def.Mappings = append(def.Mappings, MappingDefinition{Endpoint: "/s/v", Type: "double"})

	_, err := FromDefinition(def)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Reason != ReasonDuplicateEndpoint {
		t.Fatalf("expected ReasonDuplicateEndpoint, got %v", err)
	}
}

func TestFromDefinitionEmptyMappings(t *testing.T) {
	def := validDatastreamDef()
	def.Mappings = nil

	if _, err := FromDefinition(def); err == nil {
		t.Fatal("expected error for empty mappings")
	}
}

func TestFromDefinitionObjectOnProperties(t *testing.T) {
	def := validDatastreamDef()
	def.Type = "properties"
	def.Aggregation = "object"
	def.Mappings = []MappingDefinition{{Endpoint: "/s/v", Type: "integer"}}

	_, err := FromDefinition(def)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Reason != ReasonObjectProperties {
		t.Fatalf("expected ReasonObjectProperties, got %v", err)
	}
}

func TestFromDefinitionHeterogeneousObject(t *testing.T) {
	def := validDatastreamDef()
	def.Aggregation = "object"
	def.Mappings = []MappingDefinition{
		{Endpoint: "/s/x", Type: "integer", Reliability: "guaranteed"},
		{Endpoint: "/s/y", Type: "integer", Reliability: "unreliable"},
	}

	_, err := FromDefinition(def)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Reason != ReasonHeterogeneousObject {
		t.Fatalf("expected ReasonHeterogeneousObject, got %v", err)
	}
}

func TestFromDefinitionExplicitTimestampOnProperty(t *testing.T) {
	def := validDatastreamDef()
	def.Type = "properties"
	def.Mappings = []MappingDefinition{{Endpoint: "/s/v", Type: "integer", ExplicitTimestamp: true}}

	_, err := FromDefinition(def)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Reason != ReasonPropertyOnlyField {
		t.Fatalf("expected ReasonPropertyOnlyField, got %v", err)
	}
}

func TestFromDefinitionAllowUnsetOnDatastream(t *testing.T) {
	def := validDatastreamDef()
	def.Mappings = []MappingDefinition{{Endpoint: "/s/v", Type: "integer", AllowUnset: true}}

	_, err := FromDefinition(def)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Reason != ReasonDatastreamOnlyField {
		t.Fatalf("expected ReasonDatastreamOnlyField, got %v", err)
	}
}

func TestGetMappingUniqueMatch(t *testing.T) {
	def := validDatastreamDef()
	def.Mappings = []MappingDefinition{
		{Endpoint: "/%{sensor_id}/value", Type: "integer"},
		{Endpoint: "/%{sensor_id}/unit", Type: "string"},
	}
	iface, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}

	m := iface.GetMapping("/temp0/value")
	if m == nil || m.Endpoint != "/%{sensor_id}/value" {
		t.Fatalf("expected value mapping, got %v", m)
	}
	if iface.GetMapping("/temp0/missing") != nil {
		t.Error("expected no match for unknown segment")
	}
}

func TestSendIndividualTimestampRejected(t *testing.T) {
	iface, err := FromDefinition(validDatastreamDef())
	if err != nil {
		t.Fatal(err)
	}
	if err := iface.ValidateTimestamp("/s/v", true); err == nil {
		t.Error("expected ValidationError for unexpected timestamp")
	}
	if err := iface.ValidateTimestamp("/s/v", false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestObjectCompletenessDeviceOwned(t *testing.T) {
	def := Definition{
		Name: "com.x.Obj", MajorVersion: 1, MinorVersion: 0,
		Type: "datastream", Ownership: "device", Aggregation: "object",
		Mappings: []MappingDefinition{
			{Endpoint: "/s/x", Type: "integer"},
			{Endpoint: "/s/y", Type: "integer"},
		},
	}
	iface, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}

	complete := map[string]Value{"x": NewInteger(1), "y": NewInteger(2)}
	if err := iface.ValidateObjectPayload("/s", complete); err != nil {
		t.Errorf("expected complete payload to validate, got %v", err)
	}

	incomplete := map[string]Value{"x": NewInteger(1)}
	if err := iface.ValidateObjectPayload("/s", incomplete); err == nil {
		t.Error("expected incomplete payload to fail validation")
	}
}

func TestObjectPayloadServerOwnedAllowsPartial(t *testing.T) {
	def := Definition{
		Name: "com.x.Obj", MajorVersion: 1, MinorVersion: 0,
		Type: "datastream", Ownership: "server", Aggregation: "object",
		Mappings: []MappingDefinition{
			{Endpoint: "/s/x", Type: "integer"},
			{Endpoint: "/s/y", Type: "integer"},
		},
	}
	iface, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}

	partial := map[string]Value{"x": NewInteger(1)}
	if err := iface.ValidateObjectPayload("/s", partial); err != nil {
		t.Errorf("expected partial payload on server-owned interface to validate, got %v", err)
	}
}

func TestIsPropertyEndpointResettableHonorsAllowUnsetRegardlessOfOwnership(t *testing.T) {
	def := Definition{
		Name: "com.y.P", MajorVersion: 0, MinorVersion: 1,
		Type: "properties", Ownership: "server",
		Mappings: []MappingDefinition{
			{Endpoint: "/a/b", Type: "boolean", AllowUnset: true},
		},
	}
	iface, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}
	if !iface.IsPropertyEndpointResettable("/a/b") {
		t.Error("expected server-owned property with allow_unset to be resettable")
	}
}

func TestReliabilityProperty(t *testing.T) {
	def := Definition{
		Name: "com.y.P", MajorVersion: 0, MinorVersion: 1,
		Type: "properties", Ownership: "device",
		Mappings: []MappingDefinition{{Endpoint: "/a/b", Type: "boolean"}},
	}
	iface, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}
	r, err := iface.Reliability("/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if r != Unique {
		t.Errorf("expected property reliability to be Unique, got %v", r)
	}
}

func TestParseInterfaceMissingField(t *testing.T) {
	_, err := ParseInterface([]byte(`{"version_major": 1, "version_minor": 0, "type": "datastream", "ownership": "device", "mappings": [{"endpoint": "/s/v", "type": "integer"}]}`))
	if err == nil {
		t.Fatal("expected error for missing interface_name")
	}
}
