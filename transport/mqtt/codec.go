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

package mqtt

import (
	"fmt"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/device"
	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// decodeIndividual parses a single-mapping `{v[, t]}` payload resolved through resolver. An empty
// payload decodes to a nil value, representing a property unset.
func decodeIndividual(resolver device.MappingResolver, interfaceName, path string, data []byte) (value *interfaces.Value, hasTimestamp bool, timestamp time.Time, err error) {
	if len(data) == 0 {
		return nil, false, time.Time{}, nil
	}

	mapping, ok := resolver.ResolveMapping(interfaceName, path)
	if !ok {
		return nil, false, time.Time{}, fmt.Errorf("mqtt: %s%s not declared in introspection", interfaceName, path)
	}

	var raw bson.M
	if unmarshalErr := bson.Unmarshal(data, &raw); unmarshalErr != nil {
		return nil, false, time.Time{}, fmt.Errorf("mqtt: decode bson payload: %w", unmarshalErr)
	}

	v, ok := raw["v"]
	if !ok {
		return nil, false, time.Time{}, fmt.Errorf("mqtt: bson payload missing \"v\"")
	}

	decoded, err := interfaces.ValueFromAny(mapping.Type, normalizeAny(v))
	if err != nil {
		return nil, false, time.Time{}, fmt.Errorf("mqtt: decode value for %s%s: %w", interfaceName, path, err)
	}

	if t, ok := raw["t"]; ok {
		ts, ok := normalizeAny(t).(time.Time)
		if !ok {
			return nil, false, time.Time{}, fmt.Errorf("mqtt: bson payload \"t\" is not a timestamp")
		}
		return &decoded, true, ts.UTC(), nil
	}
	return &decoded, false, time.Time{}, nil
}

// decodeObject parses an object-aggregated `{v: {key: value, ...}[, t]}` payload. Every key of the
// inner document is resolved as basePath+"/"+key through resolver.
func decodeObject(resolver device.MappingResolver, interfaceName, basePath string, data []byte) (values map[string]interfaces.Value, hasTimestamp bool, timestamp time.Time, err error) {
	var raw bson.M
	if unmarshalErr := bson.Unmarshal(data, &raw); unmarshalErr != nil {
		return nil, false, time.Time{}, fmt.Errorf("mqtt: decode bson payload: %w", unmarshalErr)
	}

	inner, ok := raw["v"].(bson.M)
	if !ok {
		return nil, false, time.Time{}, fmt.Errorf("mqtt: bson object payload missing \"v\" document")
	}

	values = make(map[string]interfaces.Value, len(inner))
	for key, item := range inner {
		mapping, ok := resolver.ResolveMapping(interfaceName, basePath+"/"+key)
		if !ok {
			return nil, false, time.Time{}, fmt.Errorf("mqtt: object payload key %q has no matching mapping", key)
		}
		v, err := interfaces.ValueFromAny(mapping.Type, normalizeAny(item))
		if err != nil {
			return nil, false, time.Time{}, fmt.Errorf("mqtt: decode object field %q: %w", key, err)
		}
		values[key] = v
	}

	if t, ok := raw["t"]; ok {
		ts, ok := normalizeAny(t).(time.Time)
		if !ok {
			return nil, false, time.Time{}, fmt.Errorf("mqtt: bson payload \"t\" is not a timestamp")
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
