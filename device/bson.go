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

package device

import (
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	"go.mongodb.org/mongo-driver/bson"
)

// bsonPayload mirrors the on-wire document `{v: <value>[, t: <timestamp>]}` used for every
// individual datastream/property publish and every inbound server message.
type bsonPayload struct {
	V any        `bson:"v"`
	T *time.Time `bson:"t,omitempty"`
}

// encodeBSONValue renders value (nil for an unset/empty payload) into the wire document, attaching
// timestamp when non-nil.
func encodeBSONValue(value interfaces.Value, timestamp *time.Time) ([]byte, error) {
	doc := bsonPayload{V: value.Raw(), T: timestamp}
	return bson.Marshal(doc)
}

// encodeBSONEmpty renders the zero-length payload used to unset a property.
func encodeBSONEmpty() []byte { return []byte{} }

// encodeBSONObject renders an object-aggregated payload: `{v: {endpoint: value, ...}[, t: ...]}`.
func encodeBSONObject(values map[string]interfaces.Value, timestamp *time.Time) ([]byte, error) {
	inner := bson.M{}
	for k, v := range values {
		inner[k] = v.Raw()
	}
	doc := bsonPayload{V: inner, T: timestamp}
	return bson.Marshal(doc)
}
