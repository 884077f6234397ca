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
	"testing"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/device"
	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
)

// fakeMessage is a minimal paho.Message used to drive Transport.onMessage without a broker.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ paho.Message = fakeMessage{}

// fakeResolver implements device.MappingResolver and aggregationAware over a fixed set of
// mappings, standing in for *device.Introspection in tests that don't need a real Device.
type fakeResolver struct {
	object   map[string]bool
	mappings map[string]interfaces.Mapping
}

func (r fakeResolver) ResolveMapping(interfaceName, path string) (interfaces.Mapping, bool) {
	m, ok := r.mappings[interfaceName+path]
	return m, ok
}

func (r fakeResolver) IsObjectAggregated(interfaceName string) (bool, bool) {
	isObject, known := r.object[interfaceName]
	return isObject, known
}

var _ device.MappingResolver = fakeResolver{}
var _ aggregationAware = fakeResolver{}

func TestOnMessagePurgeProperties(t *testing.T) {
	tr := &Transport{logger: zerolog.Nop()}
	var gotEntries []string
	tr.SetHandlers(device.TransportHandlers{
		OnPurgeProperties: func(entries []string) { gotEntries = entries },
	})

	frame, err := device.EncodePropertiesList([]string{"com.example.Iface/value"})
	if err != nil {
		t.Fatal(err)
	}
	tr.onMessage(nil, fakeMessage{topic: testRealmName + "/" + testDeviceID + "/control/consumer/properties", payload: frame})

	if len(gotEntries) != 1 || gotEntries[0] != "com.example.Iface/value" {
		t.Errorf("got entries %v, want [com.example.Iface/value]", gotEntries)
	}
}

func TestOnMessageIndividualData(t *testing.T) {
	resolver := fakeResolver{
		object: map[string]bool{"com.example.Sensor": false},
		mappings: map[string]interfaces.Mapping{
			"com.example.Sensor/value": {Endpoint: "/value", Type: interfaces.Double},
		},
	}

	tr := &Transport{logger: zerolog.Nop()}
	tr.SetIntrospectionResolver(resolver)

	var gotInterface, gotPath string
	var gotValue *interfaces.Value
	tr.SetHandlers(device.TransportHandlers{
		OnServerData: func(interfaceName, path string, value *interfaces.Value, hasTimestamp bool, timestamp time.Time) {
			gotInterface, gotPath, gotValue = interfaceName, path, value
		},
	})

	payload, err := bson.Marshal(bson.M{"v": 21.5})
	if err != nil {
		t.Fatal(err)
	}
	tr.onMessage(nil, fakeMessage{topic: testRealmName + "/" + testDeviceID + "/com.example.Sensor/value", payload: payload})

	if gotInterface != "com.example.Sensor" || gotPath != "/value" {
		t.Fatalf("got (%q, %q)", gotInterface, gotPath)
	}
	if gotValue == nil {
		t.Fatal("expected a decoded value")
	}
	got, ok := gotValue.Double()
	if !ok || got != 21.5 {
		t.Errorf("got value %v, want 21.5", got)
	}
}

func TestOnMessageIndividualDataWithTimestampAndBinaryBlob(t *testing.T) {
	resolver := fakeResolver{
		object: map[string]bool{"com.example.Sensor": false},
		mappings: map[string]interfaces.Mapping{
			"com.example.Sensor/payload": {Endpoint: "/payload", Type: interfaces.BinaryBlob},
		},
	}

	tr := &Transport{logger: zerolog.Nop()}
	tr.SetIntrospectionResolver(resolver)

	var gotValue *interfaces.Value
	var gotHasTimestamp bool
	var gotTimestamp time.Time
	tr.SetHandlers(device.TransportHandlers{
		OnServerData: func(interfaceName, path string, value *interfaces.Value, hasTimestamp bool, timestamp time.Time) {
			gotValue, gotHasTimestamp, gotTimestamp = value, hasTimestamp, timestamp
		},
	})

	wantTimestamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := bson.Marshal(bson.M{"v": []byte{0xde, 0xad, 0xbe, 0xef}, "t": wantTimestamp})
	if err != nil {
		t.Fatal(err)
	}
	tr.onMessage(nil, fakeMessage{topic: testRealmName + "/" + testDeviceID + "/com.example.Sensor/payload", payload: payload})

	if gotValue == nil {
		t.Fatal("expected a decoded value")
	}
	got, ok := gotValue.BinaryBlob()
	if !ok || string(got) != "\xde\xad\xbe\xef" {
		t.Errorf("got blob %x, want deadbeef", got)
	}
	if !gotHasTimestamp || !gotTimestamp.Equal(wantTimestamp) {
		t.Errorf("got timestamp (%v, %v), want (true, %v)", gotHasTimestamp, gotTimestamp, wantTimestamp)
	}
}

func TestOnMessageObjectData(t *testing.T) {
	resolver := fakeResolver{
		object: map[string]bool{"com.example.Combined": true},
		mappings: map[string]interfaces.Mapping{
			"com.example.Combined/reading/temperature": {Endpoint: "/reading/temperature", Type: interfaces.Double},
			"com.example.Combined/reading/humidity":    {Endpoint: "/reading/humidity", Type: interfaces.Double},
		},
	}

	tr := &Transport{logger: zerolog.Nop()}
	tr.SetIntrospectionResolver(resolver)

	var gotValues map[string]interfaces.Value
	tr.SetHandlers(device.TransportHandlers{
		OnServerObjectData: func(interfaceName, path string, values map[string]interfaces.Value, hasTimestamp bool, timestamp time.Time) {
			gotValues = values
		},
	})

	payload, err := bson.Marshal(bson.M{"v": bson.M{"temperature": 20.0, "humidity": 55.0}})
	if err != nil {
		t.Fatal(err)
	}
	tr.onMessage(nil, fakeMessage{topic: testRealmName + "/" + testDeviceID + "/com.example.Combined/reading", payload: payload})

	if len(gotValues) != 2 {
		t.Fatalf("got %d values, want 2", len(gotValues))
	}
	temp, ok := gotValues["temperature"].Double()
	if !ok || temp != 20.0 {
		t.Errorf("got temperature %v, want 20.0", temp)
	}
}
