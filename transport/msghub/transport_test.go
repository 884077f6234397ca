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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/device"
	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	"go.mongodb.org/mongo-driver/bson"
)

// fakeResolver implements device.MappingResolver, aggregationAware and enumerator over a fixed
// set of interfaces, standing in for *device.Introspection in tests that don't need a real Device.
type fakeResolver struct {
	interfaces []interfaces.Interface
	object     map[string]bool
	mappings   map[string]interfaces.Mapping
}

func (r fakeResolver) ResolveMapping(interfaceName, path string) (interfaces.Mapping, bool) {
	m, ok := r.mappings[interfaceName+path]
	return m, ok
}

func (r fakeResolver) IsObjectAggregated(interfaceName string) (bool, bool) {
	isObject, known := r.object[interfaceName]
	return isObject, known
}

func (r fakeResolver) All() []interfaces.Interface { return r.interfaces }

var (
	_ device.MappingResolver = fakeResolver{}
	_ aggregationAware       = fakeResolver{}
	_ enumerator             = fakeResolver{}
)

// fakeStream is an in-memory MessageStream a test drives by pushing events or an error.
type fakeStream struct {
	events chan *MessageHubEvent
	errc   chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan *MessageHubEvent, 4), errc: make(chan error, 1)}
}

func (s *fakeStream) Recv() (*MessageHubEvent, error) {
	select {
	case e := <-s.events:
		return e, nil
	case err := <-s.errc:
		return nil, err
	}
}

// fakeClient implements Client, recording what Transport does with it.
type fakeClient struct {
	mu         sync.Mutex
	attached   *Node
	sent       []*AstarteMessage
	detached   bool
	stream     *fakeStream
	attachErrs error
}

func (c *fakeClient) Attach(ctx context.Context, node *Node) (MessageStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachErrs != nil {
		return nil, c.attachErrs
	}
	c.attached = node
	return c.stream, nil
}

func (c *fakeClient) Send(ctx context.Context, msg *AstarteMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeClient) Detach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
	return nil
}

var _ Client = (*fakeClient)(nil)

func sensorInterface() interfaces.Interface {
	return interfaces.Interface{
		Name:         "com.example.Sensor",
		MajorVersion: 1,
		Type:         interfaces.DatastreamType,
		Ownership:    interfaces.DeviceOwnership,
		Aggregation:  interfaces.IndividualAggregation,
		Mappings: []interfaces.Mapping{
			{Endpoint: "/value", Type: interfaces.Double, Reliability: interfaces.Guaranteed},
		},
	}
}

func TestConnectAttachesWithIntrospectionAndFiresOnLinkUp(t *testing.T) {
	resolver := fakeResolver{interfaces: []interfaces.Interface{sensorInterface()}}
	client := &fakeClient{stream: newFakeStream()}

	tr, err := NewTransport(client, "node-uuid")
	if err != nil {
		t.Fatal(err)
	}
	tr.SetIntrospectionResolver(resolver)

	linkUp := false
	tr.SetHandlers(device.TransportHandlers{OnLinkUp: func(sessionPresent bool) { linkUp = true }})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !linkUp {
		t.Error("expected OnLinkUp to fire")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.attached == nil || client.attached.UUID != "node-uuid" {
		t.Fatalf("got attached node %+v", client.attached)
	}
	if len(client.attached.InterfacesJSON) != 1 {
		t.Fatalf("got %d interface documents, want 1", len(client.attached.InterfacesJSON))
	}
}

func TestPublishControlRouteIsDropped(t *testing.T) {
	client := &fakeClient{stream: newFakeStream()}
	tr, err := NewTransport(client, "node-uuid")
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.Publish("test/dev/control/emptyCache", []byte("1"), 2, false); err != nil {
		t.Fatal(err)
	}
	if err := tr.Publish("test/dev", []byte("iface;1"), 2, false); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.sent) != 0 {
		t.Errorf("got %d sent messages, want 0", len(client.sent))
	}
}

func TestPublishIndividualDatastream(t *testing.T) {
	resolver := fakeResolver{
		object: map[string]bool{"com.example.Sensor": false},
		mappings: map[string]interfaces.Mapping{
			"com.example.Sensor/value": {Endpoint: "/value", Type: interfaces.Double},
		},
	}
	client := &fakeClient{stream: newFakeStream()}
	tr, err := NewTransport(client, "node-uuid")
	if err != nil {
		t.Fatal(err)
	}
	tr.SetIntrospectionResolver(resolver)

	payload, err := bson.Marshal(bson.M{"v": 21.5})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Publish("test/dev/com.example.Sensor/value", payload, 1, false); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.sent) != 1 {
		t.Fatalf("got %d sent messages, want 1", len(client.sent))
	}
	msg := client.sent[0]
	if msg.DatastreamIndividual == nil {
		t.Fatal("expected a DatastreamIndividual payload")
	}
	got, ok := msg.DatastreamIndividual.Value.Double()
	if !ok || got != 21.5 {
		t.Errorf("got value %v, want 21.5", got)
	}
}

func TestPublishIndividualDatastreamWithTimestampAndBinaryBlob(t *testing.T) {
	resolver := fakeResolver{
		object: map[string]bool{"com.example.Sensor": false},
		mappings: map[string]interfaces.Mapping{
			"com.example.Sensor/payload": {Endpoint: "/payload", Type: interfaces.BinaryBlob},
		},
	}
	client := &fakeClient{stream: newFakeStream()}
	tr, err := NewTransport(client, "node-uuid")
	if err != nil {
		t.Fatal(err)
	}
	tr.SetIntrospectionResolver(resolver)

	wantTimestamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := bson.Marshal(bson.M{"v": []byte{0xde, 0xad, 0xbe, 0xef}, "t": wantTimestamp})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Publish("test/dev/com.example.Sensor/payload", payload, 1, false); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.sent) != 1 {
		t.Fatalf("got %d sent messages, want 1", len(client.sent))
	}
	msg := client.sent[0]
	if msg.DatastreamIndividual == nil {
		t.Fatal("expected a DatastreamIndividual payload")
	}
	got, ok := msg.DatastreamIndividual.Value.BinaryBlob()
	if !ok || string(got) != "\xde\xad\xbe\xef" {
		t.Errorf("got blob %x, want deadbeef", got)
	}
	if msg.DatastreamIndividual.Timestamp == nil || !msg.DatastreamIndividual.Timestamp.Equal(wantTimestamp) {
		t.Errorf("got timestamp %v, want %v", msg.DatastreamIndividual.Timestamp, wantTimestamp)
	}
}

func TestPublishProperty(t *testing.T) {
	resolver := fakeResolver{
		object: map[string]bool{"com.example.Config": false},
		mappings: map[string]interfaces.Mapping{
			"com.example.Config/name": {Endpoint: "/name", Type: interfaces.String},
		},
	}
	client := &fakeClient{stream: newFakeStream()}
	tr, err := NewTransport(client, "node-uuid")
	if err != nil {
		t.Fatal(err)
	}
	tr.SetIntrospectionResolver(resolver)

	payload, err := bson.Marshal(bson.M{"v": "office"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Publish("test/dev/com.example.Config/name", payload, 2, true); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	msg := client.sent[0]
	if msg.PropertyIndividual == nil {
		t.Fatal("expected a PropertyIndividual payload")
	}
	got, ok := msg.PropertyIndividual.Value.String()
	if !ok || got != "office" {
		t.Errorf("got value %v, want office", got)
	}
}

func TestDrainDispatchesObjectData(t *testing.T) {
	stream := newFakeStream()
	client := &fakeClient{stream: stream}
	tr, err := NewTransport(client, "node-uuid")
	if err != nil {
		t.Fatal(err)
	}

	var gotValues map[string]interfaces.Value
	done := make(chan struct{})
	tr.SetHandlers(device.TransportHandlers{
		OnServerObjectData: func(interfaceName, path string, values map[string]interfaces.Value, hasTimestamp bool, timestamp time.Time) {
			gotValues = values
			close(done)
		},
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	humidity, _ := interfaces.NewDouble(55.0)
	stream.events <- &MessageHubEvent{Message: &AstarteMessage{
		InterfaceName:    "com.example.Combined",
		Path:             "/reading",
		DatastreamObject: &DatastreamObject{Values: map[string]interfaces.Value{"humidity": humidity}},
	}}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnServerObjectData")
	}
	if len(gotValues) != 1 {
		t.Fatalf("got %d values, want 1", len(gotValues))
	}
}

func TestDisconnectDetaches(t *testing.T) {
	client := &fakeClient{stream: newFakeStream()}
	tr, err := NewTransport(client, "node-uuid")
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.detached {
		t.Error("expected Detach to be called")
	}
}
