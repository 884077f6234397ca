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

// Package msghub implements a device.Transport over a local RPC message hub: a single
// long-lived process, reachable over gRPC, that several nodes on the same host attach to and
// that handles the actual connection to Astarte on their behalf. Unlike transport/mqtt, the
// wire format here is a set of plain Go structs rather than MQTT topics and BSON documents - the
// concrete generated protobuf stub is out of scope, so Client/MessageStream below describe the
// shape a real grpc-go stub would satisfy.
package msghub

import (
	"context"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
)

// Node identifies the attaching process to the hub and carries the interface definitions it
// introspects with, mirroring the Node protobuf message's interfaces_json field.
type Node struct {
	UUID           string
	InterfacesJSON []string
}

// DatastreamIndividual is the payload variant for an individual-aggregation datastream message.
type DatastreamIndividual struct {
	Value     interfaces.Value
	Timestamp *time.Time
}

// DatastreamObject is the payload variant for an object-aggregation datastream message.
type DatastreamObject struct {
	Values    map[string]interfaces.Value
	Timestamp *time.Time
}

// PropertyIndividual is the payload variant for a property message. A nil Value represents an
// unset.
type PropertyIndividual struct {
	Value *interfaces.Value
}

// AstarteMessage is the envelope exchanged with the hub in both directions: exactly one of the
// three payload fields is set, matching the protobuf message's oneof.
type AstarteMessage struct {
	InterfaceName string
	Path          string

	DatastreamIndividual *DatastreamIndividual
	DatastreamObject     *DatastreamObject
	PropertyIndividual   *PropertyIndividual
}

// MessageHubError reports a failure the hub encountered while servicing the node, delivered
// in-band on the event stream rather than as a stream-ending RPC error.
type MessageHubError struct {
	Description string
}

// MessageHubEvent is a single item of the stream Attach returns: either a message routed to this
// node, or an out-of-band error.
type MessageHubEvent struct {
	Message *AstarteMessage
	Error   *MessageHubError
}

// MessageStream is the receive half of an attached session.
type MessageStream interface {
	// Recv blocks until the next event is available. It returns an error, typically wrapping the
	// gRPC status, when the stream ends.
	Recv() (*MessageHubEvent, error)
}

// Client is the hub-facing collaborator Transport drives: attach once to start receiving, send
// device-owned messages, detach to end the session. A real implementation wraps a generated gRPC
// client stub; tests substitute an in-memory fake.
type Client interface {
	Attach(ctx context.Context, node *Node) (MessageStream, error)
	Send(ctx context.Context, msg *AstarteMessage) error
	Detach(ctx context.Context) error
}
