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
	"context"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
)

// Transport is the contract the device core consumes and a concrete adapter (MQTT,
// message-hub/RPC) provides. Link establishment is signalled through the OnLinkUp handler
// registered via SetHandlers: transport/mqtt fires it from paho's callback goroutine, while
// transport/msghub fires it from inside Connect, before Connect returns.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos int, retain bool) error

	// SetHandlers registers the core's sink for transport-driven events. Handlers fire from the
	// adapter's own worker goroutine or from inside Connect/Disconnect; the core holds none of its
	// own locks while it calls into the adapter.
	SetHandlers(h TransportHandlers)
}

// TransportHandlers are the core's callbacks into which the adapter delivers link and message
// events, mirroring the on_link_up/on_link_down/on_message transport contract. Message decoding
// (BSON, protobuf-ish structs, topic/route parsing) is the adapter's job, since it is wire-format
// specific; the handlers below take already-decoded, protocol-level events so the core stays
// transport-agnostic.
type TransportHandlers struct {
	// OnLinkUp fires once the session is established. sessionPresent true means the broker/peer
	// already had session state and the handshake burst (subscribe/introspection/empty-cache/
	// resync) must be skipped, though OnConnected still fires.
	OnLinkUp func(sessionPresent bool)
	// OnLinkDown fires on any disconnection, requested or not. reason is nil for a
	// user-requested disconnect.
	OnLinkDown func(reason error)
	// OnPurgeProperties fires when the adapter receives the purge-properties control message,
	// already inflated into its entries ("<interface><path>" strings).
	OnPurgeProperties func(allowedEntries []string)
	// OnServerData fires once per inbound individual-aggregation data message. A nil value with
	// hasTimestamp false represents an empty/unset payload.
	OnServerData func(interfaceName, path string, value *interfaces.Value, hasTimestamp bool, timestamp time.Time)
	// OnServerObjectData fires once per inbound object-aggregation data message, keyed by the
	// endpoint token relative to path (mirroring the keys SendObject accepts).
	OnServerObjectData func(interfaceName, path string, values map[string]interfaces.Value, hasTimestamp bool, timestamp time.Time)
}

// MappingResolver lets a transport adapter resolve the declared type of (interfaceName, path)
// without owning its own copy of introspection - needed to decode a self-describing but
// untyped wire payload (e.g. BSON) back into the correctly tagged interfaces.Value.
type MappingResolver interface {
	ResolveMapping(interfaceName, path string) (interfaces.Mapping, bool)
}

// IntrospectionAware is implemented by adapters that need a MappingResolver. Device.New calls
// SetIntrospectionResolver on the transport if it implements this, right after construction.
type IntrospectionAware interface {
	SetIntrospectionResolver(MappingResolver)
}
