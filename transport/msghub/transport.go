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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/device"
	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	"github.com/rs/zerolog"
)

// enumerator is implemented by a resolver that can also list every interface it knows about,
// needed to build the Node the hub is attached with.
type enumerator interface {
	All() []interfaces.Interface
}

// Transport implements device.Transport and device.IntrospectionAware over a Client. Unlike
// transport/mqtt there is no topic subscription model: the hub decides what to deliver to an
// attached node based on the interfaces it was given at Attach time, so Subscribe/Unsubscribe
// are no-ops and control-subtree publishes (empty cache, producer properties framing) that exist
// only to work around MQTT's lack of session semantics are dropped with a debug log.
type Transport struct {
	client   Client
	nodeUUID string
	logger   zerolog.Logger

	mu       sync.Mutex
	resolver device.MappingResolver
	handlers device.TransportHandlers
	cancel   context.CancelFunc
}

// Option configures a Transport at construction time.
type Option func(t *Transport)

// WithLogger sets the logger Transport reports dropped/undecodable events to.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// NewTransport builds a Transport that attaches to the hub through client as nodeUUID.
func NewTransport(client Client, nodeUUID string, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, fmt.Errorf("msghub: client must not be nil")
	}
	if nodeUUID == "" {
		return nil, fmt.Errorf("msghub: node UUID must not be empty")
	}
	t := &Transport{
		client:   client,
		nodeUUID: nodeUUID,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetIntrospectionResolver implements device.IntrospectionAware.
func (t *Transport) SetIntrospectionResolver(resolver device.MappingResolver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolver = resolver
}

// SetHandlers implements device.Transport.
func (t *Transport) SetHandlers(h device.TransportHandlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// Connect attaches to the hub and starts the goroutine draining its event stream. OnLinkUp fires
// once Attach succeeds, since the hub has no separate handshake/session-resume step the way an
// MQTT broker does.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	resolver := t.resolver
	onLinkUp := t.handlers.OnLinkUp
	t.mu.Unlock()

	node := &Node{UUID: t.nodeUUID}
	if en, ok := resolver.(enumerator); ok {
		for _, iface := range en.All() {
			doc, err := interfaceJSON(iface)
			if err != nil {
				return fmt.Errorf("msghub: build node: %w", err)
			}
			node.InterfacesJSON = append(node.InterfacesJSON, doc)
		}
	}

	stream, err := t.client.Attach(ctx, node)
	if err != nil {
		return fmt.Errorf("msghub: attach: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.drain(streamCtx, stream)

	if onLinkUp != nil {
		onLinkUp(false)
	}
	return nil
}

// Disconnect detaches from the hub and stops the drain goroutine. If the transport was connected,
// it then reports the user-requested disconnect through OnLinkDown(nil).
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	onLinkDown := t.handlers.OnLinkDown
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := t.client.Detach(context.Background())
	if cancel != nil && onLinkDown != nil {
		onLinkDown(nil)
	}
	return err
}

// Subscribe is a no-op: the hub routes messages by the interfaces the node attached with, not by
// a topic subscription the device negotiates afterwards.
func (t *Transport) Subscribe(topic string) error { return nil }

// Unsubscribe is a no-op, mirroring Subscribe.
func (t *Transport) Unsubscribe(topic string) error { return nil }

// Publish translates a device-core publish into a Client.Send call. Control-subtree routes
// (empty cache, producer/consumer properties framing, the bare introspection line) exist to
// bridge MQTT's lack of session semantics and have no hub equivalent, so they are logged at
// debug level and dropped rather than sent.
func (t *Transport) Publish(topic string, payload []byte, qos int, retain bool) error {
	t.mu.Lock()
	resolver := t.resolver
	t.mu.Unlock()

	route, ok := stripBaseTopic(topic)
	if !ok || route == "" || strings.HasPrefix(route, "control/") {
		t.logger.Debug().Str("topic", topic).Msg("dropping MQTT-only control publish on the message-hub transport")
		return nil
	}

	interfaceName, path, ok := splitInterfaceRoute(route)
	if !ok {
		return fmt.Errorf("msghub: unrecognized publish route %q", route)
	}
	if resolver == nil {
		return fmt.Errorf("msghub: no introspection resolver configured")
	}

	msg, err := encodeOutbound(resolver, interfaceName, path, payload, retain)
	if err != nil {
		return err
	}
	return t.client.Send(context.Background(), msg)
}

// drain reads events off stream until it errors or ctx is cancelled, dispatching each decoded
// message to the registered handlers.
func (t *Transport) drain(ctx context.Context, stream MessageStream) {
	for {
		event, err := stream.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			t.mu.Lock()
			onLinkDown := t.handlers.OnLinkDown
			t.mu.Unlock()
			if onLinkDown != nil {
				onLinkDown(err)
			}
			return
		}

		if event.Error != nil {
			t.logger.Warn().Str("reason", event.Error.Description).Msg("message hub reported an error")
			continue
		}
		if event.Message != nil {
			t.dispatch(event.Message)
		}
	}
}

func (t *Transport) dispatch(msg *AstarteMessage) {
	t.mu.Lock()
	handlers := t.handlers
	t.mu.Unlock()

	switch {
	case msg.DatastreamIndividual != nil:
		if handlers.OnServerData == nil {
			return
		}
		di := msg.DatastreamIndividual
		hasTimestamp := di.Timestamp != nil
		var ts time.Time
		if hasTimestamp {
			ts = *di.Timestamp
		}
		value := di.Value
		handlers.OnServerData(msg.InterfaceName, msg.Path, &value, hasTimestamp, ts)
	case msg.PropertyIndividual != nil:
		if handlers.OnServerData == nil {
			return
		}
		handlers.OnServerData(msg.InterfaceName, msg.Path, msg.PropertyIndividual.Value, false, time.Time{})
	case msg.DatastreamObject != nil:
		if handlers.OnServerObjectData == nil {
			return
		}
		do := msg.DatastreamObject
		hasTimestamp := do.Timestamp != nil
		var ts time.Time
		if hasTimestamp {
			ts = *do.Timestamp
		}
		handlers.OnServerObjectData(msg.InterfaceName, msg.Path, do.Values, hasTimestamp, ts)
	default:
		t.logger.Warn().Str("interface", msg.InterfaceName).Str("path", msg.Path).Msg("message hub event carried no payload variant, dropping")
	}
}

// stripBaseTopic strips the "<realm>/<device_id>/" prefix off a topic the device core built,
// leaving the route relative to the device's own subtree.
func stripBaseTopic(topic string) (route string, ok bool) {
	parts := strings.SplitN(topic, "/", 3)
	if len(parts) < 3 {
		return "", false
	}
	return parts[2], true
}

// splitInterfaceRoute splits a data-message route into its interface name and path.
func splitInterfaceRoute(route string) (interfaceName, path string, ok bool) {
	idx := strings.Index(route, "/")
	if idx < 0 {
		return "", "", false
	}
	return route[:idx], route[idx:], true
}

var (
	_ device.Transport          = (*Transport)(nil)
	_ device.IntrospectionAware = (*Transport)(nil)
)
