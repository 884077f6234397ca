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

// Package device implements the transport-agnostic core of the device SDK: introspection, the
// connection state machine, the publish/receive pipelines and property resync, parameterized by a
// Transport supplied at construction.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
	"github.com/astarte-platform/astarte-device-sdk-go/store"
	"github.com/rs/zerolog"
)

// State is one of the three connection states of the device core.
type State int

const (
	// Disconnected is the initial state, and the state reached after disconnect() or link loss.
	Disconnected State = iota
	// Connecting is entered on connect() and left once the transport signals link-up or refusal.
	Connecting
	// Connected is entered once the session handshake (or its session-present shortcut) completes.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Device is the transport-agnostic device core: introspection, property store, connection state
// machine and the publish/receive pipelines. Introspection and store are shared between the caller
// and the transport's worker goroutine; each serializes access with its own lock, and mu guards
// only the connection state.
type Device struct {
	deviceID string
	realm    string

	transport Transport
	store     store.Store
	logger    zerolog.Logger
	scheduler Scheduler

	introspection *Introspection

	onConnected    func(d *Device)
	onDisconnected func(d *Device, reason error)
	onDataReceived func(d *Device, interfaceName, path string, payload any)

	mu    sync.Mutex
	state State
}

// New builds a Device around transport, initially Disconnected and with an empty introspection.
func New(deviceID, realm string, transport Transport, opts ...Option) (*Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device: device ID must not be empty")
	}
	if realm == "" {
		return nil, fmt.Errorf("device: realm must not be empty")
	}
	if transport == nil {
		return nil, fmt.Errorf("device: transport must not be nil")
	}

	d := &Device{
		deviceID:      deviceID,
		realm:         realm,
		transport:     transport,
		store:         store.NewMemoryStore(),
		logger:        zerolog.Nop(),
		scheduler:     directScheduler{},
		introspection: NewIntrospection(),
		state:         Disconnected,
	}

	for _, opt := range opts {
		opt(d)
	}

	if resolverAware, ok := transport.(IntrospectionAware); ok {
		resolverAware.SetIntrospectionResolver(d.introspection)
	}

	transport.SetHandlers(TransportHandlers{
		OnLinkUp:           d.handleLinkUp,
		OnLinkDown:         d.handleLinkDown,
		OnPurgeProperties:  d.handlePurgeProperties,
		OnServerData:       d.handleServerData,
		OnServerObjectData: d.handleServerObjectData,
	})

	return d, nil
}

// DeviceID returns the device's Astarte device ID.
func (d *Device) DeviceID() string { return d.deviceID }

// Realm returns the realm the device is paired to.
func (d *Device) Realm() string { return d.realm }

// BaseTopic is the MQTT base topic "<realm>/<device_id>", also used as the natural addressing
// prefix by non-MQTT adapters that want a stable per-device namespace.
func (d *Device) BaseTopic() string { return d.realm + "/" + d.deviceID }

// State returns the current connection state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsConnected returns true iff the device is in the Connected state.
func (d *Device) IsConnected() bool {
	return d.State() == Connected
}

// AddInterface registers iface. Fails with ErrBusyConnecting while Connecting.
func (d *Device) AddInterface(iface interfaces.Interface) error {
	d.mu.Lock()
	if d.state == Connecting {
		d.mu.Unlock()
		return ErrBusyConnecting
	}
	wasConnected := d.state == Connected
	d.mu.Unlock()

	d.introspection.Add(iface)
	d.logger.Debug().Str("interface", iface.Name).Msg("interface added to introspection")

	if wasConnected {
		return d.republishIntrospectionLocked(iface)
	}
	return nil
}

// RemoveInterface unregisters name. Fails with ErrBusyConnecting while Connecting. Removing a
// properties interface also deletes its rows from the property store.
func (d *Device) RemoveInterface(name string) error {
	d.mu.Lock()
	if d.state == Connecting {
		d.mu.Unlock()
		return ErrBusyConnecting
	}
	wasConnected := d.state == Connected
	d.mu.Unlock()

	iface, existed := d.introspection.Get(name)
	d.introspection.Remove(name)
	if !existed {
		return nil
	}

	if iface.IsProperties() {
		if err := d.store.DeleteByInterface(name); err != nil {
			d.logger.Warn().Err(err).Str("interface", name).Msg("failed to purge store rows for removed interface")
		}
	}

	d.logger.Debug().Str("interface", name).Msg("interface removed from introspection")

	if wasConnected {
		if iface.IsServerOwned() {
			if err := d.transport.Unsubscribe(d.BaseTopic() + "/" + name + "/#"); err != nil {
				d.logger.Warn().Err(err).Str("interface", name).Msg("failed to unsubscribe removed interface")
			}
		}
		return d.publishIntrospectionLine()
	}
	return nil
}

// republishIntrospectionLocked re-publishes the introspection line after a live add, and, for a
// newly added server-owned interface, subscribes to its topic.
func (d *Device) republishIntrospectionLocked(iface interfaces.Interface) error {
	if iface.IsServerOwned() {
		if err := d.transport.Subscribe(d.BaseTopic() + "/" + iface.Name + "/#"); err != nil {
			return fmt.Errorf("device: subscribe to %s: %w", iface.Name, err)
		}
	}
	return d.publishIntrospectionLine()
}

func (d *Device) publishIntrospectionLine() error {
	return d.transport.Publish(d.BaseTopic(), []byte(d.introspection.Line()), 2, false)
}

// Connect begins establishing a session. It is non-blocking: success is signalled by the
// on_connected callback once the transport reports link-up.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Disconnected {
		d.mu.Unlock()
		return fmt.Errorf("device: connect called from state %s", d.state)
	}
	d.state = Connecting
	d.mu.Unlock()

	d.logger.Debug().Msg("connecting")
	if err := d.transport.Connect(ctx); err != nil {
		d.mu.Lock()
		d.state = Disconnected
		d.mu.Unlock()
		return fmt.Errorf("device: connect: %w", err)
	}
	return nil
}

// Disconnect cooperatively tears down the session. Completion is signalled by on_disconnected
// with a nil reason.
func (d *Device) Disconnect() error {
	d.logger.Debug().Msg("disconnecting")
	return d.transport.Disconnect()
}
