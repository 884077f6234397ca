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
	"github.com/astarte-platform/astarte-device-sdk-go/store"
	"github.com/rs/zerolog"
)

// Option configures a Device at construction time.
type Option func(d *Device)

// WithStore overrides the default in-process MemoryStore with a durable Store, typically a
// store.SQLiteStore. Defaulting to an in-memory store (rather than always opening a SQLite file)
// is a deliberate deviation from the original implementation's always-persist-unless-overridden
// default: a Go caller has to opt into disk I/O.
func WithStore(s store.Store) Option {
	return func(d *Device) { d.store = s }
}

// WithLogger routes the device's structured logging through logger instead of a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

// WithScheduler posts on_connected/on_disconnected/on_data_received invocations through scheduler
// instead of calling them directly on the transport's worker goroutine.
func WithScheduler(scheduler Scheduler) Option {
	return func(d *Device) { d.scheduler = scheduler }
}

// WithOnConnected registers the callback fired once the session handshake completes.
func WithOnConnected(f func(d *Device)) Option {
	return func(d *Device) { d.onConnected = f }
}

// WithOnDisconnected registers the callback fired on link loss or disconnect completion. reason is
// nil for a user-requested disconnect.
func WithOnDisconnected(f func(d *Device, reason error)) Option {
	return func(d *Device) { d.onDisconnected = f }
}

// WithOnDataReceived registers the callback fired once per accepted inbound server message.
// payload is an interfaces.Value for individual mappings or a map[string]interfaces.Value for an
// object-aggregated interface.
func WithOnDataReceived(f func(d *Device, interfaceName, path string, payload any)) Option {
	return func(d *Device) { d.onDataReceived = f }
}
