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
	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
)

// handleLinkUp runs the session handshake (unless the peer reports session-present) and always
// finishes by invoking on_connected. It runs on the transport's worker goroutine, so every step
// happens before the state transition to Connected is visible to a concurrent Send call - the
// "resync burst completes before any publish is accepted as Connected" ordering requirement.
func (d *Device) handleLinkUp(sessionPresent bool) {
	if !sessionPresent {
		if err := d.runHandshake(); err != nil {
			d.logger.Error().Err(err).Msg("session handshake failed")
		}
	}

	d.mu.Lock()
	d.state = Connected
	d.mu.Unlock()

	d.logger.Info().Bool("session_present", sessionPresent).Msg("connected")

	if d.onConnected != nil {
		cb := d.onConnected
		d.scheduler.Post(func() { cb(d) })
	}
}

func (d *Device) runHandshake() error {
	for _, iface := range d.introspection.ServerOwned() {
		if err := d.transport.Subscribe(d.BaseTopic() + "/" + iface.Name + "/#"); err != nil {
			return err
		}
	}
	if err := d.transport.Subscribe(d.BaseTopic() + "/control/consumer/properties"); err != nil {
		return err
	}

	if err := d.publishIntrospectionLine(); err != nil {
		return err
	}

	if err := d.transport.Publish(d.BaseTopic()+"/control/emptyCache", []byte("1"), 2, false); err != nil {
		return err
	}

	return d.resyncDeviceOwnedProperties()
}

// resyncDeviceOwnedProperties republishes every stored device-owned property whose interface is
// still in introspection, drops rows belonging to interfaces that were removed meanwhile, and
// finally publishes the producer-properties set so the server can reconcile its view.
func (d *Device) resyncDeviceOwnedProperties() error {
	rows, err := d.store.PropertiesByOwnership(interfaces.DeviceOwnership)
	if err != nil {
		return err
	}

	entries := make([]string, 0, len(rows))
	for _, row := range rows {
		iface, ok := d.introspection.Get(row.Interface)
		if !ok {
			if delErr := d.store.Delete(row.Interface, row.Path); delErr != nil {
				d.logger.Warn().Err(delErr).Str("interface", row.Interface).Str("path", row.Path).Msg("failed to drop stale property")
			}
			continue
		}

		qos, err := iface.Reliability(row.Path)
		if err != nil {
			d.logger.Warn().Err(err).Str("interface", row.Interface).Str("path", row.Path).Msg("skipping unresolvable stored property")
			continue
		}
		payload, err := encodeBSONValue(row.Value, nil)
		if err != nil {
			d.logger.Warn().Err(err).Str("interface", row.Interface).Str("path", row.Path).Msg("failed to encode stored property")
			continue
		}
		if err := d.transport.Publish(d.BaseTopic()+"/"+row.Interface+row.Path, payload, int(qos), false); err != nil {
			return err
		}
		entries = append(entries, row.Interface+row.Path)
	}

	frame, err := EncodePropertiesList(entries)
	if err != nil {
		return err
	}
	return d.transport.Publish(d.BaseTopic()+"/control/producer/properties", frame, 2, false)
}

// handleLinkDown transitions back to Disconnected, whether the link was lost or the disconnect
// was user-requested, so a future Connect is accepted, and then fires on_disconnected; the
// transport itself owns automatic reconnection.
func (d *Device) handleLinkDown(reason error) {
	d.mu.Lock()
	d.state = Disconnected
	d.mu.Unlock()

	d.logger.Info().AnErr("reason", reason).Msg("disconnected")

	if d.onDisconnected != nil {
		cb := d.onDisconnected
		d.scheduler.Post(func() { cb(d, reason) })
	}
}

// handlePurgeProperties implements the server-property purge: every stored server-owned row is
// deleted unless its "<interface><path>" entry is in allowedEntries. Rows whose interface is no
// longer in introspection are skipped with a warning rather than rejected outright.
func (d *Device) handlePurgeProperties(allowedEntries []string) {
	allowed := make(map[string]bool, len(allowedEntries))
	for _, e := range allowedEntries {
		allowed[e] = true
	}

	rows, err := d.store.PropertiesByOwnership(interfaces.ServerOwnership)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to enumerate server-owned properties for purge")
		return
	}

	for _, row := range rows {
		if _, ok := d.introspection.Get(row.Interface); !ok {
			d.logger.Warn().Str("interface", row.Interface).Str("path", row.Path).Msg("purge list references unknown interface, skipping")
			continue
		}
		if allowed[row.Interface+row.Path] {
			continue
		}
		if err := d.store.Delete(row.Interface, row.Path); err != nil {
			d.logger.Warn().Err(err).Str("interface", row.Interface).Str("path", row.Path).Msg("failed to purge property")
		}
	}
}
