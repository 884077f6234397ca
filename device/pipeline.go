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
	"fmt"
	"time"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
)

// Send publishes an individual-aggregation value to path on interfaceName. A timestamp is
// required when the mapping declares explicit_timestamp and rejected otherwise - pass time.Time{}
// when the mapping has no explicit_timestamp requirement.
func (d *Device) Send(interfaceName, path string, value interfaces.Value, timestamp time.Time) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}

	iface, ok := d.introspection.Get(interfaceName)
	if !ok {
		return ErrInterfaceNotFound(interfaceName)
	}
	if iface.IsServerOwned() {
		return ErrServerOwned(interfaceName)
	}
	if iface.IsObjectAggregated() {
		return ErrWrongAggregation(interfaceName)
	}

	if err := iface.ValidatePath(path, nil); err != nil {
		return err
	}
	if err := iface.ValidatePayload(path, value); err != nil {
		return err
	}
	hasTimestamp := !timestamp.IsZero()
	if err := iface.ValidateTimestamp(path, hasTimestamp); err != nil {
		return err
	}

	var ts *time.Time
	if hasTimestamp {
		utc := timestamp.UTC()
		ts = &utc
	}
	payload, err := encodeBSONValue(value, ts)
	if err != nil {
		return fmt.Errorf("device: encode payload for %s%s: %w", interfaceName, path, err)
	}

	qos, err := iface.Reliability(path)
	if err != nil {
		return err
	}

	if iface.IsProperties() {
		if err := d.store.Store(interfaceName, iface.MajorVersion, path, iface.Ownership, &value); err != nil {
			return fmt.Errorf("device: persist property %s%s: %w", interfaceName, path, err)
		}
	}

	return d.transport.Publish(d.BaseTopic()+"/"+interfaceName+path, payload, int(qos), iface.IsProperties())
}

// SendObject publishes an object-aggregation payload under path on interfaceName. The payload must
// be complete for a device-owned interface (every declared endpoint under path present).
func (d *Device) SendObject(interfaceName, path string, values map[string]interfaces.Value, timestamp time.Time) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}

	iface, ok := d.introspection.Get(interfaceName)
	if !ok {
		return ErrInterfaceNotFound(interfaceName)
	}
	if iface.IsServerOwned() {
		return ErrServerOwned(interfaceName)
	}
	if !iface.IsObjectAggregated() {
		return ErrWrongAggregation(interfaceName)
	}

	if err := iface.ValidateObjectPayload(path, values); err != nil {
		return err
	}
	hasTimestamp := !timestamp.IsZero()
	if err := iface.ValidateTimestamp(path, hasTimestamp); err != nil {
		return err
	}

	var ts *time.Time
	if hasTimestamp {
		utc := timestamp.UTC()
		ts = &utc
	}
	payload, err := encodeBSONObject(values, ts)
	if err != nil {
		return fmt.Errorf("device: encode object payload for %s%s: %w", interfaceName, path, err)
	}

	qos, err := iface.Reliability(path)
	if err != nil {
		return err
	}

	return d.transport.Publish(d.BaseTopic()+"/"+interfaceName+path, payload, int(qos), false)
}

// UnsetProperty clears a device-owned, resettable property by publishing an empty payload and
// removing the row from the store.
func (d *Device) UnsetProperty(interfaceName, path string) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}

	iface, ok := d.introspection.Get(interfaceName)
	if !ok {
		return ErrInterfaceNotFound(interfaceName)
	}
	if !iface.IsProperties() {
		return ErrNotProperties(interfaceName)
	}
	if iface.IsServerOwned() {
		return ErrServerOwned(interfaceName)
	}
	if !iface.IsPropertyEndpointResettable(path) {
		return fmt.Errorf("device: %s%s does not allow unset", interfaceName, path)
	}

	if err := d.store.Delete(interfaceName, path); err != nil {
		return fmt.Errorf("device: delete property %s%s: %w", interfaceName, path, err)
	}

	return d.transport.Publish(d.BaseTopic()+"/"+interfaceName+path, encodeBSONEmpty(), int(interfaces.Unique), true)
}

// handleServerData is the receive pipeline for a single inbound server message: reject
// device-owned interfaces, validate against introspection, persist if it is a property, and
// dispatch on_data_received.
func (d *Device) handleServerData(interfaceName, path string, value *interfaces.Value, hasTimestamp bool, timestamp time.Time) {
	iface, ok := d.introspection.Get(interfaceName)
	if !ok {
		d.logger.Warn().Str("interface", interfaceName).Str("path", path).Msg("data received for unknown interface, dropping")
		return
	}
	if iface.IsDeviceOwned() {
		d.logger.Warn().Str("interface", interfaceName).Str("path", path).Msg("data received for device-owned interface, dropping")
		return
	}

	if value == nil {
		if !iface.IsPropertyEndpointResettable(path) {
			d.logger.Warn().Str("interface", interfaceName).Str("path", path).Msg("empty payload for non-resettable mapping, dropping")
			return
		}
		if err := d.store.Delete(interfaceName, path); err != nil {
			d.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("failed to delete unset property")
		}
		d.dispatchDataReceived(interfaceName, path, nil)
		return
	}

	if err := iface.ValidatePath(path, nil); err != nil {
		d.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("rejecting path")
		return
	}
	if err := iface.ValidatePayload(path, *value); err != nil {
		d.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("rejecting payload")
		return
	}
	if err := iface.ValidateTimestamp(path, hasTimestamp); err != nil {
		d.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("rejecting timestamp")
		return
	}

	if iface.IsProperties() {
		if err := d.store.Store(interfaceName, iface.MajorVersion, path, iface.Ownership, value); err != nil {
			d.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("failed to persist received property")
		}
	}

	d.dispatchDataReceived(interfaceName, path, *value)
}

// handleServerObjectData is the receive pipeline for an inbound object-aggregation server message.
func (d *Device) handleServerObjectData(interfaceName, path string, values map[string]interfaces.Value, hasTimestamp bool, timestamp time.Time) {
	iface, ok := d.introspection.Get(interfaceName)
	if !ok {
		d.logger.Warn().Str("interface", interfaceName).Str("path", path).Msg("object data received for unknown interface, dropping")
		return
	}
	if iface.IsDeviceOwned() {
		d.logger.Warn().Str("interface", interfaceName).Str("path", path).Msg("object data received for device-owned interface, dropping")
		return
	}
	if !iface.IsObjectAggregated() {
		d.logger.Warn().Str("interface", interfaceName).Str("path", path).Msg("object data received for a non-object-aggregated interface, dropping")
		return
	}

	if err := iface.ValidateObjectPayload(path, values); err != nil {
		d.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("rejecting object payload")
		return
	}
	if err := iface.ValidateTimestamp(path, hasTimestamp); err != nil {
		d.logger.Warn().Err(err).Str("interface", interfaceName).Str("path", path).Msg("rejecting timestamp")
		return
	}

	d.dispatchDataReceived(interfaceName, path, values)
}

func (d *Device) dispatchDataReceived(interfaceName, path string, payload any) {
	if d.onDataReceived == nil {
		return
	}
	cb := d.onDataReceived
	d.scheduler.Post(func() { cb(d, interfaceName, path, payload) })
}
