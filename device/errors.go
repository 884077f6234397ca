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
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when Send/SendObject/UnsetProperty is attempted outside Connected.
	ErrNotConnected error = errors.New("device is not connected")
	// ErrBusyConnecting is returned when AddInterface/RemoveInterface is attempted while Connecting.
	ErrBusyConnecting error = errors.New("device is connecting, introspection is frozen")
)

// ErrInterfaceNotFound is returned when an operation names an interface absent from introspection.
func ErrInterfaceNotFound(interfaceName string) error {
	return fmt.Errorf("device: interface %q not found in introspection", interfaceName)
}

// ErrWrongAggregation is returned when Send/SendObject is called against a mismatched aggregation.
func ErrWrongAggregation(interfaceName string) error {
	return fmt.Errorf("device: %q aggregation does not match the call", interfaceName)
}

// ErrServerOwned is returned when a device-only operation targets a server-owned interface.
func ErrServerOwned(interfaceName string) error {
	return fmt.Errorf("device: %q is server-owned", interfaceName)
}

// ErrNotProperties is returned when UnsetProperty targets a non-properties interface.
func ErrNotProperties(interfaceName string) error {
	return fmt.Errorf("device: %q is not a properties interface", interfaceName)
}
