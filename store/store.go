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

// Package store persists property values across device restarts, keyed by interface and path and
// segregated by ownership.
package store

import (
	"errors"
	"fmt"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
)

// ErrStoreCorrupt is returned when a stored row carries an ownership value the store doesn't
// recognize.
var ErrStoreCorrupt = errors.New("property store: corrupt row")

// StoredProperty is a single row of the property store.
type StoredProperty struct {
	Interface string
	Major     int
	Path      string
	Ownership interfaces.Ownership
	Value     interfaces.Value
}

// Store is the contract the device core uses to persist properties. An implementation commits
// each mutation before returning, and applies the "mismatched major evicts the row" rule on Load.
type Store interface {
	// Store upserts (interface, path) with value. A nil value deletes the row, same as Delete.
	Store(interfaceName string, major int, path string, ownership interfaces.Ownership, value *interfaces.Value) error
	// Load returns the row at (interface, path), or nil if absent. If the stored major differs
	// from the requested major, the row is deleted and nil is returned.
	Load(interfaceName string, major int, path string) (*StoredProperty, error)
	Delete(interfaceName, path string) error
	DeleteByInterface(interfaceName string) error
	Clear() error

	AllProperties() ([]StoredProperty, error)
	PropertiesByInterface(interfaceName string) ([]StoredProperty, error)
	PropertiesByOwnership(ownership interfaces.Ownership) ([]StoredProperty, error)
}

func validateOwnership(raw string) (interfaces.Ownership, error) {
	o := interfaces.Ownership(raw)
	if err := o.IsValid(); err != nil {
		return "", fmt.Errorf("%w: ownership %q: %v", ErrStoreCorrupt, raw, err)
	}
	return o, nil
}
