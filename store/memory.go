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

package store

import (
	"sync"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
)

type memoryKey struct {
	iface string
	path  string
}

// MemoryStore is an in-process, map-backed Store with no durability across restarts. It exists so
// the device core and its tests don't need a disk-backed SQLiteStore to exercise the publish and
// receive pipelines.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[memoryKey]StoredProperty
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memoryKey]StoredProperty)}
}

func (s *MemoryStore) Store(interfaceName string, major int, path string, ownership interfaces.Ownership, value *interfaces.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{interfaceName, path}
	if value == nil {
		delete(s.rows, key)
		return nil
	}
	s.rows[key] = StoredProperty{
		Interface: interfaceName,
		Major:     major,
		Path:      path,
		Ownership: ownership,
		Value:     *value,
	}
	return nil
}

func (s *MemoryStore) Load(interfaceName string, major int, path string) (*StoredProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{interfaceName, path}
	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	if row.Major != major {
		delete(s.rows, key)
		return nil, nil
	}
	out := row
	return &out, nil
}

func (s *MemoryStore) Delete(interfaceName, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, memoryKey{interfaceName, path})
	return nil
}

func (s *MemoryStore) DeleteByInterface(interfaceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.rows {
		if k.iface == interfaceName {
			delete(s.rows, k)
		}
	}
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[memoryKey]StoredProperty)
	return nil
}

func (s *MemoryStore) AllProperties() ([]StoredProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredProperty, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	return out, nil
}

func (s *MemoryStore) PropertiesByInterface(interfaceName string) ([]StoredProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoredProperty
	for k, row := range s.rows {
		if k.iface == interfaceName {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryStore) PropertiesByOwnership(ownership interfaces.Ownership) ([]StoredProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoredProperty
	for _, row := range s.rows {
		if row.Ownership == ownership {
			out = append(out, row)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
