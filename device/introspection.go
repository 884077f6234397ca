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
	"sort"
	"sync"

	"github.com/astarte-platform/astarte-device-sdk-go/interfaces"
)

// Introspection is the device's active interface set: a name-indexed registry with O(1)
// add/remove/get. It has its own lock so the core can read it independently of the state machine
// lock when composing the introspection line.
type Introspection struct {
	mu   sync.RWMutex
	byID map[string]interfaces.Interface
}

// NewIntrospection returns an empty Introspection.
func NewIntrospection() *Introspection {
	return &Introspection{byID: make(map[string]interfaces.Interface)}
}

// Add registers iface, replacing any prior interface under the same name.
func (r *Introspection) Add(iface interfaces.Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[iface.Name] = iface
}

// Remove deletes name from the registry. Removing an absent name is a no-op.
func (r *Introspection) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, name)
}

// Get returns the interface registered under name, or false if absent.
func (r *Introspection) Get(name string) (interfaces.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	iface, ok := r.byID[name]
	return iface, ok
}

// All returns every registered interface, in unspecified order.
func (r *Introspection) All() []interfaces.Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]interfaces.Interface, 0, len(r.byID))
	for _, iface := range r.byID {
		out = append(out, iface)
	}
	return out
}

// ResolveMapping looks up interfaceName and returns the mapping matched by path.
func (r *Introspection) ResolveMapping(interfaceName, path string) (interfaces.Mapping, bool) {
	iface, ok := r.Get(interfaceName)
	if !ok {
		return interfaces.Mapping{}, false
	}
	mapping := iface.GetMapping(path)
	if mapping == nil {
		return interfaces.Mapping{}, false
	}
	return *mapping, true
}

// IsObjectAggregated reports whether interfaceName is registered and, if so, whether it uses
// object aggregation - used by adapters to pick the individual or object wire decode path.
func (r *Introspection) IsObjectAggregated(interfaceName string) (isObject bool, known bool) {
	iface, ok := r.Get(interfaceName)
	if !ok {
		return false, false
	}
	return iface.IsObjectAggregated(), true
}

// ServerOwned returns every server-owned interface currently registered.
func (r *Introspection) ServerOwned() []interfaces.Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []interfaces.Interface
	for _, iface := range r.byID {
		if iface.IsServerOwned() {
			out = append(out, iface)
		}
	}
	return out
}

// Line renders the introspection string published on connect: "name:major:minor" entries joined
// by ";", each interface exactly once. Interfaces are sorted by name for a stable, testable
// rendering; the wire format itself does not require any particular order.
func (r *Introspection) Line() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byID))
	for name := range r.byID {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]string, 0, len(names))
	for _, name := range names {
		iface := r.byID[name]
		entries = append(entries, fmt.Sprintf("%s:%d:%d", iface.Name, iface.MajorVersion, iface.MinorVersion))
	}

	out := ""
	for i, e := range entries {
		if i > 0 {
			out += ";"
		}
		out += e
	}
	return out
}
