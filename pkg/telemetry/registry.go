// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package telemetry

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu         sync.RWMutex
	registry           = make(map[SourceKind]NewSource)
	unavailableSources = make(map[SourceKind]UnavailableSource)
)

// UnavailableSource records a source that cannot be served in the current
// configuration, with the reason, so the read surface can report it instead
// of silently dropping the slot.
type UnavailableSource struct {
	Kind   SourceKind
	Reason string
}

// RegisterSource adds a source factory to the global registry for kind.
// It is usually called during package initialization and panics if a factory
// for the kind is already registered.
func RegisterSource(kind SourceKind, factory NewSource) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("source for %s already registered", kind))
	}
	registry[kind] = factory
	delete(unavailableSources, kind)
}

// MarkUnavailable records that kind cannot be served and why. Any previously
// registered factory for the kind is removed.
func MarkUnavailable(kind SourceKind, reason string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	delete(registry, kind)
	unavailableSources[kind] = UnavailableSource{Kind: kind, Reason: reason}
}

// GetSource retrieves the factory for kind.
func GetSource(kind SourceKind) (NewSource, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, exists := registry[kind]
	if !exists {
		return nil, fmt.Errorf("source for %s not found", kind)
	}
	return factory, nil
}

// AvailableSources returns the registered source kinds in stable order.
func AvailableSources() []SourceKind {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]SourceKind, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// UnavailableSources returns a copy of the unavailable source records.
func UnavailableSources() map[SourceKind]UnavailableSource {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make(map[SourceKind]UnavailableSource, len(unavailableSources))
	for k, v := range unavailableSources {
		out[k] = v
	}
	return out
}

// SourceAvailability reports whether kind can be served, and if not, why.
func SourceAvailability(kind SourceKind) (available bool, reason string) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if _, exists := registry[kind]; exists {
		return true, "source is registered and available"
	}
	if unavail, exists := unavailableSources[kind]; exists {
		return false, unavail.Reason
	}
	return false, "source not found"
}

// resetRegistry clears all registrations. Tests only.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry = make(map[SourceKind]NewSource)
	unavailableSources = make(map[SourceKind]UnavailableSource)
}
