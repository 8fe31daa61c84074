package store

import (
	"maps"
	"slices"
)

// Snapshot is the complete state of a Store at one instant.
// It is a value: the slice map is never modified after the snapshot is built,
// and accessors never hand it out directly.
type Snapshot struct {
	version uint64
	slices  map[string]any
}

// Version counts committed dispatches; the initial snapshot is version 0.
func (s Snapshot) Version() uint64 {
	return s.version
}

// Get returns the value of the named slice.
func (s Snapshot) Get(name string) (any, bool) {
	v, ok := s.slices[name]
	return v, ok
}

// Len returns the number of slices.
func (s Snapshot) Len() int {
	return len(s.slices)
}

// Names returns the slice names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s.slices))
}

// Map returns a shallow copy of the slice map, for serialization.
func (s Snapshot) Map() map[string]any {
	return maps.Clone(s.slices)
}

// Lookup returns the named slice as T. ok is false when the slice is missing
// or holds a value of another type.
func Lookup[T any](s Snapshot, name string) (T, bool) {
	v, ok := s.slices[name]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// SliceOf returns the named slice as T, or T's zero value.
func SliceOf[T any](s Snapshot, name string) T {
	t, _ := Lookup[T](s, name)
	return t
}
