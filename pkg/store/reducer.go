package store

import (
	"fmt"
	"maps"
	"slices"
)

// Reducer computes the next value of one slice. state is nil only during
// construction, when the action is Init and the reducer must return its
// default. Returning an error aborts the whole dispatch.
type Reducer func(state any, action Action) (any, error)

// Reducers maps slice names to the reducer that owns each slice.
type Reducers map[string]Reducer

// RootReducer computes a whole snapshot from the previous one.
type RootReducer func(prev Snapshot, action Action) (Snapshot, error)

// Slice adapts a typed, fallible reducer. A nil state is replaced by initial.
func Slice[S any](initial S, fn func(state S, action Action) (S, error)) Reducer {
	return func(state any, action Action) (any, error) {
		if state == nil {
			state = initial
		}
		typed, ok := state.(S)
		if !ok {
			return nil, fmt.Errorf("%w: have %T, want %T", ErrSliceType, state, initial)
		}
		return fn(typed, action)
	}
}

// Pure adapts a typed reducer that cannot fail.
func Pure[S any](initial S, fn func(state S, action Action) S) Reducer {
	return Slice(initial, func(state S, action Action) (S, error) {
		return fn(state, action), nil
	})
}

// Combine builds the root reducer. Each slice reducer receives only the
// previous value of its own slice; slices are visited in sorted name order.
// The previous snapshot is never modified: a fresh map is assembled and
// returned only when every reducer succeeded.
func Combine(reducers Reducers) (RootReducer, error) {
	names := slices.Sorted(maps.Keys(reducers))
	owned := make([]Reducer, len(names))
	for i, name := range names {
		if name == "" {
			return nil, ErrEmptySliceName
		}
		if reducers[name] == nil {
			return nil, fmt.Errorf("%w: %q", ErrNilReducer, name)
		}
		owned[i] = reducers[name]
	}

	return func(prev Snapshot, action Action) (Snapshot, error) {
		next := make(map[string]any, len(names))
		for i, name := range names {
			v, err := owned[i](prev.slices[name], action)
			if err != nil {
				return prev, &ReducerError{Slice: name, Kind: KindOf(action), Err: err}
			}
			next[name] = v
		}
		return Snapshot{version: prev.version, slices: next}, nil
	}, nil
}
