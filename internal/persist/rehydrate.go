package persist

import (
	"fmt"
	"reflect"

	"fluxstore/pkg/store"
)

// RehydrateKind is the kind of the action that restores persisted slices.
const RehydrateKind = "@@REHYDRATE"

// Rehydrate carries decoded slice values loaded from storage.
type Rehydrate struct {
	Slices  map[string]any
	Version uint64
}

func (Rehydrate) Kind() string { return RehydrateKind }

// Rehydrating wraps the reducer of slice name so that a Rehydrate carrying a
// value for name replaces the slice. Every other action, and a Rehydrate
// without a value for name, goes to reducer.
//
// The value must have the dynamic type of the slice's default, the value
// reducer returns for Init. Otherwise the Rehydrate fails with
// store.ErrSliceType and the store keeps its previous snapshot.
func Rehydrating(name string, reducer store.Reducer) store.Reducer {
	var want reflect.Type
	if def, err := reducer(nil, store.Init{}); err == nil && def != nil {
		want = reflect.TypeOf(def)
	}
	return func(state any, action store.Action) (any, error) {
		if r, ok := action.(Rehydrate); ok {
			if v, ok := r.Slices[name]; ok {
				if want != nil && reflect.TypeOf(v) != want {
					return nil, fmt.Errorf("%w: rehydrating %q: have %T, want %s", store.ErrSliceType, name, v, want)
				}
				return v, nil
			}
		}
		return reducer(state, action)
	}
}

// WithRehydrate returns a copy of reducers where every slice with a codec is
// wrapped by Rehydrating.
func WithRehydrate(reducers store.Reducers, codecs Codecs) store.Reducers {
	out := make(store.Reducers, len(reducers))
	for name, r := range reducers {
		if _, ok := codecs[name]; ok && r != nil {
			r = Rehydrating(name, r)
		}
		out[name] = r
	}
	return out
}
