// Package store is a unidirectional state container.
//
// A Store owns one immutable Snapshot made of named slices. Each slice is
// owned by exactly one Reducer, which computes the slice's next value from
// its previous value and an Action. The only way to change the snapshot is
// Dispatch; readers use Select, and consumers that need to react to changes
// register a Listener with Subscribe.
//
//	s, err := store.New(store.Reducers{
//	    "counter": store.Pure(0, func(n int, a store.Action) int {
//	        switch a.(type) {
//	        case Incremented:
//	            return n + 1
//	        default:
//	            return n
//	        }
//	    }),
//	})
//	unsubscribe := s.Subscribe(func() { render(store.Select(s, counter)) })
//	defer unsubscribe()
//	s.Dispatch(Incremented{})
//
// Dispatch is synchronous: when it returns, either every reducer succeeded,
// the new snapshot is visible and every listener has run, or a reducer
// failed and the previous snapshot is still current.
//
// Reducers must be pure. They must not block, perform I/O, call Dispatch,
// or mutate the value they are given. A reducer that does not care about an
// action should return its input unchanged so consumers can skip work.
package store
