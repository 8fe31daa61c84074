package store

import (
	"reflect"
	"sync"
	"unsafe"
)

// Bind is the consumer side of a Store: it selects once, subscribes, and
// after every dispatch recomputes the projection and calls onChange only if
// equal reports a difference from the last value seen. A nil equal falls
// back to reflect.DeepEqual.
//
// Notification rounds of concurrent dispatches may overlap. A projection of a
// snapshot no newer than one already seen is discarded, and onChange calls
// never overlap: a change arriving while onChange runs is delivered after it
// returns, so the last call always carries the latest value. onChange may
// dispatch.
//
// The initial projection is returned rather than passed to onChange. The
// caller owns unsubscribe and must call it when the consumer goes away.
func Bind[T any](s *Store, projector func(Snapshot) T, equal func(a, b T) bool, onChange func(T)) (initial T, unsubscribe func()) {
	if equal == nil {
		equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}

	sn := s.State()
	initial = projector(sn)
	var (
		mu         sync.Mutex
		last       = initial
		seen       = sn.Version()
		delivering bool // an onChange call is in progress
		pending    bool // last changed since that call started
	)
	unsubscribe = s.Subscribe(func() {
		sn := s.State()
		next := projector(sn)

		mu.Lock()
		if sn.Version() <= seen {
			mu.Unlock()
			return
		}
		seen = sn.Version()
		if equal(last, next) {
			mu.Unlock()
			return
		}
		last = next
		if delivering {
			pending = true
			mu.Unlock()
			return
		}
		delivering = true
		for {
			v := last
			pending = false
			mu.Unlock()

			func() {
				defer func() {
					if r := recover(); r != nil {
						mu.Lock()
						delivering, pending = false, false
						mu.Unlock()
						panic(r)
					}
				}()
				onChange(v)
			}()

			mu.Lock()
			if !pending {
				delivering = false
				mu.Unlock()
				return
			}
		}
	})
	return initial, unsubscribe
}

// Same reports identity for comparable values and is the cheap equal
// function for slices whose reducers return their input unchanged.
func Same[T comparable](a, b T) bool {
	return a == b
}

// SameSlice reports whether a and b share the same backing array and length,
// the slice equivalent of reference equality.
func SameSlice[E any](a, b []E) bool {
	return len(a) == len(b) && unsafe.SliceData(a) == unsafe.SliceData(b)
}
