package store

import (
	"errors"
	"fmt"
)

var (
	ErrNilReducer     = errors.New("store: nil reducer")
	ErrEmptySliceName = errors.New("store: empty slice name")
	ErrSliceType      = errors.New("store: slice holds unexpected type")
)

// ReducerError reports the slice whose reducer failed. The snapshot that was
// current before the dispatch is left in place.
type ReducerError struct {
	Slice string
	Kind  string
	Err   error
}

func (e *ReducerError) Error() string {
	return fmt.Sprintf("store: reducer %q failed on %q: %v", e.Slice, e.Kind, e.Err)
}

func (e *ReducerError) Unwrap() error { return e.Err }

// ListenerPanicError wraps the value recovered from a panicking listener.
type ListenerPanicError struct {
	Subscription uint64
	Kind         string
	Value        any
}

func (e *ListenerPanicError) Error() string {
	return fmt.Sprintf("store: listener %d panicked after %q: %v", e.Subscription, e.Kind, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *ListenerPanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
