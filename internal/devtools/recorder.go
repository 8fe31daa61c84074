// Package devtools exposes a running store over HTTP: current state, a
// history of dispatched actions, remote dispatch and a live websocket feed.
package devtools

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fluxstore/pkg/store"
)

// DefaultHistory is the number of entries a Recorder keeps when given a
// non-positive size.
const DefaultHistory = 256

// Entry describes one dispatch that went through the Recorder.
type Entry struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration_ns"`
	Version  uint64        `json:"version"`
	Dropped  bool          `json:"dropped,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// Recorder keeps a bounded history of dispatches, oldest first.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

// NewRecorder returns a Recorder that keeps the last size entries.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultHistory
	}
	return &Recorder{entries: make([]Entry, size), now: time.Now}
}

// Middleware records every dispatch once the rest of the chain returns.
func (r *Recorder) Middleware() store.Middleware {
	return func(api store.API, next store.DispatchFunc) store.DispatchFunc {
		return func(ctx context.Context, action store.Action) (store.Action, error) {
			start := r.now()
			out, err := next(ctx, action)

			e := Entry{
				ID:       uuid.NewString(),
				Kind:     store.KindOf(action),
				At:       start,
				Duration: r.now().Sub(start),
				Version:  api.State().Version(),
				Dropped:  out == nil && action != nil && err == nil,
			}
			if err != nil {
				e.Err = err.Error()
			}
			r.add(e)
			return out, err
		}
	}
}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// History returns the recorded entries, oldest first.
func (r *Recorder) History() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}
