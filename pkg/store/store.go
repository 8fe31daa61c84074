package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"fluxstore/internal/logging"
)

var logger = logging.For("store")

// Listener is called with no arguments after every committed dispatch.
type Listener func()

// Option configures a Store.
type Option func(*Store)

// WithMiddleware appends middleware to the dispatch chain. The first
// middleware given is the outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(s *Store) {
		s.middleware = append(s.middleware, mws...)
	}
}

// WithListenerErrorHandler receives every *ListenerPanicError after it has
// been logged. It runs on the dispatching goroutine.
func WithListenerErrorHandler(fn func(error)) Option {
	return func(s *Store) {
		s.onListenerError = fn
	}
}

type subscription struct {
	id       uint64
	listener Listener
}

// Store holds the current snapshot and the listener set.
// It is safe for concurrent use.
type Store struct {
	reduce  RootReducer
	current atomic.Pointer[Snapshot]

	// dispatchMu serializes read-compute-commit. It is released before
	// listeners run so that they may Select or Dispatch again.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	listeners []subscription // replaced, never modified in place
	nextID    uint64

	middleware      []Middleware
	dispatch        DispatchFunc
	onListenerError func(error)
}

// New builds a Store from a reducer map. Every reducer is called once with a
// nil state and Init to produce the initial snapshot.
func New(reducers Reducers, opts ...Option) (*Store, error) {
	root, err := Combine(reducers)
	if err != nil {
		return nil, err
	}

	initial, err := root(Snapshot{}, Init{})
	if err != nil {
		return nil, fmt.Errorf("building initial snapshot: %w", err)
	}

	s := &Store{reduce: root}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&initial)
	s.dispatch = chain(s, s.commit, s.middleware)

	logger.Debug("store created", "slices", initial.Len(), "middleware", len(s.middleware))
	return s, nil
}

// State returns the current snapshot.
func (s *Store) State() Snapshot {
	return *s.current.Load()
}

// Select applies projector to the current snapshot.
func (s *Store) Select(projector func(Snapshot) any) any {
	return projector(s.State())
}

// Select is the typed form of (*Store).Select.
func Select[T any](s *Store, projector func(Snapshot) T) T {
	return projector(s.State())
}

// Dispatch runs action through the middleware chain and the reducers.
// It returns the action that reached the reducers, or the reducer error with
// the previous snapshot left in place.
func (s *Store) Dispatch(action Action) (Action, error) {
	return s.DispatchContext(context.Background(), action)
}

// DispatchContext is Dispatch with a context for middleware that traces or
// spawns work. The store itself never blocks on ctx.
func (s *Store) DispatchContext(ctx context.Context, action Action) (Action, error) {
	return s.dispatch(ctx, action)
}

// commit is the innermost link of the chain.
func (s *Store) commit(_ context.Context, action Action) (Action, error) {
	if err := s.apply(action); err != nil {
		logger.Debug("dispatch rejected", "kind", KindOf(action), "err", err)
		return nil, err
	}
	s.notify(action, s.subscribers())
	return action, nil
}

// apply swaps in the next snapshot. A reducer that panics unwinds through
// here with the lock released and the previous snapshot untouched.
func (s *Store) apply(action Action) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	prev := s.current.Load()
	next, err := s.reduce(*prev, action)
	if err != nil {
		return err
	}
	next.version = prev.version + 1
	s.current.Store(&next)
	return nil
}

// Subscribe registers listener for every later dispatch. The returned
// function removes it and may be called any number of times.
func (s *Store) Subscribe(listener Listener) (unsubscribe func()) {
	if listener == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(slices.Clip(s.listeners), subscription{id: id, listener: listener})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = slices.DeleteFunc(slices.Clone(s.listeners), func(sub subscription) bool {
		return sub.id == id
	})
}

// Listeners returns the number of active subscriptions.
func (s *Store) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// subscribers captures the listener set for one notification round.
func (s *Store) subscribers() []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners
}

func (s *Store) notify(action Action, subs []subscription) {
	for _, sub := range subs {
		if err := s.call(sub, action); err != nil {
			logger.Error("listener panicked", "subscription", sub.id, "kind", KindOf(action), "err", err)
			if s.onListenerError != nil {
				s.onListenerError(err)
			}
		}
	}
}

func (s *Store) call(sub subscription, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ListenerPanicError{Subscription: sub.id, Kind: KindOf(action), Value: r}
		}
	}()
	sub.listener()
	return nil
}
