// Package effects runs asynchronous workers in response to dispatched
// actions, in the manner of redux-saga's takeEvery and takeLatest.
package effects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fluxstore/internal/logging"
	"fluxstore/pkg/store"
)

var logger = logging.For("effects")

var (
	ErrStopped     = errors.New("effects: runner stopped")
	ErrNotAttached = errors.New("effects: runner not attached to a store")
)

// DefaultMaxWorkers bounds concurrently running workers.
const DefaultMaxWorkers = 16

// Effects is what a worker may do besides its own computation.
type Effects interface {
	// Put dispatches through the store's full middleware chain.
	Put(ctx context.Context, action store.Action) error
	State() store.Snapshot
}

// Worker handles one matching action. Its context is canceled by Stop, and
// for TakeLatest workers also when a newer action of the same kind arrives.
type Worker func(ctx context.Context, action store.Action, fx Effects) error

// Option configures a Runner.
type Option func(*Runner)

// WithMaxWorkers sets the concurrency limit. n <= 0 removes it.
func WithMaxWorkers(n int) Option {
	return func(r *Runner) { r.maxWorkers = n }
}

type latest struct {
	gen    uint64
	cancel context.CancelFunc
}

// Runner dispatches matching actions to workers. Install it with
// store.WithMiddleware(r.Middleware()).
type Runner struct {
	ctx        context.Context
	cancel     context.CancelFunc
	g          errgroup.Group
	maxWorkers int

	mu       sync.Mutex
	api      store.API
	every    map[string][]Worker
	latest   map[string]Worker
	inflight map[string]latest
	gen      uint64
	running  int
	stopped  bool
}

// New returns a Runner whose workers live under parent.
func New(parent context.Context, opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(parent)
	r := &Runner{
		ctx:        ctx,
		cancel:     cancel,
		maxWorkers: DefaultMaxWorkers,
		every:      make(map[string][]Worker),
		latest:     make(map[string]Worker),
		inflight:   make(map[string]latest),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxWorkers > 0 {
		r.g.SetLimit(r.maxWorkers)
	}
	return r
}

// TakeEvery starts w for every action of kind.
func (r *Runner) TakeEvery(kind string, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.every[kind] = append(r.every[kind], w)
}

// TakeLatest starts w for every action of kind, canceling the worker started
// for the previous one if it is still running. Registering again for the
// same kind replaces w.
func (r *Runner) TakeLatest(kind string, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[kind] = w
}

// Middleware lets each action reach the reducers first and then starts the
// workers registered for its kind. It never blocks the dispatch: when the
// worker limit is reached the worker is dropped and logged.
func (r *Runner) Middleware() store.Middleware {
	return func(api store.API, next store.DispatchFunc) store.DispatchFunc {
		r.mu.Lock()
		r.api = api
		r.mu.Unlock()

		return func(ctx context.Context, action store.Action) (store.Action, error) {
			out, err := next(ctx, action)
			if err != nil || out == nil {
				return out, err
			}
			r.start(ctx, out)
			return out, nil
		}
	}
}

// start runs under the values of the dispatch ctx, such as its trace span,
// but is canceled only by the runner.
func (r *Runner) start(dispatchCtx context.Context, action store.Action) {
	kind := action.Kind()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	for _, w := range r.every[kind] {
		ctx, cancel := r.workerContext(dispatchCtx)
		if !r.spawn(ctx, kind, action, w, cancel) {
			cancel()
		}
	}
	if w, ok := r.latest[kind]; ok {
		if prev, ok := r.inflight[kind]; ok {
			prev.cancel()
			delete(r.inflight, kind)
		}
		r.gen++
		gen := r.gen
		ctx, cancel := r.workerContext(dispatchCtx)
		done := func() {
			cancel()
			r.mu.Lock()
			if cur, ok := r.inflight[kind]; ok && cur.gen == gen {
				delete(r.inflight, kind)
			}
			r.mu.Unlock()
		}
		if r.spawn(ctx, kind, action, w, done) {
			r.inflight[kind] = latest{gen: gen, cancel: cancel}
		} else {
			cancel()
		}
	}
}

// workerContext keeps the values of dispatchCtx and the lifetime of the
// runner.
func (r *Runner) workerContext(dispatchCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(dispatchCtx))
	stop := context.AfterFunc(r.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// spawn must be called with r.mu held. done, if set, runs on the worker's
// goroutine after it returns.
func (r *Runner) spawn(ctx context.Context, kind string, action store.Action, w Worker, done func()) bool {
	ok := r.g.TryGo(func() error {
		defer func() {
			r.mu.Lock()
			r.running--
			r.mu.Unlock()
			if done != nil {
				done()
			}
		}()
		r.run(ctx, kind, action, w)
		return nil
	})
	if !ok {
		logger.Warn("effect dropped, worker limit reached", "kind", kind, "limit", r.maxWorkers)
		return false
	}
	r.running++
	return true
}

func (r *Runner) run(ctx context.Context, kind string, action store.Action, w Worker) {
	defer func() {
		if v := recover(); v != nil {
			logger.Error("effect panicked", "kind", kind, "panic", fmt.Sprint(v))
		}
	}()
	err := w(ctx, action, r)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, ErrStopped):
		logger.Debug("effect canceled", "kind", kind)
	default:
		logger.Error("effect failed", "kind", kind, "err", err)
	}
}

// Put dispatches action through the attached store.
func (r *Runner) Put(ctx context.Context, action store.Action) error {
	r.mu.Lock()
	api, stopped := r.api, r.stopped
	r.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if api == nil {
		return ErrNotAttached
	}
	_, err := api.DispatchContext(ctx, action)
	return err
}

// State returns the attached store's current snapshot, or an empty one.
func (r *Runner) State() store.Snapshot {
	r.mu.Lock()
	api := r.api
	r.mu.Unlock()
	if api == nil {
		return store.Snapshot{}
	}
	return api.State()
}

// Running returns the number of workers currently executing.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Stop cancels every worker and waits for them to return. Later actions
// start nothing and Put fails with ErrStopped. Stop is idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	_ = r.g.Wait()
}

// Delay waits for d or until ctx is done.
func Delay(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
