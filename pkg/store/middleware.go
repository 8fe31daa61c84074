package store

import "context"

// DispatchFunc is one link of the dispatch chain.
type DispatchFunc func(ctx context.Context, action Action) (Action, error)

// API is the part of a Store visible to middleware.
type API interface {
	State() Snapshot
	DispatchContext(ctx context.Context, action Action) (Action, error)
}

// Middleware wraps the dispatch chain. It may inspect, replace, delay or
// swallow actions before calling next, and observe the result after.
// DispatchContext on api re-enters the chain from the outermost middleware.
type Middleware func(api API, next DispatchFunc) DispatchFunc

// chain composes middleware so that mws[0] is the outermost.
func chain(api API, core DispatchFunc, mws []Middleware) DispatchFunc {
	next := core
	for i := len(mws) - 1; i >= 0; i-- {
		next = mws[i](api, next)
	}
	return next
}
