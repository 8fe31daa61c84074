// Package app is the example application built on the store: a list of
// items, the logged-in user and a counter.
package app

import (
	"context"
	"fmt"

	"fluxstore/internal/effects"
	"fluxstore/internal/persist"
	"fluxstore/pkg/store"
)

// NewStore builds the application store. Every persisted slice accepts
// persist.Rehydrate.
func NewStore(opts ...store.Option) (*store.Store, error) {
	return store.New(persist.WithRehydrate(Reducers(), Codecs()), opts...)
}

// Codecs returns the persistence codec of every slice.
func Codecs() persist.Codecs {
	return persist.Codecs{
		SliceItems:   persist.Structured[[]Item](),
		SliceUser:    persist.Structured[User](),
		SliceCounter: persist.Structured[int](),
	}
}

// RegisterEffects installs the application's asynchronous workers.
func RegisterEffects(r *effects.Runner) {
	r.TakeEvery(KindIncrementAsync, incrementAfterDelay)
}

func incrementAfterDelay(ctx context.Context, action store.Action, fx effects.Effects) error {
	req, ok := action.(IncrementRequested)
	if !ok {
		return fmt.Errorf("unexpected action %T", action)
	}
	if err := effects.Delay(ctx, req.Delay); err != nil {
		return err
	}
	return fx.Put(ctx, Incremented{})
}

// Summary is a one-line description of sn.
func Summary(sn store.Snapshot) string {
	user := "-"
	if u := CurrentUser(sn); u.LoggedIn() {
		user = u.Name
	}
	return fmt.Sprintf("items=%d counter=%d user=%s", len(Items(sn)), Counter(sn), user)
}
