package app

import (
	"slices"

	"fluxstore/pkg/store"
)

// Slice names.
const (
	SliceItems   = "items"
	SliceUser    = "user"
	SliceCounter = "counter"
)

// Reducers returns the application's slice reducers.
func Reducers() store.Reducers {
	return store.Reducers{
		SliceItems:   store.Pure([]Item{}, reduceItems),
		SliceUser:    store.Pure(User{}, reduceUser),
		SliceCounter: store.Pure(0, reduceCounter),
	}
}

func reduceItems(items []Item, action store.Action) []Item {
	switch a := action.(type) {
	case ItemAdded:
		return append(slices.Clip(items), a.Item)
	case ItemRemoved:
		if !slices.ContainsFunc(items, func(it Item) bool { return it.ID == a.ID }) {
			return items
		}
		return slices.DeleteFunc(slices.Clone(items), func(it Item) bool { return it.ID == a.ID })
	default:
		return items
	}
}

func reduceUser(u User, action store.Action) User {
	switch a := action.(type) {
	case UserLoaded:
		// a load replaces the whole user; UserUpdated merges
		return a.User
	case UserUpdated:
		if a.Patch.Name != nil {
			u.Name = *a.Patch.Name
		}
		if a.Patch.Email != nil {
			u.Email = *a.Patch.Email
		}
		return u
	case UserCleared:
		return User{}
	default:
		return u
	}
}

func reduceCounter(n int, action store.Action) int {
	switch action.(type) {
	case Incremented:
		return n + 1
	case Decremented:
		return n - 1
	default:
		return n
	}
}

// Items returns the items slice of sn.
func Items(sn store.Snapshot) []Item { return store.SliceOf[[]Item](sn, SliceItems) }

// CurrentUser returns the user slice of sn.
func CurrentUser(sn store.Snapshot) User { return store.SliceOf[User](sn, SliceUser) }

// Counter returns the counter slice of sn.
func Counter(sn store.Snapshot) int { return store.SliceOf[int](sn, SliceCounter) }
