package app

import (
	"time"

	"github.com/google/uuid"

	"fluxstore/pkg/store"
)

// Action kinds understood by the application reducers.
const (
	KindCreateItem     = "CREATE_ITEM"
	KindRemoveItem     = "REMOVE_ITEM"
	KindLoadUser       = "LOAD_USER"
	KindUpdateUser     = "UPDATE_USER"
	KindClearUser      = "CLEAR_USER"
	KindIncrement      = "INCREMENT"
	KindDecrement      = "DECREMENT"
	KindIncrementAsync = "INCREMENT_ASYNC"
)

// DefaultIncrementDelay is used by IncrementRequested when no delay is given.
const DefaultIncrementDelay = time.Second

// Action is the closed set of application actions. Reducers switch on the
// concrete type; Unknown carries anything else.
type Action interface {
	store.Action
	appAction()
}

// Item is one entry of the items slice.
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// User is the user slice. The zero value means nobody is logged in.
type User struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// LoggedIn reports whether u holds a user.
func (u User) LoggedIn() bool { return u.Name != "" }

// UserPatch lists the user fields to change; nil fields are kept.
type UserPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type (
	ItemAdded   struct{ Item Item }
	ItemRemoved struct{ ID string }
	UserLoaded  struct{ User User }
	UserUpdated struct{ Patch UserPatch }
	UserCleared struct{}
	Incremented struct{}
	Decremented struct{}

	// IncrementRequested asks for an increment after Delay; an effect
	// worker dispatches the Incremented.
	IncrementRequested struct{ Delay time.Duration }

	// Unknown is any action whose kind the application does not define.
	// Every reducer returns its state unchanged for it.
	Unknown struct {
		Type    string
		Payload any
	}
)

func (ItemAdded) Kind() string          { return KindCreateItem }
func (ItemRemoved) Kind() string        { return KindRemoveItem }
func (UserLoaded) Kind() string         { return KindLoadUser }
func (UserUpdated) Kind() string        { return KindUpdateUser }
func (UserCleared) Kind() string        { return KindClearUser }
func (Incremented) Kind() string        { return KindIncrement }
func (Decremented) Kind() string        { return KindDecrement }
func (IncrementRequested) Kind() string { return KindIncrementAsync }
func (u Unknown) Kind() string          { return u.Type }

func (ItemAdded) appAction()          {}
func (ItemRemoved) appAction()        {}
func (UserLoaded) appAction()         {}
func (UserUpdated) appAction()        {}
func (UserCleared) appAction()        {}
func (Incremented) appAction()        {}
func (Decremented) appAction()        {}
func (IncrementRequested) appAction() {}
func (Unknown) appAction()            {}

// NewItem returns an item with a fresh id.
func NewItem(title string) Item {
	return Item{ID: uuid.NewString(), Title: title}
}

// AddItem is the action creator for a new item titled title.
func AddItem(title string) ItemAdded {
	return ItemAdded{Item: NewItem(title)}
}
