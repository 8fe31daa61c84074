package store

// Action describes an intended state change. Implementations are plain
// value types and must not be mutated once dispatched.
//
// Applications normally declare a closed set of action types and switch on
// the concrete type in their reducers, keeping a default branch that
// returns the state unchanged.
type Action interface {
	Kind() string
}

// InitKind is the kind of the action used to build the initial snapshot.
const InitKind = "@@INIT"

// Init is dispatched to every reducer, with a nil state, when a Store is
// constructed. Reducers answer it by returning their default value.
type Init struct{}

func (Init) Kind() string { return InitKind }

// Message is an untyped action for callers that have no closed action set.
type Message struct {
	Type    string
	Payload any
}

func (m Message) Kind() string { return m.Type }

// KindOf returns a.Kind(), or "" for a nil action.
func KindOf(a Action) string {
	if a == nil {
		return ""
	}
	return a.Kind()
}
