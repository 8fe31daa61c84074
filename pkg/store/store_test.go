package store

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fluxstore/internal/logging"
)

type item struct {
	ID    int
	Title string
}

type added struct{ Item item }
type removed struct{ ID int }
type inc struct{}
type boom struct{}

func (added) Kind() string   { return "ADD" }
func (removed) Kind() string { return "REMOVE" }
func (inc) Kind() string     { return "INC" }
func (boom) Kind() string    { return "BOOM" }

var errBoom = errors.New("boom")

func listReducer() Reducer {
	return Pure([]item{}, func(s []item, a Action) []item {
		switch a := a.(type) {
		case added:
			return append(slices.Clip(s), a.Item)
		case removed:
			return slices.DeleteFunc(slices.Clone(s), func(i item) bool { return i.ID == a.ID })
		default:
			return s
		}
	})
}

func countReducer() Reducer {
	return Pure(0, func(n int, a Action) int {
		if _, ok := a.(inc); ok {
			return n + 1
		}
		return n
	})
}

func explodingReducer() Reducer {
	return Slice("calm", func(s string, a Action) (string, error) {
		if _, ok := a.(boom); ok {
			return "", errBoom
		}
		return s, nil
	})
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(Reducers{
		"list":  listReducer(),
		"count": countReducer(),
		"mood":  explodingReducer(),
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustDispatch(t *testing.T, s *Store, a Action) {
	t.Helper()
	if _, err := s.Dispatch(a); err != nil {
		t.Fatalf("Dispatch(%s): %v", KindOf(a), err)
	}
}

func TestNewBuildsInitialSnapshot(t *testing.T) {
	s := newTestStore(t)

	if got := Select(s, func(sn Snapshot) int { return SliceOf[int](sn, "count") }); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
	if got := SliceOf[[]item](s.State(), "list"); len(got) != 0 {
		t.Errorf("list = %v, want empty", got)
	}
	if got := SliceOf[string](s.State(), "mood"); got != "calm" {
		t.Errorf("mood = %q, want calm", got)
	}
	if v := s.State().Version(); v != 0 {
		t.Errorf("Version = %d, want 0", v)
	}
	if diff := cmp.Diff([]string{"count", "list", "mood"}, s.State().Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPassesNilAndInit(t *testing.T) {
	var (
		gotState  any = "unset"
		gotAction Action
	)
	_, err := New(Reducers{
		"probe": func(state any, action Action) (any, error) {
			gotState, gotAction = state, action
			return 42, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotState != nil {
		t.Errorf("state = %v, want nil", gotState)
	}
	if KindOf(gotAction) != InitKind {
		t.Errorf("action kind = %q, want %q", KindOf(gotAction), InitKind)
	}
}

func TestNewRejectsBadReducers(t *testing.T) {
	tests := []struct {
		name     string
		reducers Reducers
		want     error
	}{
		{"nil reducer", Reducers{"a": nil}, ErrNilReducer},
		{"empty name", Reducers{"": countReducer()}, ErrEmptySliceName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.reducers)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewFailsWhenInitFails(t *testing.T) {
	_, err := New(Reducers{
		"bad": func(any, Action) (any, error) { return nil, errBoom },
	})
	var rerr *ReducerError
	if !errors.As(err, &rerr) || rerr.Slice != "bad" || rerr.Kind != InitKind {
		t.Fatalf("err = %v, want ReducerError for bad/@@INIT", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err should wrap errBoom: %v", err)
	}
}

func TestNewEmptyReducers(t *testing.T) {
	s, err := New(Reducers{})
	if err != nil {
		t.Fatal(err)
	}
	mustDispatch(t, s, inc{})
	if s.State().Len() != 0 || s.State().Version() != 1 {
		t.Errorf("state = %d slices v%d", s.State().Len(), s.State().Version())
	}
}

func TestSliceIsolation(t *testing.T) {
	s := newTestStore(t)
	mustDispatch(t, s, added{item{ID: 1, Title: "x"}})
	before := SliceOf[[]item](s.State(), "list")

	mustDispatch(t, s, inc{})

	after := SliceOf[[]item](s.State(), "list")
	if !SameSlice(before, after) {
		t.Error("list slice was replaced by an action only count handles")
	}
	if got := SliceOf[int](s.State(), "count"); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestReducerSeesOnlyItsSlice(t *testing.T) {
	var seen []any
	s, err := New(Reducers{
		"count": countReducer(),
		"spy": func(state any, a Action) (any, error) {
			seen = append(seen, state)
			if state == nil {
				return "spy-default", nil
			}
			return state, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	mustDispatch(t, s, inc{})
	mustDispatch(t, s, inc{})

	if diff := cmp.Diff([]any{nil, "spy-default", "spy-default"}, seen); diff != "" {
		t.Errorf("spy saw foreign state (-want +got):\n%s", diff)
	}
}

func TestListenerObservesCommittedSnapshot(t *testing.T) {
	s := newTestStore(t)
	var observed []int
	s.Subscribe(func() {
		observed = append(observed, Select(s, func(sn Snapshot) int { return SliceOf[int](sn, "count") }))
	})

	mustDispatch(t, s, inc{})
	mustDispatch(t, s, inc{})

	if diff := cmp.Diff([]int{1, 2}, observed); diff != "" {
		t.Errorf("listener saw stale state (-want +got):\n%s", diff)
	}
}

func TestListenerOrdering(t *testing.T) {
	s := newTestStore(t)
	var calls []string
	s.Subscribe(func() { calls = append(calls, "L1") })
	s.Subscribe(func() { calls = append(calls, "L2") })
	s.Subscribe(func() { calls = append(calls, "L3") })

	for range 3 {
		mustDispatch(t, s, inc{})
	}

	want := []string{"L1", "L2", "L3", "L1", "L2", "L3", "L1", "L2", "L3"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeDoesNotReplay(t *testing.T) {
	s := newTestStore(t)
	mustDispatch(t, s, inc{})

	called := false
	s.Subscribe(func() { called = true })
	if called {
		t.Fatal("listener invoked on subscribe")
	}
}

func TestUnsubscribe(t *testing.T) {
	s := newTestStore(t)
	var l1, l2 int
	unsub1 := s.Subscribe(func() { l1++ })
	s.Subscribe(func() { l2++ })

	mustDispatch(t, s, inc{})
	unsub1()
	mustDispatch(t, s, inc{})
	unsub1()
	mustDispatch(t, s, inc{})

	if l1 != 1 {
		t.Errorf("unsubscribed listener ran %d times, want 1", l1)
	}
	if l2 != 3 {
		t.Errorf("other listener ran %d times, want 3", l2)
	}
	if n := s.Listeners(); n != 1 {
		t.Errorf("Listeners() = %d, want 1", n)
	}
}

func TestSubscribeNilListener(t *testing.T) {
	s := newTestStore(t)
	unsub := s.Subscribe(nil)
	unsub()
	mustDispatch(t, s, inc{})
	if n := s.Listeners(); n != 0 {
		t.Errorf("Listeners() = %d, want 0", n)
	}
}

func TestListenerAddedDuringNotificationWaitsForNextRound(t *testing.T) {
	s := newTestStore(t)
	var late int
	added := false
	s.Subscribe(func() {
		if !added {
			added = true
			s.Subscribe(func() { late++ })
		}
	})

	mustDispatch(t, s, inc{})
	if late != 0 {
		t.Fatalf("late listener ran during the round it was added in")
	}
	mustDispatch(t, s, inc{})
	if late != 1 {
		t.Fatalf("late listener ran %d times, want 1", late)
	}
}

func TestListenerRemovedDuringNotificationFinishesRound(t *testing.T) {
	s := newTestStore(t)
	var second int
	var unsub2 func()
	s.Subscribe(func() { unsub2() })
	unsub2 = s.Subscribe(func() { second++ })

	mustDispatch(t, s, inc{})
	mustDispatch(t, s, inc{})

	if second != 1 {
		t.Errorf("second listener ran %d times, want 1", second)
	}
}

func TestReducerErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	mustDispatch(t, s, added{item{ID: 1, Title: "x"}})
	before := s.State()

	notified := false
	s.Subscribe(func() { notified = true })

	got, err := s.Dispatch(boom{})
	if got != nil {
		t.Errorf("returned action = %v, want nil", got)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	var rerr *ReducerError
	if !errors.As(err, &rerr) || rerr.Slice != "mood" || rerr.Kind != "BOOM" {
		t.Errorf("err = %#v", err)
	}
	if notified {
		t.Error("listeners ran for a rejected dispatch")
	}

	after := s.State()
	if after.Version() != before.Version() {
		t.Errorf("version moved from %d to %d", before.Version(), after.Version())
	}
	if diff := cmp.Diff(before.Map(), after.Map()); diff != "" {
		t.Errorf("snapshot changed (-before +after):\n%s", diff)
	}
}

func TestReducerPanicLeavesStoreUsable(t *testing.T) {
	s, err := New(Reducers{
		"count": countReducer(),
		"fragile": func(state any, a Action) (any, error) {
			if _, ok := a.(boom); ok {
				panic("reducer bug")
			}
			if state == nil {
				return 0, nil
			}
			return state, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	mustDispatch(t, s, inc{})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		s.Dispatch(boom{})
	}()

	if got := SliceOf[int](s.State(), "count"); got != 1 {
		t.Errorf("count = %d after panic, want 1", got)
	}
	mustDispatch(t, s, inc{})
	if got := SliceOf[int](s.State(), "count"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
}

func TestListenerPanicIsReportedAndRoundContinues(t *testing.T) {
	c := logging.CaptureForTest()
	defer c.Restore()

	var reported []error
	s := newTestStore(t, WithListenerErrorHandler(func(err error) { reported = append(reported, err) }))

	var after int
	s.Subscribe(func() { panic("listener bug") })
	s.Subscribe(func() { after++ })

	if _, err := s.Dispatch(inc{}); err != nil {
		t.Fatalf("Dispatch returned %v; listener failures must not fail dispatch", err)
	}
	if after != 1 {
		t.Errorf("listener after the panicking one ran %d times, want 1", after)
	}
	if got := SliceOf[int](s.State(), "count"); got != 1 {
		t.Errorf("count = %d, want 1 (snapshot must stay committed)", got)
	}
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
	var perr *ListenerPanicError
	if !errors.As(reported[0], &perr) || perr.Value != "listener bug" || perr.Kind != "INC" {
		t.Errorf("reported = %#v", reported[0])
	}
	if !c.Has(slog.LevelError, "listener panicked") {
		t.Error("listener panic was not logged")
	}
}

func TestListenerPanicUnwrapsErrors(t *testing.T) {
	var reported error
	s, err := New(Reducers{"count": countReducer()}, WithListenerErrorHandler(func(err error) { reported = err }))
	if err != nil {
		t.Fatal(err)
	}
	s.Subscribe(func() { panic(errBoom) })
	mustDispatch(t, s, inc{})
	if !errors.Is(reported, errBoom) {
		t.Errorf("reported = %v, want to wrap errBoom", reported)
	}
}

func TestUnknownActionKeepsEverySlice(t *testing.T) {
	s := newTestStore(t)
	mustDispatch(t, s, added{item{ID: 1, Title: "x"}})
	before := s.State()

	mustDispatch(t, s, Message{Type: "UNKNOWN"})
	mustDispatch(t, s, nil)
	mustDispatch(t, s, Message{})

	after := s.State()
	if !SameSlice(SliceOf[[]item](before, "list"), SliceOf[[]item](after, "list")) {
		t.Error("list slice replaced by unknown action")
	}
	for _, name := range before.Names() {
		b, _ := before.Get(name)
		a, _ := after.Get(name)
		if name != "list" && b != a {
			t.Errorf("slice %q changed: %v -> %v", name, b, a)
		}
	}
	if after.Version() != before.Version()+3 {
		t.Errorf("version = %d, want %d", after.Version(), before.Version()+3)
	}
}

func TestListScenario(t *testing.T) {
	s := newTestStore(t)
	list := func(sn Snapshot) []item { return SliceOf[[]item](sn, "list") }

	steps := []struct {
		action Action
		want   []item
	}{
		{added{item{ID: 1, Title: "x"}}, []item{{1, "x"}}},
		{added{item{ID: 2, Title: "y"}}, []item{{1, "x"}, {2, "y"}}},
		{removed{ID: 1}, []item{{2, "y"}}},
	}
	for _, step := range steps {
		mustDispatch(t, s, step.action)
		if diff := cmp.Diff(step.want, Select(s, list)); diff != "" {
			t.Fatalf("after %s (-want +got):\n%s", step.action.Kind(), diff)
		}
	}
}

func TestEarlierSnapshotsAreUnaffected(t *testing.T) {
	s := newTestStore(t)
	mustDispatch(t, s, added{item{ID: 1, Title: "x"}})
	old := s.State()
	mustDispatch(t, s, added{item{ID: 2, Title: "y"}})

	if got := SliceOf[[]item](old, "list"); len(got) != 1 {
		t.Errorf("old snapshot list grew to %v", got)
	}
}

func TestListenerMayDispatch(t *testing.T) {
	s := newTestStore(t)
	var once sync.Once
	s.Subscribe(func() {
		once.Do(func() { mustDispatch(t, s, inc{}) })
	})

	mustDispatch(t, s, inc{})
	if got := SliceOf[int](s.State(), "count"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
}

func TestConcurrentDispatch(t *testing.T) {
	s := newTestStore(t)
	var (
		mu    sync.Mutex
		calls int
	)
	s.Subscribe(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	const workers, each = 8, 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				if _, err := s.Dispatch(inc{}); err != nil {
					t.Error(err)
				}
				_ = s.State().Version()
			}
		}()
	}
	wg.Wait()

	if got := SliceOf[int](s.State(), "count"); got != workers*each {
		t.Errorf("count = %d, want %d", got, workers*each)
	}
	if got := s.State().Version(); got != workers*each {
		t.Errorf("version = %d, want %d", got, workers*each)
	}
	if calls != workers*each {
		t.Errorf("listener calls = %d, want %d", calls, workers*each)
	}
}

func TestSelectUntyped(t *testing.T) {
	s := newTestStore(t)
	mustDispatch(t, s, inc{})
	got := s.Select(func(sn Snapshot) any { v, _ := sn.Get("count"); return v })
	if got != 1 {
		t.Errorf("Select = %v, want 1", got)
	}
}
