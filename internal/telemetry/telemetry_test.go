package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"fluxstore/internal/effects"
	"fluxstore/pkg/store"
)

type inc struct{}
type fail struct{}
type hidden struct{}

func (inc) Kind() string    { return "INC" }
func (fail) Kind() string   { return "FAIL" }
func (hidden) Kind() string { return "HIDDEN" }

var errRejected = errors.New("rejected")

func newStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.New(store.Reducers{
		"counter": store.Slice(0, func(n int, a store.Action) (int, error) {
			switch a.(type) {
			case inc:
				return n + 1, nil
			case fail:
				return n, errRejected
			}
			return n, nil
		}),
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func gather(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	m := gather(t, reg, name, labels)
	if m == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	s := newStore(t, store.WithMiddleware(m.Middleware()))

	s.Dispatch(inc{})
	s.Dispatch(inc{})
	s.Dispatch(fail{})
	s.Dispatch(nil)

	tests := []struct {
		kind, status string
		want         float64
	}{
		{"INC", StatusOK, 2},
		{"FAIL", StatusError, 1},
		{"unknown", StatusOK, 1},
	}
	for _, tt := range tests {
		got := counterValue(t, reg, "fluxstore_dispatch_total", map[string]string{"kind": tt.kind, "status": tt.status})
		if got != tt.want {
			t.Errorf("dispatch_total{%s,%s} = %v, want %v", tt.kind, tt.status, got, tt.want)
		}
	}

	h := gather(t, reg, "fluxstore_dispatch_duration_seconds", map[string]string{"kind": "INC"})
	if h.GetHistogram().GetSampleCount() != 2 {
		t.Errorf("duration samples = %d, want 2", h.GetHistogram().GetSampleCount())
	}
	v := gather(t, reg, "fluxstore_snapshot_version", nil)
	if v.GetGauge().GetValue() != 3 {
		t.Errorf("snapshot_version = %v, want 3", v.GetGauge().GetValue())
	}
}

func TestMetricsCountsDroppedActions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("test"))
	swallow := func(api store.API, next store.DispatchFunc) store.DispatchFunc {
		return func(context.Context, store.Action) (store.Action, error) { return nil, nil }
	}
	s := newStore(t, store.WithMiddleware(m.Middleware(), swallow))
	s.Dispatch(inc{})

	if got := counterValue(t, reg, "test_dispatch_total", map[string]string{"kind": "INC", "status": StatusDropped}); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestListenerPanicked(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	s := newStore(t, store.WithListenerErrorHandler(m.ListenerPanicked))
	s.Subscribe(func() { panic("bad listener") })

	s.Dispatch(inc{})
	s.Dispatch(inc{})

	if got := counterValue(t, reg, "fluxstore_listener_panics_total", nil); got != 2 {
		t.Errorf("listener_panics_total = %v, want 2", got)
	}
}

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingSpans(t *testing.T) {
	sr, tp := newRecorder(t)
	s := newStore(t, store.WithMiddleware(Tracing(
		WithTracerProvider(tp),
		WithActionFilter(func(a store.Action) bool { return store.KindOf(a) != "HIDDEN" }),
	)))

	s.Dispatch(inc{})
	s.Dispatch(hidden{})
	s.Dispatch(fail{})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}

	ok := spans[0]
	if ok.Name() != SpanName {
		t.Errorf("span name = %q", ok.Name())
	}
	if v, _ := attr(ok.Attributes(), "fluxstore.action.kind"); v.AsString() != "INC" {
		t.Errorf("kind attr = %q", v.AsString())
	}
	if v, _ := attr(ok.Attributes(), "fluxstore.version.after"); v.AsInt64() != 1 {
		t.Errorf("version.after = %d, want 1", v.AsInt64())
	}
	if ok.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", ok.Status().Code)
	}

	failed := spans[1]
	if failed.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", failed.Status().Code)
	}
	if len(failed.Events()) == 0 {
		t.Error("error was not recorded on the span")
	}
}

func TestTracingNestsDispatches(t *testing.T) {
	sr, tp := newRecorder(t)
	fanout := func(api store.API, next store.DispatchFunc) store.DispatchFunc {
		return func(ctx context.Context, a store.Action) (store.Action, error) {
			out, err := next(ctx, a)
			if _, ok := a.(hidden); ok {
				_, err = api.DispatchContext(ctx, inc{})
			}
			return out, err
		}
	}
	s := newStore(t, store.WithMiddleware(Tracing(WithTracerProvider(tp)), fanout))
	s.Dispatch(hidden{})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("nested dispatch span is not a child of the outer span")
	}
}

func TestTracingParentsEffectPuts(t *testing.T) {
	sr, tp := newRecorder(t)
	runner := effects.New(context.Background())
	t.Cleanup(runner.Stop)
	runner.TakeEvery("HIDDEN", func(ctx context.Context, _ store.Action, fx effects.Effects) error {
		return fx.Put(ctx, inc{})
	})
	s := newStore(t, store.WithMiddleware(Tracing(WithTracerProvider(tp)), runner.Middleware()))

	if _, err := s.Dispatch(hidden{}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(sr.Ended()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("ended spans = %d, want 2", len(sr.Ended()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	var trigger, put sdktrace.ReadOnlySpan
	for _, sp := range sr.Ended() {
		v, _ := attr(sp.Attributes(), "fluxstore.action.kind")
		switch v.AsString() {
		case "HIDDEN":
			trigger = sp
		case "INC":
			put = sp
		}
	}
	if trigger == nil || put == nil {
		t.Fatal("missing trigger or put span")
	}
	if put.Parent().SpanID() != trigger.SpanContext().SpanID() {
		t.Error("span of the worker's put is not a child of the triggering dispatch")
	}
	if put.SpanContext().TraceID() != trigger.SpanContext().TraceID() {
		t.Error("worker's put started a new trace")
	}
}
