// Package telemetry instruments a store with Prometheus metrics and
// OpenTelemetry spans, both as store middleware.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fluxstore/pkg/store"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace prefixes every metric name (default: "fluxstore").
	Namespace string

	// Buckets are the dispatch duration histogram buckets.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "fluxstore",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Dispatch outcomes used as the status label.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusDropped = "dropped"
)

// Metrics holds the store collectors.
type Metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	listenerPanics   prometheus.Counter
	snapshotVersion  prometheus.Gauge
}

// NewMetrics registers the store collectors:
//   - fluxstore_dispatch_total{kind,status}
//   - fluxstore_dispatch_duration_seconds{kind}
//   - fluxstore_listener_panics_total
//   - fluxstore_snapshot_version
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched actions by kind and outcome",
		}, []string{"kind", "status"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in the dispatch chain, listeners included",
			Buckets:   config.Buckets,
		}, []string{"kind"}),

		listenerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "listener_panics_total",
			Help:      "Listeners that panicked during notification",
		}),

		snapshotVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "snapshot_version",
			Help:      "Version of the current snapshot",
		}),
	}
}

// Middleware counts and times every dispatch.
func (m *Metrics) Middleware() store.Middleware {
	return func(api store.API, next store.DispatchFunc) store.DispatchFunc {
		return func(ctx context.Context, action store.Action) (store.Action, error) {
			kind := kindLabel(action)
			start := time.Now()

			out, err := next(ctx, action)

			m.dispatchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			status := StatusOK
			switch {
			case err != nil:
				status = StatusError
			case out == nil && action != nil:
				status = StatusDropped
			}
			m.dispatchTotal.WithLabelValues(kind, status).Inc()
			m.snapshotVersion.Set(float64(api.State().Version()))
			return out, err
		}
	}
}

// ListenerPanicked counts a listener failure. It fits
// store.WithListenerErrorHandler.
func (m *Metrics) ListenerPanicked(error) {
	m.listenerPanics.Inc()
}

func kindLabel(a store.Action) string {
	if k := store.KindOf(a); k != "" {
		return k
	}
	return "unknown"
}
