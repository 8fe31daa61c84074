package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fluxstore/pkg/store"
)

const defaultTracerName = "fluxstore"

// SpanName is the name of the span started for each dispatch.
const SpanName = "store.dispatch"

// TracingConfig configures the tracing middleware.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "fluxstore").
	TracerName string

	// Provider supplies the tracer. Default: the global provider.
	Provider trace.TracerProvider

	// Filter selects the actions to trace. If nil, all are traced.
	Filter func(store.Action) bool
}

// TracingOption configures Tracing.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *TracingConfig) {
		c.Provider = tp
	}
}

// WithActionFilter sets a filter function for actions.
func WithActionFilter(filter func(store.Action) bool) TracingOption {
	return func(c *TracingConfig) {
		c.Filter = filter
	}
}

// Tracing starts a span around every dispatch. The span context is passed
// down the chain, so nested dispatches become children. Effect workers keep
// the values of the dispatch that started them, so their puts are children
// too.
func Tracing(opts ...TracingOption) store.Middleware {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Provider == nil {
		config.Provider = otel.GetTracerProvider()
	}
	tracer := config.Provider.Tracer(config.TracerName)

	return func(api store.API, next store.DispatchFunc) store.DispatchFunc {
		return func(ctx context.Context, action store.Action) (store.Action, error) {
			if config.Filter != nil && !config.Filter(action) {
				return next(ctx, action)
			}

			ctx, span := tracer.Start(ctx, SpanName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("fluxstore.action.kind", kindLabel(action)),
					attribute.Int64("fluxstore.version.before", int64(api.State().Version())),
				),
			)
			defer span.End()

			out, err := next(ctx, action)
			span.SetAttributes(attribute.Int64("fluxstore.version.after", int64(api.State().Version())))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return out, err
			}
			if out == nil && action != nil {
				span.SetAttributes(attribute.Bool("fluxstore.action.dropped", true))
			}
			span.SetStatus(codes.Ok, "")
			return out, nil
		}
	}
}
