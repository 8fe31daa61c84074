package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fluxstore/internal/app"
	"fluxstore/internal/config"
	"fluxstore/internal/devtools"
	"fluxstore/internal/effects"
	"fluxstore/internal/persist"
	boltstore "fluxstore/internal/storage/bolt"
	"fluxstore/internal/telemetry"
	"fluxstore/pkg/store"
)

// runtime is everything a command needs around the application store.
type runtime struct {
	cfg      *config.Config
	db       *boltstore.Store // nil when persistence is disabled
	store    *store.Store
	effects  *effects.Runner
	recorder *devtools.Recorder
	registry *prometheus.Registry
	detach   func()
}

// newRuntime builds the store with its middleware, restores the persisted
// snapshot and starts saving. Close releases everything.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		recorder: devtools.NewRecorder(cfg.Devtools.History),
		registry: prometheus.NewRegistry(),
		detach:   func() {},
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(telemetry.WithRegistry(rt.registry))

	rt.effects = effects.New(ctx, effects.WithMaxWorkers(cfg.Effects.MaxWorkers))
	app.RegisterEffects(rt.effects)

	st, err := app.NewStore(
		store.WithMiddleware(
			telemetry.Tracing(),
			metrics.Middleware(),
			rt.recorder.Middleware(),
			rt.effects.Middleware(),
		),
		store.WithListenerErrorHandler(metrics.ListenerPanicked),
	)
	if err != nil {
		rt.effects.Stop()
		return nil, fmt.Errorf("creating store: %w", err)
	}
	rt.store = st

	if !cfg.Persist.Enabled {
		logger.Info("persistence disabled")
		return rt, nil
	}

	db, err := boltstore.Open(cfg.StatePath())
	if err != nil {
		rt.effects.Stop()
		return nil, err
	}
	rt.db = db

	rehydrate, err := persist.Load(db, app.Codecs())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if len(rehydrate.Slices) > 0 {
		if _, err := st.Dispatch(rehydrate); err != nil {
			rt.Close()
			return nil, fmt.Errorf("restoring snapshot: %w", err)
		}
	}
	rt.detach = persist.NewSaver(db, app.Codecs()).Attach(st)

	logger.Info("store ready", "path", db.Path(), "summary", app.Summary(st.State()))
	return rt, nil
}

// devtoolsServer returns a devtools server for the runtime's store.
func (rt *runtime) devtoolsServer() *devtools.Server {
	return devtools.NewServer(rt.store, rt.recorder, devtools.Options{
		Addr:       rt.cfg.Devtools.Listen,
		RatePerSec: rt.cfg.Devtools.RatePerSec,
		Gatherer:   rt.registry,
		Decode:     app.DecodeAction,
	})
}

// Close stops the effect workers, stops saving and closes the database.
func (rt *runtime) Close() {
	rt.effects.Stop()
	rt.detach()
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			logger.Warn("closing database", "err", err)
		}
	}
}
