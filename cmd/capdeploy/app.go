package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/capdeploy/configs"
	"github.com/ashureev/capdeploy/internal/config"
	"github.com/ashureev/capdeploy/internal/dialogue"
	"github.com/ashureev/capdeploy/internal/events"
	"github.com/ashureev/capdeploy/internal/executor"
	"github.com/ashureev/capdeploy/internal/plan"
	"github.com/ashureev/capdeploy/internal/slots"
	"github.com/ashureev/capdeploy/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// memoryDBPath selects the in-memory store instead of SQLite.
const memoryDBPath = ":memory:"

// app holds the wired components shared by all commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	catalog    *plan.Catalog
	watch      bool
	ranker     plan.Ranker
	exec       *executor.Executor
	controller *dialogue.Controller
	registry   *prometheus.Registry
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.DBPath == memoryDBPath {
		a.store = store.NewMemory()
		logger.Warn("Using in-memory store, state is lost on exit")
	} else {
		st, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		a.store = st
	}
	a.closers = append(a.closers, a.store.Close)

	if err := a.store.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.DBPath)

	fallback, err := configs.DefaultCatalog()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load embedded catalog: %w", err)
	}
	a.catalog, err = plan.LoadCatalogFile(cfg.Planner.CatalogPath)
	if err != nil {
		logger.Warn("Catalog file unavailable, using embedded catalog",
			"path", cfg.Planner.CatalogPath,
			"error", err)
		a.catalog = fallback
	} else {
		a.watch = true
		logger.Info("Catalog loaded", "path", cfg.Planner.CatalogPath, "protocols", a.catalog.Len())
	}
	a.ranker = plan.NewFallbackRanker(a.catalog, fallback, cfg.Planner.RankTimeout, logger)

	builder := plan.NewBuilder(a.ranker, plan.BuilderConfig{
		MaxAllocations: cfg.Planner.MaxAllocations,
		Weights:        cfg.Planner.Weights,
	})

	sinks := events.Multi{events.NewLogSink(logger)}
	if cfg.Events.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sinks = append(sinks, events.NewMetricsSink(a.registry))
	}
	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, logger)
		if err != nil {
			logger.Warn("Failed to connect to NATS, events will not be published", "error", err)
		} else {
			a.closers = append(a.closers, nc.Drain)
			sinks = append(sinks, events.NewNATSSink(nc, cfg.Events.SubjectPrefix, logger))
			logger.Info("Publishing plan events to NATS", "url", cfg.Events.NATSURL, "prefix", cfg.Events.SubjectPrefix)
		}
	}

	a.exec = executor.New(a.store, builder, executor.Config{
		Seed:   cfg.Planner.SeedBalances,
		Sink:   sinks,
		Logger: logger,
	})
	a.controller = dialogue.NewController(a.exec, slots.KeywordClassifier{}, slots.NewPatternExtractor(), a.ranker, logger)
	return a, nil
}

// startBackground starts the catalog watcher and the plan sweeper. Both stop
// when ctx is done.
func (a *app) startBackground(ctx context.Context) {
	if a.watch {
		if err := a.catalog.Watch(ctx, a.cfg.Planner.CatalogPath, a.logger); err != nil {
			a.logger.Warn("Catalog hot reload disabled", "error", err)
		}
	}
	a.exec.StartSweeper(ctx, a.cfg.Lifecycle.PlanTTL, a.cfg.Lifecycle.SweepInterval)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
