package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/rendis/procflow/internal/actions"
	"github.com/rendis/procflow/internal/config"
	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/notify"
	"github.com/rendis/procflow/internal/process"
	"github.com/rendis/procflow/internal/scheduler"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/streaming"
	"github.com/rendis/procflow/internal/telemetry"
	"github.com/rendis/procflow/internal/trigger"
	"github.com/rendis/procflow/internal/validation"
)

// app is the wired object graph shared by serve and mcp.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	redis     *redis.Client
	hub       *streaming.MemoryHub
	validator *validation.ProcedureValidator
	engine    *engine.Engine
	coord     *process.Coordinator
	hooks     *trigger.Dispatcher
	files     *trigger.SeenFiles
	scheduler *scheduler.DelayScheduler
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return store.NewPostgresStore(ctx, cfg.Store.DSN)
	case config.DriverLibSQL:
		return store.NewLibSQLStore(cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newApp opens the store, migrates it and wires every component.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, hub: streaming.NewMemoryHub()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err = a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	metrics, err := telemetry.Global()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	sink := notify.Multi{notify.NewHubSink(a.hub), notify.NewLogSink(logger)}

	reg := actions.NewRegistry()
	if err = actions.RegisterBuiltins(reg, actions.BuiltinDeps{
		Sink: sink,
		HTTP: actions.HTTPConfig{
			MaxResponseBody: cfg.HTTP.MaxResponseBody,
			DefaultTimeout:  cfg.HTTP.Timeout,
		},
		Logger: logger,
	}); err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}

	if a.validator, err = validation.NewProcedureValidator(reg); err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}

	if a.engine, err = engine.New(engine.Config{
		Store:   a.store,
		Actions: reg,
		Outputs: a.validator,
		Sink:    sink,
		Metrics: metrics,
		Logger:  logger,
	}); err != nil {
		return nil, err
	}

	queue, err := a.delayQueue(ctx)
	if err != nil {
		return nil, err
	}

	if a.coord, err = process.New(process.Config{
		Store:   a.store,
		Runs:    a.engine,
		Delays:  queue,
		Metrics: metrics,
		Logger:  logger,
	}); err != nil {
		return nil, err
	}
	a.engine.SetCompletionListener(a.coord)

	a.hooks = trigger.NewDispatcher(a.store, a.engine, metrics, logger)
	a.files = trigger.NewSeenFiles(a.hooks, cfg.Dedup.TTL, logger)

	if a.scheduler, err = scheduler.New(scheduler.Config{
		Queue:   queue,
		Resumer: a.coord,
		Spec:    cfg.Scheduler.Spec,
		Workers: cfg.Scheduler.Workers,
		Batch:   cfg.Scheduler.Batch,
		Metrics: metrics,
		Logger:  logger,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) delayQueue(ctx context.Context) (scheduler.DelayQueue, error) {
	if a.cfg.Scheduler.Backend != config.BackendRedis {
		return scheduler.NewStoreDelayQueue(a.store), nil
	}
	client, err := scheduler.DialRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return scheduler.NewRedisDelayQueue(client, a.cfg.Redis.Key), nil
}

// startScheduler starts delay polling when enabled.
func (a *app) startScheduler(ctx context.Context) error {
	if !a.cfg.Scheduler.Enabled {
		a.logger.Info("delay scheduler disabled")
		return nil
	}
	return a.scheduler.Start(ctx)
}

// Close releases everything newApp acquired. It is safe on a partly built app.
func (a *app) Close() {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", slog.String("error", err.Error()))
	}
}
