package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/taskmill/taskmill/internal/api"
	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/events"
	"github.com/taskmill/taskmill/internal/platform/amqpexec"
	"github.com/taskmill/taskmill/internal/platform/postgres"
	"github.com/taskmill/taskmill/internal/platform/redistore"
	"github.com/taskmill/taskmill/internal/task"
)

// defaultGroup is the task group the server's front end submits into.
const defaultGroup = "default"

// Demo functions registered by name so they stay invokable when the process
// or amqp executor carries jobs across a serialization boundary.
var (
	echoFunc = task.RegisterProc("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		if len(args) == 1 {
			return args[0], nil
		}
		return args, nil
	})

	sleepFunc = task.RegisterProc("sleep", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("sleep expects one duration argument")
		}
		raw, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("sleep expects a duration string, got %T", args[0])
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		select {
		case <-time.After(d):
			return raw, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	addFunc = task.RegisterProc("add", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		sum := 0.0
		for i, a := range args {
			n, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("argument %d: expected a number, got %T", i, a)
			}
			sum += n
		}
		return sum, nil
	})
)

// application holds the wired components of a running server.
type application struct {
	config   *config.Config
	logger   *slog.Logger
	registry *task.Registry
	manager  *task.Manager
	catalog  *api.Catalog
	promReg  *prometheus.Registry
	db       *sql.DB

	// closers are run in reverse order during cleanup, after the task
	// registry has drained.
	closers []func()
}

// newApplication wires the store and executor selected by the config into a
// task registry, builds the default group's manager, and registers the
// function catalog.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		promReg: prometheus.NewRegistry(),
	}
	app.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := app.buildStore()
	if err != nil {
		app.cleanup()
		return nil, err
	}
	executor, err := app.buildExecutor()
	if err != nil {
		app.cleanup()
		return nil, err
	}

	dispatchMode, err := task.ParseMode(cfg.Engine.DispatchMode)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewLoggingHandler(logger))

	app.registry = task.NewRegistry(logger)
	app.manager = app.registry.GetOrCreate(defaultGroup, task.GroupConfig{
		Store:        store,
		Executor:     executor,
		ResultTTL:    cfg.Engine.ResultTTL,
		WorkerCount:  cfg.Engine.WorkerCount,
		QueueSize:    cfg.Engine.QueueSize,
		PollInterval: cfg.Engine.PollInterval,
		DispatchMode: dispatchMode,
		Metrics:      task.NewMetrics(app.promReg),
		Events:       emitter,
	})

	app.catalog = api.NewCatalog()
	for name, fn := range map[string]task.Callable{
		"echo":  echoFunc,
		"sleep": sleepFunc,
		"add":   addFunc,
	} {
		if err := app.catalog.Register(name, fn); err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to register function: %w", err)
		}
	}

	return app, nil
}

// buildStore constructs the task record backend named by the config. A nil
// return means the registry's in-memory default.
func (app *application) buildStore() (task.Store, error) {
	switch app.config.Engine.Store {
	case "memory":
		return nil, nil

	case "redis":
		store, err := redistore.New(redistore.Config{
			Addr:     app.config.Redis.Addr,
			Password: app.config.Redis.Password,
			DB:       app.config.Redis.DB,
			Group:    defaultGroup,
			TTL:      app.config.Engine.ResultTTL,
		}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build redis store: %w", err)
		}
		app.closers = append(app.closers, func() {
			if err := store.Close(); err != nil {
				app.logger.Error("Failed to close redis store", "error", err)
			}
		})
		return store, nil

	case "postgres":
		db, err := setupAppDatabase(app.config, app.logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() {
			if err := db.Close(); err != nil {
				app.logger.Error("Failed to close database", "error", err)
			}
		})
		app.db = db
		return postgres.NewTaskStore(db, defaultGroup, app.config.Engine.ResultTTL, app.logger), nil

	default:
		return nil, fmt.Errorf("unknown store %q", app.config.Engine.Store)
	}
}

// buildExecutor constructs the executor named by the config. A nil return
// means the registry's goroutine pool default.
func (app *application) buildExecutor() (task.Executor, error) {
	switch app.config.Engine.Executor {
	case "pool":
		return nil, nil

	case "process":
		return task.NewProcessExecutor(task.ProcessConfig{
			WorkerCount: app.config.Engine.WorkerCount,
			QueueSize:   app.config.Engine.QueueSize,
		}, app.logger), nil

	case "amqp":
		exec, err := amqpexec.New(amqpexec.Config{
			URL:         app.config.AMQP.URL,
			Queue:       app.config.AMQP.Queue,
			WorkerCount: app.config.Engine.WorkerCount,
		}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build amqp executor: %w", err)
		}
		return exec, nil

	default:
		return nil, fmt.Errorf("unknown executor %q", app.config.Engine.Executor)
	}
}

// cleanup drains the task registry and then releases backend connections.
func (app *application) cleanup() {
	if app.registry != nil {
		app.registry.Shutdown()
		app.registry = nil
	}
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

// runMigrations applies the embedded schema migrations. Only meaningful for
// the postgres store.
func (app *application) runMigrations() error {
	if app.config.Engine.Store != "postgres" {
		return fmt.Errorf("migrations require the postgres store, configured store is %q", app.config.Engine.Store)
	}

	db := app.db
	if db == nil {
		var err error
		db, err = setupAppDatabase(app.config, app.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				app.logger.Error("Failed to close database", "error", err)
			}
		}()
	}
	return applyMigrations(db, app.logger)
}
