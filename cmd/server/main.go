// Package main implements the entry point for the taskmill server, an
// asynchronous task execution engine with an HTTP front end for submitting
// function invocations and tracking their outcomes.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/platform/logger"
	"github.com/taskmill/taskmill/internal/task"
)

func main() {
	// When this binary was re-invoked as a worker subprocess, run the
	// worker loop and exit before touching any server machinery.
	task.RunProcWorkerIfRequested()

	configPath := flag.String("config", "", "path to config file (optional, env vars apply either way)")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	app, err := initializeApp(*configPath)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	if *migrate {
		if err := app.runMigrations(); err != nil {
			slog.Error("Migrations failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Migrations applied")
		return
	}

	if err := app.startHTTPServer(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

// initializeApp loads configuration, sets up logging, and wires the task
// engine components selected by the config.
func initializeApp(configPath string) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"store", cfg.Engine.Store,
		"executor", cfg.Engine.Executor,
		"dispatch_mode", cfg.Engine.DispatchMode)

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	return app, nil
}
