package app

import (
	"context"
	"fmt"
	"os"

	"taskgate/internal/config"
	"taskgate/pkg/logging"
)

// Application bootstraps and runs the gateway.
//
// Initialization happens in two phases:
//  1. Bootstrap: load configuration, initialize logging, wire services
//  2. Execution: serve until interrupted, then shut down gracefully
//
// Example usage:
//
//	cfg := app.NewConfig(false, configPath, version)
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration (unless cfg already carries one),
// configures logging and initializes all services.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	// The configured level applies once the file is loaded.
	bootLevel := logging.LevelInfo
	if cfg.Debug {
		bootLevel = logging.LevelDebug
	}
	logging.Init(bootLevel, os.Stderr)

	if cfg.TaskgateConfig == nil {
		tc, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from path: %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load configuration from path %s: %w", cfg.ConfigPath, err)
		}
		cfg.TaskgateConfig = &tc
	}

	if !cfg.Debug {
		level, err := logging.ParseLevel(cfg.TaskgateConfig.Logging.Level)
		if err != nil {
			logging.Warn("Bootstrap", "%v, using info", err)
		}
		logging.Init(level, os.Stderr)
	}

	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services returns the wired components.
func (a *Application) Services() *Services {
	return a.services
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM is received, then
// shuts down and releases resources.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}
