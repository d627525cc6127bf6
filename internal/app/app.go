package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"eventpipe/internal/config"
	workerService "eventpipe/internal/core/services/worker"
	"eventpipe/pkg/logging"
)

// App is the running process: either the ingest HTTP server or the worker
// consumer loop, built from the same shared core.
type App struct {
	config       *config.Config
	logger       *slog.Logger
	providers    *ProviderContainer
	mode         DeploymentMode
	shutdownOnce sync.Once
}

// NewServer builds a process running the ingest HTTP surface.
func NewServer(cfg *config.Config) (*App, error) {
	bootstrapLogger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	core, err := ProvideCore(cfg, bootstrapLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	server, err := ProvideServer(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return &App{
		mode:   ModeServer,
		config: cfg,
		logger: bootstrapLogger,
		providers: &ProviderContainer{
			Core:   core,
			Server: server,
			Mode:   ModeServer,
		},
	}, nil
}

// NewWorker builds a process running the consumer loop.
func NewWorker(cfg *config.Config) (*App, error) {
	bootstrapLogger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	core, err := ProvideCore(cfg, bootstrapLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	workers, err := ProvideWorkers(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	return &App{
		mode:   ModeWorker,
		config: cfg,
		logger: bootstrapLogger,
		providers: &ProviderContainer{
			Core:    core,
			Workers: workers,
			Mode:    ModeWorker,
		},
	}, nil
}

// Start launches the process's deployment mode and returns without blocking:
// the HTTP server and each worker loop run on their own goroutines.
func (a *App) Start() error {
	a.logger.Info("starting eventpipe", "mode", a.mode)

	switch a.mode {
	case ModeServer:
		go func() {
			if err := a.providers.Server.HTTPServer.Start(); err != nil {
				a.logger.Error("http server stopped unexpectedly", "error", err)
			}
		}()
		return nil

	case ModeWorker:
		for _, w := range a.providers.Workers.Consumers {
			w := w
			go func() {
				if err := w.Run(context.Background()); err != nil {
					a.logger.Error("worker stopped unexpectedly", "error", err)
				}
			}()
		}
		return nil
	}

	return nil
}

// Shutdown stops the running mode and releases every connection Core opened.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})
	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("shutting down eventpipe", "mode", a.mode)

	done := make(chan struct{})
	go func() {
		switch a.mode {
		case ModeServer:
			if err := a.providers.Server.HTTPServer.Shutdown(ctx); err != nil {
				a.logger.Error("http server shutdown failed", "error", err)
			}
		case ModeWorker:
			var wg sync.WaitGroup
			for _, w := range a.providers.Workers.Consumers {
				wg.Add(1)
				go func(w *workerService.Worker) {
					defer wg.Done()
					w.Stop()
				}(w)
			}
			wg.Wait()
		}
		if err := a.providers.Shutdown(); err != nil {
			a.logger.Error("provider shutdown failed", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("eventpipe shutdown complete")
		return nil
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout exceeded, forcing exit")
		return ctx.Err()
	}
}

// Health reports the state of the process's shared connections.
func (a *App) Health() map[string]string {
	if a.providers != nil {
		return a.providers.HealthCheck()
	}
	return map[string]string{"status": "providers not initialized"}
}

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetLogger returns the bootstrap logger.
func (a *App) GetLogger() *slog.Logger {
	return a.logger
}

// newServiceLogger builds the logrus logger used by the ingest service,
// worker, and Redis/Postgres adapters, mirroring the format/level the
// bootstrap slog logger was given.
func newServiceLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
