// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the prodtest server and test runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"prodtest/config"
	"prodtest/internal/logentry"
	"prodtest/internal/schema"
	"prodtest/internal/server"
	"prodtest/internal/storage"
	"prodtest/internal/testrunner"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	logger   *slog.Logger
	storage  storage.Storage
	registry *schema.Registry
	backend  schema.Backend
	logs     logentry.Store
	metrics  *prometheus.Registry
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// AttachActivePrefix binds entities to the tables of a test runner
	// already active in this process environment.
	AttachActivePrefix bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := schema.NewRegistry(logentry.Entity())
	if err != nil {
		return nil, fmt.Errorf("failed to register entities: %w", err)
	}

	store, err := storage.New(ctx, appCfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app := &App{
		config:   appCfg,
		logger:   logger,
		storage:  store,
		registry: registry,
		metrics:  prometheus.NewRegistry(),
	}

	if err := app.init(cfg); err != nil {
		if closeErr := store.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (also: storage close error: %v)", err, closeErr)
		}
		return nil, err
	}

	app.logStartupInfo(cfg.AppConfig.Path)
	return app, nil
}

func (a *App) init(cfg Config) error {
	if cfg.AttachActivePrefix {
		prefix, ok, err := testrunner.Attach(a.registry)
		if err != nil {
			return fmt.Errorf("failed to attach to test run: %w", err)
		}
		if ok {
			a.logger.Info("attached to active test run", "prefix", prefix)
		}
	}

	backend, err := schema.NewBackend(a.storage)
	if err != nil {
		return fmt.Errorf("failed to initialize schema backend: %w", err)
	}
	a.backend = backend

	logs, err := logentry.NewStore(a.storage, a.registry)
	if err != nil {
		return fmt.Errorf("failed to initialize log store: %w", err)
	}
	a.logs = logs

	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.server = server.New(logs, &server.Config{
		MetricsEnabled:  a.config.Metrics.Enabled,
		MetricsEndpoint: a.config.Metrics.Endpoint,
		Gatherer:        a.metrics,
		Logger:          a.logger,
	})
	return nil
}

// Storage returns the default database connection.
func (a *App) Storage() storage.Storage { return a.storage }

// Registry returns the entity registry.
func (a *App) Registry() *schema.Registry { return a.registry }

// Backend returns the schema backend for the default connection.
func (a *App) Backend() schema.Backend { return a.backend }

// LogEntries returns the log entry store.
func (a *App) LogEntries() logentry.Store { return a.logs }

// Metrics returns the registry backing the metrics endpoint.
func (a *App) Metrics() *prometheus.Registry { return a.metrics }

// Handler returns the HTTP handler, for use with httptest.
func (a *App) Handler() http.Handler { return a.server }

// NewRunner creates a test runner over the app's connection and entities.
// Runner metrics are registered on the app metrics registry, so only one
// runner may be created per App.
func (a *App) NewRunner(cfg testrunner.RunConfig, opts ...testrunner.Option) (*testrunner.Runner, error) {
	if cfg.ConfiguredPrefix == "" {
		cfg.ConfiguredPrefix = a.config.TestRunner.TablePrefix
	}
	defaults := []testrunner.Option{
		testrunner.WithLogger(a.logger),
		testrunner.WithMetrics(testrunner.NewMetrics(a.metrics)),
	}
	return testrunner.New(a.backend, a.registry, cfg, append(defaults, opts...)...)
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and then closes the storage connection.
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	// Stop accepting requests before the connection goes away
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(path string) {
	cfg := a.config

	if path != "" {
		a.logger.Info("configuration loaded", "path", path)
	}

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	a.logger.Info("storage configured", "type", cfg.Storage.Type)

	tables := a.registry.Bindings()
	a.logger.Debug("entity tables", "tables", tables.Tables())
}
