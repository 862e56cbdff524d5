package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/retainer/internal/engine"
	"github.com/artpar/retainer/internal/shell/api"
	"github.com/artpar/retainer/internal/shell/metrics"
	"github.com/artpar/retainer/internal/shell/report"
	"github.com/artpar/retainer/internal/shell/source"
	"github.com/artpar/retainer/internal/shell/store"
	"github.com/artpar/retainer/internal/shell/workers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitSourceError     = 2
	ExitLoadError       = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// App
// =============================================================================

// App wires a data source, the retention engine and the optional HTTP
// server and refresher.
type App struct {
	config     *Config
	source     source.Source
	store      *store.SQLiteStore
	engine     *engine.Engine
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	httpServer *http.Server
	refresher  *workers.Refresher
	logger     *slog.Logger
	out        io.Writer
}

// NewApp creates the application. The report is written to out.
func NewApp(cfg *Config, logger *slog.Logger, out io.Writer) (*App, error) {
	a := &App{
		config: cfg,
		logger: logger,
		out:    out,
	}

	if err := a.openSource(context.Background()); err != nil {
		a.Close()
		return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitSourceError}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		a.Close()
		return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitConfigError}
	}
	a.metrics = m

	e, err := engine.New(a.source, engine.Config{
		AmountOfReleases: cfg.Retention.AmountOfReleases,
		Timeout:          cfg.Source.Timeout,
		Observer:         engine.Observers{engine.NewLogObserver(logger), m},
	})
	if err != nil {
		a.Close()
		return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitConfigError}
	}
	a.engine = e

	if cfg.Server.Enabled {
		handler := api.NewHandler(e, logger).
			WithMetrics(m, a.registry).
			WithAPIKey(cfg.Server.APIKey)

		a.httpServer = &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		if cfg.Refresh.Interval > 0 {
			a.refresher = workers.NewRefresher(e, workers.RefresherConfig{
				Interval: cfg.Refresh.Interval,
				Timeout:  cfg.Source.Timeout,
			}, logger)
		}
	}

	return a, nil
}

// openSource creates the configured data source.
func (a *App) openSource(ctx context.Context) error {
	cfg := a.config.Source

	switch cfg.Kind {
	case SourceFixtures:
		src, err := source.NewFixtureSource(cfg.FixturesDir)
		if err != nil {
			return err
		}
		a.source = src

	case SourceSQLite:
		if err := ensureDir(a.config.Database.DSN); err != nil {
			return err
		}
		st, err := store.NewSQLiteStore(a.config.Database.DSN)
		if err != nil {
			return err
		}
		a.store = st
		a.source = st

		if a.config.Database.SeedFixtures {
			if err := a.seed(ctx); err != nil {
				return err
			}
		}

	case SourceHTTP:
		a.source = source.NewHTTPSource(source.HTTPConfig{
			BaseURL: cfg.HTTP.BaseURL,
			APIKey:  cfg.HTTP.APIKey,
			Timeout: cfg.Timeout,
		})

	default:
		return fmt.Errorf("unknown source kind %q", cfg.Kind)
	}

	return nil
}

// seed imports the fixtures into the store if it holds no projects yet.
func (a *App) seed(ctx context.Context) error {
	projects, err := a.store.Projects(ctx)
	if err != nil {
		return err
	}
	if len(projects) > 0 {
		return nil
	}

	fixtures, err := source.NewFixtureSource(a.config.Source.FixturesDir)
	if err != nil {
		return err
	}
	snapshot, err := source.FetchAll(ctx, fixtures)
	if err != nil {
		return fmt.Errorf("failed to read seed fixtures: %w", err)
	}
	if err := a.store.Import(ctx, snapshot); err != nil {
		return err
	}

	a.logger.Info("seeded database from fixtures",
		"projects", len(snapshot.Projects),
		"deployments", len(snapshot.Deployments),
	)
	return nil
}

// Run loads the data, prints the report and, if enabled, serves the API
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	// Reading before the first load is an error, not a crash.
	if _, err := a.engine.Retained(); err != nil {
		a.logger.Info("retained releases not available yet", "error", err)
	}

	if _, err := a.engine.Init(ctx); err != nil {
		return &AppError{Op: "Init", Err: err, ExitCode: ExitLoadError}
	}

	if err := a.printReport(); err != nil {
		return &AppError{Op: "Report", Err: err, ExitCode: ExitConfigError}
	}

	if a.httpServer == nil {
		return nil
	}
	return a.serve(ctx)
}

func (a *App) printReport() error {
	result, err := a.engine.Retained()
	if err != nil {
		return err
	}

	switch a.config.Report.Format {
	case "json":
		return report.JSON(a.out, result)
	case "none":
		return nil
	default:
		return report.Text(a.out, a.engine.Snapshot(), result)
	}
}

// serve runs the HTTP server and refresher until ctx is done.
func (a *App) serve(ctx context.Context) error {
	if a.refresher != nil {
		a.refresher.Start()
		defer a.refresher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", "address", a.config.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return &AppError{Op: "Serve", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases the store, if any.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("database close error", "error", err)
		}
	}
}

// ensureDir creates the parent directory of a file DSN.
func ensureDir(dsn string) error {
	if strings.Contains(dsn, ":memory:") {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// =============================================================================
// App Error
// =============================================================================

// AppError carries the exit code for a failed operation.
type AppError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AppError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}
