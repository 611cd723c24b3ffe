// Package server assembles postsync's dependencies and runs its modes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/api"
	"github.com/JakeFAU/postsync/internal/config"
	"github.com/JakeFAU/postsync/internal/enrich"
	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/metrics"
	"github.com/JakeFAU/postsync/internal/orchestrator"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     ingest.DocumentStore
	runner    *orchestrator.Runner
	enricher  *enrich.Enricher
	closers   []closer
	apiServer *api.Server
}

type closer struct {
	name  string
	close func() error
}

// Store returns the configured document store.
func (a *App) Store() ingest.DocumentStore {
	return a.store
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunOnce performs a single sync run.
func (a *App) RunOnce(ctx context.Context) (orchestrator.Report, error) {
	report, err := a.runner.Run(ctx, a.store)
	if err != nil {
		return report, fmt.Errorf("sync run: %w", err)
	}
	return report, nil
}

// Backfill enriches stored posts that have no media yet.
func (a *App) Backfill(ctx context.Context, limit int) (enrich.BackfillSummary, error) {
	summary, err := a.enricher.Backfill(ctx, a.store, limit, a.cfg.Enrich.Concurrency)
	if err != nil {
		return summary, fmt.Errorf("backfill: %w", err)
	}
	return summary, nil
}

// Serve runs the HTTP API and, when an interval is configured, periodic
// sync runs. It blocks until ctx is canceled or a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.apiServer = api.NewServer(ctx, a.runner, a.store, *a.cfg, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if a.cfg.Schedule.Interval > 0 {
		go a.schedule(ctx, a.cfg.Schedule.Interval)
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// schedule runs a sync every interval. Ticks that land on an active run are
// skipped.
func (a *App) schedule(ctx context.Context, interval time.Duration) {
	logger := a.logger.Named("scheduler")
	logger.Info("scheduler started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := a.runner.Run(ctx, a.store)
			switch {
			case errors.Is(err, orchestrator.ErrRunInProgress):
				logger.Info("previous run still active; skipping tick")
			case err != nil && ctx.Err() == nil:
				logger.Error("scheduled run failed", zap.Error(err))
			}
		}
	}
}

// Close releases every dependency in reverse build order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// sanitizedConfig holds the non-sensitive fields logged at startup.
type sanitizedConfig struct {
	ServerPort int      `json:"server_port"`
	Store      string   `json:"store"`
	Archive    string   `json:"archive"`
	Sources    []string `json:"sources"`
	Headless   bool     `json:"headless"`
	OnError    string   `json:"on_error"`
}

func newApp(cfg *config.Config, logger *zap.Logger) *App {
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort: cfg.Server.Port,
		Store:      cfg.Store.Driver,
		Archive:    cfg.Archive.Backend,
		Sources:    cfg.Sources.Enabled,
		Headless:   cfg.Headless.Enabled,
		OnError:    cfg.Enrich.OnError,
	}))
	metrics.Init()
	return &App{cfg: cfg, logger: logger}
}
