package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"coaching_framework/internal/analysis"
	"coaching_framework/internal/batch"
	"coaching_framework/internal/coach"
	"coaching_framework/internal/config"
	"coaching_framework/internal/events"
	"coaching_framework/internal/httpapi"
	"coaching_framework/internal/store"
	"coaching_framework/internal/watch"
)

// App wires the processing components together.
type App struct {
	cfg     config.Config
	store   *store.Store
	orch    *batch.Orchestrator
	watcher *watch.Watcher
	bus     *events.Bus
	mux     *http.ServeMux
}

func New(cfg config.Config) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.Analysis.TimeoutSec) * time.Second}
	invoker := analysis.NewInvoker(
		analysis.NewHTTPClient(httpClient, nil),
		cfg.Processing.MaxRetries,
		time.Duration(cfg.Processing.BackoffBaseMs)*time.Millisecond,
	)
	agg := coach.NewAggregator(st, cfg.Processing.LookbackWindows)
	bus := events.NewBus()
	orch := batch.New(st, invoker, agg, bus, cfg)
	watcher := watch.New(cfg, orch)
	mux := http.NewServeMux()
	httpapi.NewRouter(cfg, st, orch).Register(mux)
	return &App{cfg: cfg, store: st, orch: orch, watcher: watcher, bus: bus, mux: mux}, nil
}

// Run starts the watcher and HTTP server and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("http listening on %s", a.cfg.HTTPPort)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Backfill starts one batch over recordings already in the input directory.
func (a *App) Backfill(ctx context.Context) error {
	return a.watcher.Backfill(ctx)
}

func (a *App) Close() error { return a.store.Close() }

func (a *App) Orchestrator() *batch.Orchestrator { return a.orch }
func (a *App) Store() *store.Store               { return a.store }
func (a *App) Bus() *events.Bus                  { return a.bus }
func (a *App) Mux() *http.ServeMux               { return a.mux }
