// Package main is the folio server. It loads configuration from the
// environment, opens the configured storage backend, initializes it in the
// background and serves the HTTP API until interrupted.
//
// The application flow:
//  1. Load and validate configuration.
//  2. Create the data directory and open the storage backend.
//  3. Start the server; /readyz reports 503 until storage is initialized.
//  4. Start the integrity sweep and metrics flushing once storage is ready.
//  5. Shut down gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haukened/folio/internal/app"
	"github.com/haukened/folio/internal/config"
	"github.com/haukened/folio/internal/covers"
	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/epub"
	"github.com/haukened/folio/internal/events"
	"github.com/haukened/folio/internal/httpx"
	"github.com/haukened/folio/internal/janitor"
	"github.com/haukened/folio/internal/logger"
	"github.com/haukened/folio/internal/lookup"
	"github.com/haukened/folio/internal/metrics"
	"github.com/haukened/folio/internal/renderer/spine"
	"github.com/haukened/folio/internal/session"
	"github.com/haukened/folio/internal/store"
	"github.com/haukened/folio/internal/store/badgerdb"
	"github.com/haukened/folio/internal/store/filesystem"
	"github.com/haukened/folio/internal/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(dir, 0o700)
	case err != nil:
		return fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}

// backend bundles the two stores with the database metrics are kept in.
type backend struct {
	content   store.ContentStorage
	meta      store.MetadataIndex
	metricsDB *sql.DB
	closers   []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(cfg *config.Config, log *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case "badger":
		bdb, err := badgerdb.Open(cfg.BadgerDir(), log)
		if err != nil {
			return nil, err
		}
		mdb, err := sqlite.Open(cfg.MetricsDSN())
		if err != nil {
			_ = bdb.Close()
			return nil, fmt.Errorf("open metrics database: %w", err)
		}
		return &backend{
			content:   bdb.Content(),
			meta:      bdb.Metadata(),
			metricsDB: mdb,
			closers:   []func() error{bdb.Close, mdb.Close},
		}, nil
	default:
		db, err := sqlite.Open(cfg.SQLiteDSN())
		if err != nil {
			return nil, fmt.Errorf("open library database: %w", err)
		}
		return &backend{
			content:   filesystem.New(cfg.ContentDir()),
			meta:      sqlite.New(db),
			metricsDB: db,
			closers:   []func() error{db.Close},
		}, nil
	}
}

// services holds everything the HTTP layer and background workers use.
type services struct {
	store     *store.Store
	library   *app.Library
	sessions  *session.Manager
	events    *events.Broadcaster
	metrics   *metrics.Manager
	janitor   *janitor.Janitor
	handler   http.Handler
	closeAll  func()
	readiness func(context.Context) error
}

func buildServices(cfg *config.Config, be *backend, log *slog.Logger) *services {
	clock := realClock{}
	st := store.New(be.content, be.meta, clock, store.Options{
		SchemaVersion: cfg.SchemaVersion,
		OrphanGrace:   cfg.OrphanGrace,
		Logger:        log,
	})
	mm := metrics.New(be.metricsDB, metrics.Config{FlushInterval: cfg.MetricsFlushInterval, Logger: log})
	bus := events.NewBroadcaster(log)

	lib := &app.Library{
		Store:    st,
		Parser:   epub.Parser{},
		Covers:   covers.Processor{},
		Clock:    clock,
		Notifier: bus,
		Metrics:  mm,
		Logger:   log,
		MaxBytes: int64(cfg.MaxUploadBytes),
		IDs:      app.IDGenerator{Clock: clock},
	}
	sessions := session.NewManager(st, func() session.Renderer { return spine.New() }, log, mm)

	readiness := func(context.Context) error {
		if !st.Ready() {
			return domain.ErrStoreUnavailable
		}
		return nil
	}
	h := &httpx.Handler{
		Library:  lib,
		Sessions: sessions,
		Dictionary: lookup.NewDictionary(lookup.Options{
			BaseURL: cfg.DictionaryURL, APIKey: cfg.DictionaryKey, RPS: cfg.LookupRPS, Logger: log,
		}),
		Contextual: lookup.NewContextual(lookup.Options{
			BaseURL: cfg.ContextualURL, APIKey: cfg.ContextualKey, RPS: cfg.LookupRPS, Logger: log,
		}, cfg.ContextualModel),
		Events:    &events.Handler{Broadcaster: bus, Logger: log},
		Metrics:   metrics.Handler(mm),
		Readiness: readiness,
		MaxBody:   int64(cfg.MaxUploadBytes),
		Logger:    log,
	}
	return &services{
		store:     st,
		library:   lib,
		sessions:  sessions,
		events:    bus,
		metrics:   mm,
		janitor:   janitor.New(st, mm, janitor.Config{Interval: cfg.SweepInterval, Logger: log}),
		handler:   h.Router(),
		readiness: readiness,
		closeAll: func() {
			sessions.CloseAll()
			bus.Close()
		},
	}
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	// No WriteTimeout: the event stream is long-lived.
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}

// startBackground initializes storage and then starts the workers. A failed
// initialization is sent on fatal.
func startBackground(ctx context.Context, svc *services, log *slog.Logger, fatal chan<- error) {
	go func() {
		if err := svc.store.Initialize(ctx); err != nil {
			fatal <- err
			return
		}
		if err := svc.metrics.InitSchema(ctx); err != nil {
			log.Warn("metrics disabled", "domain", "metrics", "error", err)
		} else {
			svc.metrics.Start(ctx)
		}
		svc.janitor.Start(ctx)
	}()
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	log := logger.New(logger.Config{Writer: os.Stderr, Format: cfg.LogFormat, Level: cfg.LogLevel})
	slog.SetDefault(log)

	if err := ensureDataDir(cfg.DataDir); err != nil {
		return err
	}
	be, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	svc := buildServices(cfg, be, log)
	fatal := make(chan error, 1)
	startBackground(ctx, svc, log, fatal)

	srv := newServer(cfg, svc.handler)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", cfg.Addr, "backend", cfg.Backend, "pid", os.Getpid())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case runErr = <-fatal:
		log.Error("storage initialization failed", "domain", "store", "error", runErr)
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	svc.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	svc.janitor.Stop()
	if err := svc.metrics.Stop(shutdownCtx); err != nil {
		log.Warn("final metrics flush", "domain", "metrics", "error", err)
	}
	return runErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		slog.Error("folio exited", "error", err)
		stop()
		os.Exit(1)
	}
}
