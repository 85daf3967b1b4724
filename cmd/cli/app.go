package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/anstrom/scanconsole/internal/backend"
	"github.com/anstrom/scanconsole/internal/config"
	"github.com/anstrom/scanconsole/internal/export"
	"github.com/anstrom/scanconsole/internal/guard"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/metrics"
	"github.com/anstrom/scanconsole/internal/publish"
	"github.com/anstrom/scanconsole/internal/resolve"
	"github.com/anstrom/scanconsole/internal/scan"
	"github.com/anstrom/scanconsole/internal/session"
	"github.com/anstrom/scanconsole/internal/storage"
)

// app holds the components a command works with.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	store      storage.Store
	session    *session.Manager
	guard      *guard.Guard
	dispatcher *scan.Dispatcher
	exporter   *export.Exporter
	metrics    *metrics.PrometheusMetrics
	publisher  *publish.Publisher
}

// appOptions select the optional parts of the dispatcher.
type appOptions struct {
	resolve bool
}

// AppOperation represents a function that works with a fully wired app.
type AppOperation func(*app) error

// newApp wires config, logging, storage, backend, session, guard, dispatcher
// and exporter. The session is hydrated from the store before returning.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logger := initLogging(cfg)
	pm := metrics.NewPrometheusMetrics()

	store, err := storage.Open(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("error opening session store: %w", err)
	}

	client := backend.New(cfg.Backend)
	manager := session.NewManager(store, client,
		session.WithLogger(logger),
		session.WithRecorder(pm))
	if err := manager.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("error reading session: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: manager,
		guard:   guard.New(manager),
		exporter: export.New(
			export.WithLogger(logger),
			export.WithRecorder(pm)),
		metrics: pm,
	}

	dispatcherOpts := []scan.DispatcherOption{
		scan.WithLogger(logger),
		scan.WithRecorder(pm),
		scan.WithClearOnExpired(cfg.Session.ClearOnExpired),
	}
	if opts.resolve || cfg.Scan.Resolve {
		resolver, err := resolve.New(cfg.Scan.Nameserver)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("error configuring resolver: %w", err)
		}
		dispatcherOpts = append(dispatcherOpts, scan.WithResolver(resolver))
	}
	if cfg.IsPublishEnabled() {
		publisher, err := publish.Connect(cfg.Publish.NATSURL, cfg.Publish.Subject, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("error connecting to NATS: %w", err)
		}
		a.publisher = publisher
		dispatcherOpts = append(dispatcherOpts, scan.WithPublisher(publisher))
	}
	a.dispatcher = scan.NewDispatcher(client, manager, dispatcherOpts...)

	return a, nil
}

// Close releases the store and the NATS connection.
func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close session store: %v\n", err)
	}
}

// withApp loads the configuration, wires the app and runs operation with it.
func withApp(ctx context.Context, opts appOptions, operation AppOperation) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return operation(a)
}
