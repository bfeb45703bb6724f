// Package app assembles the component graph and owns start and stop
// ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/do/v2"

	"discussionhub/internal/api"
	"discussionhub/internal/bus"
	"discussionhub/internal/config"
	"discussionhub/internal/database"
	"discussionhub/internal/session"
	"discussionhub/internal/websocket"
)

// Application is the running server: store, bus, registries and HTTP.
type Application struct {
	config   *config.Config
	logger   *slog.Logger
	injector do.Injector

	store      *database.Manager
	bus        *bus.Bus
	sessions   *session.Registry
	conns      *websocket.Registry
	httpServer *http.Server
	addr       string
}

// NewApplication opens the database, applies migrations and resolves the
// component graph. Nothing is served until Start.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	injector := do.New()
	registerDI(injector, cfg, logger)

	store, err := do.Invoke[*database.Manager](injector)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.WriteTimeout)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database migrations applied", "path", cfg.Database.Path)

	apiServer, err := do.Invoke[*api.Server](injector)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build http server: %w", err)
	}

	return &Application{
		config:   cfg,
		logger:   logger.With("component", "app"),
		injector: injector,
		store:    store,
		bus:      do.MustInvoke[*bus.Bus](injector),
		sessions: do.MustInvoke[*session.Registry](injector),
		conns:    do.MustInvoke[*websocket.Registry](injector),
		httpServer: &http.Server{
			Handler:      apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
		addr: cfg.Addr(),
	}, nil
}

// Start listens on the configured address and serves until Stop.
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", app.addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve starts the bus and serves HTTP on ln. It returns once the server is
// accepting connections.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	if err := app.bus.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start message bus: %w", err)
	}
	app.addr = ln.Addr().String()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.bus.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("discussionhub started", "addr", app.addr)
		return nil
	case <-ctx.Done():
		_ = app.bus.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP, sockets, bus, store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	app.conns.CloseAll()
	if err := app.bus.Stop(); err != nil && !errors.Is(err, bus.ErrBusNotRunning) {
		errs = append(errs, fmt.Errorf("bus stop: %w", err))
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Close releases the store without serving. For one-shot commands.
func (app *Application) Close() error {
	return app.store.Close()
}

// Addr returns the listen address, resolved once serving.
func (app *Application) Addr() string {
	return app.addr
}

// Sessions exposes the session registry.
func (app *Application) Sessions() *session.Registry {
	return app.sessions
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
