// Package app wires all dialdeck subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the bootstrap bundle and
// builds the dashboard store and its HTTP surface, Run serves until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject collaborators via functional options (WithBundle,
// WithSaver, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dialdeck/internal/bootstrap"
	"github.com/MrWong99/dialdeck/internal/config"
	"github.com/MrWong99/dialdeck/internal/dashboard"
	"github.com/MrWong99/dialdeck/internal/health"
	"github.com/MrWong99/dialdeck/internal/notify"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/internal/server"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	bundle  atomic.Pointer[bootstrap.Bundle]
	watcher *bootstrap.Watcher
	saver   dashboard.Saver
	guard   *GuardedSaver
	bus     *notify.Bus
	store   atomic.Pointer[dashboard.Store]
	server  *server.Server
	httpSrv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBundle uses b instead of loading the bootstrap files. Reloading is
// disabled.
func WithBundle(b *bootstrap.Bundle) Option {
	return func(a *App) { a.bundle.Store(b) }
}

// WithSaver injects a saver instead of creating one from config.
func WithSaver(s dashboard.Saver) Option {
	return func(a *App) { a.saver = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// A bootstrap failure is fatal: New returns an error wrapping
// [bootstrap.ErrBootstrap] and nothing is left running.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Bootstrap bundle ──────────────────────────────────────────────
	if err := a.initBundle(ctx); err != nil {
		return nil, fmt.Errorf("app: init bootstrap: %w", err)
	}

	// ── 2. Saver ─────────────────────────────────────────────────────────
	if err := a.initSaver(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init saver: %w", err)
	}

	// ── 3. Dashboard store ───────────────────────────────────────────────
	if err := a.initStore(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBundle loads the bundle once, or starts a watcher when reloading is
// enabled.
func (a *App) initBundle(ctx context.Context) error {
	if a.bundle.Load() != nil {
		return nil // injected
	}

	src := a.cfg.Bootstrap.Sources
	if interval := a.cfg.Bootstrap.ReloadInterval; interval > 0 {
		w, err := bootstrap.NewWatcher(src, a.onBundleChange, bootstrap.WithInterval(interval))
		if err != nil {
			return err
		}
		a.watcher = w
		a.bundle.Store(w.Current())
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
		slog.Info("bootstrap watcher started", "paths", src.Paths(), "interval", interval)
		return nil
	}

	b, err := bootstrap.Load(ctx, src)
	if err != nil {
		return err
	}
	a.bundle.Store(b)
	return nil
}

// initSaver builds the configured saver, or keeps an injected one, and puts
// a circuit breaker in front of it.
func (a *App) initSaver() error {
	if a.saver == nil {
		if err := a.buildSaver(); err != nil {
			return err
		}
	}
	a.guard = NewGuardedSaver(a.saver, a.cfg.Saver.Breaker, a.metrics)
	a.saver = a.guard
	return nil
}

func (a *App) buildSaver() error {
	switch a.cfg.Saver.Kind {
	case config.SaverFile:
		s, err := NewFileSaver(a.cfg.Saver.Dir)
		if err != nil {
			return err
		}
		a.saver = s
	default:
		a.saver = LogSaver{}
	}
	return nil
}

func (a *App) initStore() error {
	a.bus = notify.NewBus()

	opts := []dashboard.Option{
		dashboard.WithNotifier(a.bus),
		dashboard.WithSaver(a.saver),
		dashboard.WithMetrics(a.metrics),
		dashboard.WithInitialTab(a.cfg.Dashboard.InitialTab),
	}
	if raw := a.cfg.Dashboard.InitialProfile; raw != "" {
		ch, err := profile.ParseChannel(raw)
		if err != nil {
			return err
		}
		opts = append(opts, dashboard.WithInitialProfile(ch))
	}

	store, err := dashboard.New(a.bundle.Load(), opts...)
	if err != nil {
		return err
	}
	a.store.Store(store)
	return nil
}

func (a *App) initServer() {
	checkers := []health.Checker{
		health.BundleLoaded(a.bundle.Load),
		{Name: "saver", Check: a.guard.Check},
	}
	if a.cfg.Saver.Kind == config.SaverFile {
		checkers = append(checkers, health.DirWritable("save_dir", a.cfg.Saver.Dir))
	}

	a.server = server.New(a.store.Load(), a.bus,
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(checkers...)),
	)
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// onBundleChange applies a reloaded bundle to the store.
func (a *App) onBundleChange(old, new *bootstrap.Bundle) {
	d := bootstrap.Diff(old, new)
	if d.Empty() {
		return
	}
	a.bundle.Store(new)

	store := a.store.Load()
	if store == nil {
		return // still initialising; initStore picks up the new bundle
	}
	slog.Info("bootstrap bundle changed; reloading dashboard session",
		"snapshot_keys", len(d.SnapshotKeys),
		"catalogs_changed", d.CatalogsChanged(),
	)
	if err := store.Reload(context.Background(), new); err != nil {
		slog.Error("dashboard reload failed", "err", err)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the dashboard store.
func (a *App) Store() *dashboard.Store { return a.store.Load() }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. It does not call Shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.httpSrv.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server gracefully, then runs the closers, last
// registered first. It respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what a failed New already started.
func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
