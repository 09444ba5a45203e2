// Package app assembles and runs the exit-monitoring engine: one supervisor
// of per-position monitors, a reconciler, the notification pipeline, the
// session watcher, and the HTTP status surface.
package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"vigil/internal/config"
	"vigil/internal/eventlog"
	"vigil/internal/gateway/notifier"
	"vigil/internal/ledger"
	"vigil/internal/logger"
	"vigil/internal/reconcile"
	"vigil/internal/session"
	httpapi "vigil/internal/transport/http"
)

// App holds the assembled services. Build it with NewApp, run it with Run.
type App struct {
	cfg        *config.Config
	ledger     *ledger.Store
	events     *eventlog.Store
	calendar   *session.Calendar
	dispatcher *notifier.Dispatcher
	supervisor *Supervisor
	reconciler *reconcile.Reconciler
	server     *httpapi.Server
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts every service and blocks until ctx is cancelled or one of them
// fails. Shutdown order matters: monitors drain before the dispatcher stops
// so terminal notifications still go out.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	// The dispatcher outlives the monitors so their terminal notifications
	// still drain; its context is cancelled once the supervisor has drained.
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	group.Go(func() error {
		return a.dispatcher.Run(notifyCtx)
	})
	group.Go(func() error {
		if err := session.Watch(ctx, a.calendar); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session watcher: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.reconciler.Run(ctx)
		return nil
	})
	group.Go(func() error {
		defer stopNotify()
		return a.supervisor.Run(ctx)
	})

	return group.Wait()
}

// Supervisor exposes the monitor directory, for tests and harnesses.
func (a *App) Supervisor() *Supervisor {
	if a == nil {
		return nil
	}
	return a.supervisor
}

func (a *App) close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			logger.Warnf("event log close: %v", err)
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logger.Warnf("ledger close: %v", err)
		}
	}
}
