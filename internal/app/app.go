// Package app wires the presence and chat services together with a
// samber/do injector and runs them.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/livepresence/internal/chat"
	"github.com/nfrund/livepresence/internal/config"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/nfrund/livepresence/internal/presence"
	"github.com/nfrund/livepresence/internal/pubsub"
	"github.com/nfrund/livepresence/internal/server"
	"github.com/samber/do/v2"
)

// App is a fully wired server process.
type App struct {
	injector    *do.RootScope
	cfg         *config.Config
	server      *server.Server
	bus         *pubsub.WatermillBridge
	presenceSub *presence.Subscriber
	chatSub     *chat.Subscriber
}

// New builds every service for cfg. Connections to Postgres and Redis are
// made here, so a misconfigured backend fails fast.
func New(cfg *config.Config) (*App, error) {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	register(injector)

	a := &App{injector: injector, cfg: cfg}
	var err error
	if a.server, err = do.Invoke[*server.Server](injector); err == nil {
		if a.presenceSub, err = do.Invoke[*presence.Subscriber](injector); err == nil {
			a.chatSub, err = do.Invoke[*chat.Subscriber](injector)
		}
	}
	if err != nil {
		injector.Shutdown()
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	a.bus = do.MustInvoke[*pubsub.WatermillBridge](injector)
	return a, nil
}

// Server returns the HTTP server.
func (a *App) Server() *server.Server {
	return a.server
}

// Injector exposes the service container, mainly for tests.
func (a *App) Injector() do.Injector {
	return a.injector
}

// Run binds the bus subscribers, seeds the registry with the directory and
// serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.presenceSub.Start(ctx, a.bus); err != nil {
		return err
	}
	defer a.presenceSub.Stop()
	if err := a.chatSub.Start(ctx, a.bus); err != nil {
		return err
	}

	go a.trackDirectory(ctx)

	return a.server.Run(ctx)
}

// trackDirectory lists every directory user as offline until they connect.
func (a *App) trackDirectory(ctx context.Context) {
	dir := do.MustInvoke[domain.UserDirectory](a.injector)
	reg := do.MustInvoke[*presence.Registry](a.injector)

	users, err := dir.List(ctx)
	if err != nil {
		slog.Error("Failed to list directory users", "error", err)
		return
	}
	if err := reg.Track(ctx, users...); err != nil {
		slog.Warn("Failed to track directory users", "error", err)
		return
	}
	slog.Info("Directory users tracked", "count", len(users))
}

// Shutdown releases every service that holds resources: the registry, the
// bus, the tracer provider and any Postgres or Redis connections.
func (a *App) Shutdown() {
	if report := a.injector.Shutdown(); report != nil {
		slog.Debug("Injector shut down", "report", report)
	}
}

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}
