// Package app wires the configuration, stores, venue clients, domain
// services, and the HTTP API together and supervises their lifecycles.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openclob/polymirror/internal/config"
	"github.com/openclob/polymirror/internal/server"
	"github.com/openclob/polymirror/internal/server/handler"
	"github.com/openclob/polymirror/internal/server/ws"
)

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger,
// and the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts every long-lived goroutine, and blocks
// until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("database", a.cfg.Database.Path),
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	// Infrastructure loops.
	g.Go(func() error { return ignoreCancel(deps.Limiter.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(deps.MarketCache.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(deps.Feed.Run(ctx)) })

	// Copy trading.
	g.Go(func() error { return ignoreCancel(deps.Watcher.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(deps.Executor.Run(ctx)) })

	// Strategy engine, resuming strategies that were running before the
	// last shutdown.
	g.Go(func() error { return ignoreCancel(deps.Engine.Run(ctx)) })
	if err := deps.Engine.AutoStart(ctx); err != nil {
		a.logger.WarnContext(ctx, "strategy autostart incomplete",
			slog.String("error", err.Error()),
		)
	}

	// Optional components.
	if deps.Archiver != nil {
		g.Go(func() error { return ignoreCancel(deps.Archiver.Run(ctx)) })
	}
	if deps.Notify != nil {
		g.Go(func() error { return ignoreCancel(deps.Notify.Run(ctx)) })
	}

	// HTTP and WebSocket API.
	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error { return ignoreCancel(hub.Run(ctx)) })

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.DB, deps.Feed, a.logger),
		Credentials:  handler.NewCredentialsHandler(deps.Credentials, a.logger),
		TrackedUsers: handler.NewTrackedUserHandler(deps.TrackedUsers, deps.Watcher, a.logger),
		CopySettings: handler.NewCopySettingsHandler(deps.CopySettings, a.logger),
		CopyTrades:   handler.NewCopyTradeHandler(deps.CopyTrades, deps.Executor, a.logger),
		Strategies: handler.NewStrategyHandler(
			deps.Strategies, deps.Events, deps.Positions, deps.Trades, deps.Engine, a.logger,
		),
		Positions: handler.NewPositionHandler(deps.Positions, a.logger),
		Trades:    handler.NewTradeHandler(deps.Trades, a.logger),
		Markets:   handler.NewMarketHandler(deps.Search, a.logger),
	}
	if deps.ArchiveReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.ArchiveReader, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		handlers,
		hub,
		a.logger,
	)

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ignoreCancel maps context cancellation to a clean exit so the errgroup
// only propagates real failures.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
