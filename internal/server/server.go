package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openclob/polymirror/internal/server/handler"
	"github.com/openclob/polymirror/internal/server/middleware"
	"github.com/openclob/polymirror/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per second per client IP; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health       *handler.HealthHandler
	Credentials  *handler.CredentialsHandler
	TrackedUsers *handler.TrackedUserHandler
	CopySettings *handler.CopySettingsHandler
	CopyTrades   *handler.CopyTradeHandler
	Strategies   *handler.StrategyHandler
	Positions    *handler.PositionHandler
	Trades       *handler.TradeHandler
	Markets      *handler.MarketHandler
	Archives     *handler.ArchiveHandler // nil when archiving is not configured
}

// Server is the headless HTTP + WebSocket API surface.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (CORS, logging, rate limit, auth) wired around it.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Venue credentials.
	mux.HandleFunc("GET /api/credentials", handlers.Credentials.Get)
	mux.HandleFunc("PUT /api/credentials", handlers.Credentials.Update)

	// Copy trading: tracked wallets, settings, trade history.
	mux.HandleFunc("GET /api/tracked-users", handlers.TrackedUsers.List)
	mux.HandleFunc("POST /api/tracked-users", handlers.TrackedUsers.Track)
	mux.HandleFunc("DELETE /api/tracked-users/{address}", handlers.TrackedUsers.Untrack)
	mux.HandleFunc("POST /api/tracked-users/{address}/restore", handlers.TrackedUsers.Restore)
	mux.HandleFunc("DELETE /api/tracked-users/{address}/permanent", handlers.TrackedUsers.Delete)

	mux.HandleFunc("GET /api/copy-settings", handlers.CopySettings.Get)
	mux.HandleFunc("PUT /api/copy-settings", handlers.CopySettings.Update)

	mux.HandleFunc("GET /api/copy-trades", handlers.CopyTrades.List)
	mux.HandleFunc("POST /api/copy-trades/{id}/retry", handlers.CopyTrades.Retry)
	mux.HandleFunc("DELETE /api/copy-trades/{id}", handlers.CopyTrades.Delete)

	// Strategies: CRUD, lifecycle, logs.
	mux.HandleFunc("GET /api/strategies", handlers.Strategies.List)
	mux.HandleFunc("POST /api/strategies", handlers.Strategies.Create)
	mux.HandleFunc("GET /api/strategies/{id}", handlers.Strategies.Get)
	mux.HandleFunc("PUT /api/strategies/{id}", handlers.Strategies.Update)
	mux.HandleFunc("DELETE /api/strategies/{id}", handlers.Strategies.Delete)
	mux.HandleFunc("POST /api/strategies/{id}/start", handlers.Strategies.Start)
	mux.HandleFunc("POST /api/strategies/{id}/stop", handlers.Strategies.Stop)
	mux.HandleFunc("POST /api/strategies/{id}/pause", handlers.Strategies.Pause)
	mux.HandleFunc("POST /api/strategies/{id}/resume", handlers.Strategies.Resume)
	mux.HandleFunc("GET /api/strategies/{id}/events", handlers.Strategies.Events)
	mux.HandleFunc("GET /api/strategies/{id}/positions", handlers.Strategies.Positions)
	mux.HandleFunc("GET /api/strategies/{id}/trades", handlers.Strategies.Trades)

	// Cross-strategy listings.
	mux.HandleFunc("GET /api/positions", handlers.Positions.List)
	mux.HandleFunc("GET /api/trades", handlers.Trades.List)

	// Market discovery.
	mux.HandleFunc("GET /api/markets/search", handlers.Markets.Search)

	// Archive exports, only when an archive bucket is configured.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.List)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.Download)
		mux.HandleFunc("DELETE /api/archives/{path...}", handlers.Archives.Delete)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimit, time.Second)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler exposes the assembled mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
