package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks the persistence layer's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FeedStatus reports whether the market WebSocket feed is connected.
type FeedStatus interface {
	Ready() bool
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	db        Pinger
	feed      FeedStatus
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db Pinger, feed FeedStatus, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		feed:      feed,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck reports overall liveness plus per-component detail. A failing
// database turns the status to degraded but still answers 200: the process
// is alive and the operator wants the detail, not a blank 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"

	dbOK := true
	if err := h.db.Ping(r.Context()); err != nil {
		dbOK = false
		status = "degraded"
		h.logger.ErrorContext(r.Context(), "handler: health db ping failed",
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"database":       dbOK,
		"feed_connected": h.feed.Ready(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
