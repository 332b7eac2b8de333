package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/openclob/polymirror/internal/platform/polymarket"
)

// marketSearchMaxLimit caps one search request's result count.
const marketSearchMaxLimit = 50

// MarketSearcher is the venue search surface the handler needs.
type MarketSearcher interface {
	SearchEvents(ctx context.Context, query string, limit int) ([]polymarket.GammaEvent, error)
}

// MarketHandler serves free-text market discovery against the venue.
type MarketHandler struct {
	search MarketSearcher
	logger *slog.Logger
}

func NewMarketHandler(search MarketSearcher, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{search: search, logger: logger}
}

// Search proxies a free-text query to the venue's public search.
// GET /api/markets/search?q=&limit=
func (h *MarketHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > marketSearchMaxLimit {
		limit = marketSearchMaxLimit
	}

	events, err := h.search.SearchEvents(r.Context(), query, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: market search failed",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "market search failed")
		return
	}

	if events == nil {
		events = []polymarket.GammaEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
