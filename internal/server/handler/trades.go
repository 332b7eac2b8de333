package handler

import (
	"log/slog"
	"net/http"

	"github.com/openclob/polymirror/internal/domain"
)

// TradeHandler serves the cross-strategy trade listing.
type TradeHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

func NewTradeHandler(trades domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// List returns trades across all strategies, newest first.
// GET /api/trades?limit=&offset=
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
