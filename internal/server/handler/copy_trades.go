package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openclob/polymirror/internal/domain"
)

// CopyTradeRetrier re-attempts a failed copy trade.
type CopyTradeRetrier interface {
	Retry(ctx context.Context, id int64) (domain.CopyTrade, error)
}

// CopyTradeHandler serves the copy-trade history endpoints.
type CopyTradeHandler struct {
	trades   domain.CopyTradeStore
	executor CopyTradeRetrier
	logger   *slog.Logger
}

func NewCopyTradeHandler(trades domain.CopyTradeStore, executor CopyTradeRetrier, logger *slog.Logger) *CopyTradeHandler {
	return &CopyTradeHandler{trades: trades, executor: executor, logger: logger}
}

// List returns copy trades newest first.
// GET /api/copy-trades?limit=&offset=
func (h *CopyTradeHandler) List(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list copy trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list copy trades")
		return
	}

	if trades == nil {
		trades = []domain.CopyTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"copy_trades": trades})
}

// Retry re-executes a failed copy trade with its originally computed size.
// POST /api/copy-trades/{id}/retry
func (h *CopyTradeHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid copy trade id")
		return
	}

	trade, err := h.executor.Retry(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "copy trade not found")
			return
		}
		// The retry itself failing is reported with the updated record so
		// the UI can show the new error message.
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"copy_trade": trade,
		})
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Delete removes one copy-trade record.
// DELETE /api/copy-trades/{id}
func (h *CopyTradeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid copy trade id")
		return
	}

	if err := h.trades.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
