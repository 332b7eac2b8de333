package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openclob/polymirror/internal/domain"
)

// CopyTradingService is the watcher surface the tracked-user endpoints drive.
type CopyTradingService interface {
	Track(ctx context.Context, address, label string) error
	Untrack(ctx context.Context, address string) error
	Restore(ctx context.Context, address string) error
	Delete(ctx context.Context, address string) error
}

// TrackedUserHandler serves the tracked-wallet endpoints.
type TrackedUserHandler struct {
	users   domain.TrackedUserStore
	watcher CopyTradingService
	logger  *slog.Logger
}

func NewTrackedUserHandler(users domain.TrackedUserStore, watcher CopyTradingService, logger *slog.Logger) *TrackedUserHandler {
	return &TrackedUserHandler{users: users, watcher: watcher, logger: logger}
}

type trackUserRequest struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

// List returns all tracked users, archived included. ?active=true narrows to
// the actively watched set.
// GET /api/tracked-users
func (h *TrackedUserHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		users []domain.TrackedUser
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		users, err = h.users.ListActive(r.Context())
	} else {
		users, err = h.users.List(r.Context())
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list tracked users failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list tracked users")
		return
	}

	if users == nil {
		users = []domain.TrackedUser{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Track starts watching a wallet.
// POST /api/tracked-users
func (h *TrackedUserHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := h.watcher.Track(r.Context(), req.Address, req.Label); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Get(r.Context(), req.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tracked but failed to reload user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Untrack archives a wallet. The row and its copy-trade history remain.
// DELETE /api/tracked-users/{address}
func (h *TrackedUserHandler) Untrack(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if err := h.watcher.Untrack(r.Context(), address); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived", "address": address})
}

// Restore reactivates an archived wallet.
// POST /api/tracked-users/{address}/restore
func (h *TrackedUserHandler) Restore(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if err := h.watcher.Restore(r.Context(), address); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active", "address": address})
}

// Delete permanently removes an archived wallet.
// DELETE /api/tracked-users/{address}/permanent
func (h *TrackedUserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if err := h.watcher.Delete(r.Context(), address); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tracked user not found")
			return
		}
		// Refusing to delete an active user is a client error.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "address": address})
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
