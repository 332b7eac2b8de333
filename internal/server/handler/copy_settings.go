package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openclob/polymirror/internal/domain"
)

// CopySettingsHandler serves the singleton copy-trading settings.
type CopySettingsHandler struct {
	settings domain.CopySettingsStore
	logger   *slog.Logger
}

func NewCopySettingsHandler(settings domain.CopySettingsStore, logger *slog.Logger) *CopySettingsHandler {
	return &CopySettingsHandler{settings: settings, logger: logger}
}

// Get returns the current settings, falling back to defaults before the
// operator has saved any.
// GET /api/copy-settings
func (h *CopySettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get copy settings failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load copy settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Update replaces the settings. Validation failures come back as 400 with
// the store's message.
// PUT /api/copy-settings
func (h *CopySettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var settings domain.CopySettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.settings.Update(r.Context(), settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "updated but failed to reload settings")
		return
	}
	writeJSON(w, http.StatusOK, stored)
}
