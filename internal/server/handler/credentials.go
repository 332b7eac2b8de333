package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openclob/polymirror/internal/domain"
)

// CredentialsHandler serves the venue credentials endpoints. Secrets never
// leave the process unmasked.
type CredentialsHandler struct {
	creds  domain.CredentialsStore
	logger *slog.Logger
}

func NewCredentialsHandler(creds domain.CredentialsStore, logger *slog.Logger) *CredentialsHandler {
	return &CredentialsHandler{creds: creds, logger: logger}
}

// credentialsRequest is the PUT body. All fields are replaced together;
// partial updates would leave the HMAC triple inconsistent.
type credentialsRequest struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	APIPassphrase string `json:"api_passphrase"`
	WalletAddress string `json:"wallet_address"`
	SignerAddress string `json:"signer_address"`
	PrivateKey    string `json:"private_key"`
}

// Get returns the stored credentials with secrets masked.
// GET /api/credentials
func (h *CredentialsHandler) Get(w http.ResponseWriter, r *http.Request) {
	creds, err := h.creds.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get credentials failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load credentials")
		return
	}
	writeJSON(w, http.StatusOK, creds.Masked())
}

// Update replaces the credential set. Clients pick up the new credentials on
// their next request; no restart is needed.
// PUT /api/credentials
func (h *CredentialsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	creds := domain.Credentials{
		APIKey:        req.APIKey,
		APISecret:     req.APISecret,
		APIPassphrase: req.APIPassphrase,
		WalletAddress: req.WalletAddress,
		SignerAddress: req.SignerAddress,
		PrivateKey:    req.PrivateKey,
	}

	if err := h.creds.Update(r.Context(), creds); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: update credentials failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, creds.Masked())
}
