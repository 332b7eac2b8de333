package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTimeout              = errors.New("timeout")
	ErrInvalidOrder         = errors.New("invalid order parameters")
	ErrSigningFailed        = errors.New("signing failed")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrNotConfigured        = errors.New("credentials_not_configured")
	ErrMarketConfig         = errors.New("market_configuration_unavailable")
	ErrInsufficientPosition = errors.New("insufficient_position")
	ErrInvalidTokenID       = errors.New("invalid_token_id")
	ErrUnknownStrategyType  = errors.New("unknown_strategy_type")
	ErrMarketClosed         = errors.New("market_closed")
)

// APIError describes a non-retryable venue response (4xx other than 429).
// Retryable transport and 5xx failures are wrapped as plain errors so the
// retry loop can distinguish them.
type APIError struct {
	Status    int
	Endpoint  string
	Reason    string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s returned HTTP %d: %s", e.Endpoint, e.Status, e.Reason)
}

// IsRetryable reports whether err may succeed on retry: transport errors,
// HTTP 429 and HTTP 5xx qualify; APIError carries its own flag.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
