// Package polymarket provides REST and WebSocket clients for the venue's
// CLOB, Data, and Gamma APIs. All outbound requests pass through the shared
// rate limiter and a common retry policy.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/ratelimit"
)

const (
	maxAttempts = 3

	transportBackoffCap = 5 * time.Second
	rateLimitBackoff    = 2 * time.Second
	serverErrorBackoff  = time.Second
)

// httpCore is the request engine shared by the three REST clients. It owns
// the retry policy and the rate-limit gate.
type httpCore struct {
	baseURL string
	bucket  string
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration) error
}

func newHTTPCore(baseURL, bucket string, limiter *ratelimit.Limiter, logger *slog.Logger) *httpCore {
	return &httpCore{
		baseURL: baseURL,
		bucket:  bucket,
		client:  &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// request performs an HTTP request with up to three attempts. Backoff depends
// on the failure class: transport errors grow quadratically (500ms, 2s,
// capped at 5s), 429 grows linearly (2s, 4s), other 5xx wait a flat second.
// Remaining 4xx responses are terminal and surface as a non-retryable
// domain.APIError. headers may be nil; it is recomputed per attempt so HMAC
// timestamps stay fresh.
func (h *httpCore) request(ctx context.Context, method, path string, body []byte, headers func() map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := h.sleep(ctx, h.backoff(lastErr, attempt-1)); err != nil {
				return nil, err
			}
			h.logger.Debug("retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
			)
		}

		if err := h.limiter.Acquire(ctx, h.bucket); err != nil {
			return nil, fmt.Errorf("polymarket: rate gate %s %s: %w", method, path, err)
		}

		respBody, err := h.do(ctx, method, path, body, headers)
		if err == nil {
			return respBody, nil
		}
		if !domain.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("polymarket: %s %s failed after %d attempts: %w", method, path, maxAttempts, lastErr)
}

func (h *httpCore) do(ctx context.Context, method, path string, body []byte, headers func() map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("polymarket: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers != nil {
		for k, v := range headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// Transport failures are always worth retrying.
		return nil, &domain.APIError{
			Endpoint:  path,
			Reason:    err.Error(),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.APIError{
			Endpoint:  path,
			Reason:    "read response: " + err.Error(),
			Retryable: true,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	return nil, &domain.APIError{
		Status:    resp.StatusCode,
		Endpoint:  path,
		Reason:    truncate(string(respBody), 512),
		Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
	}
}

// backoff picks the wait before the next attempt. n is the number of
// attempts already made.
func (h *httpCore) backoff(lastErr error, n int) time.Duration {
	var apiErr *domain.APIError
	if errors.As(lastErr, &apiErr) && apiErr.Status != 0 {
		if apiErr.Status == http.StatusTooManyRequests {
			return rateLimitBackoff * time.Duration(n)
		}
		return serverErrorBackoff
	}

	// Transport error: 500ms * n^2, capped.
	d := 500 * time.Millisecond * time.Duration(n*n)
	if d > transportBackoffCap {
		d = transportBackoffCap
	}
	return d
}

// getJSON performs a GET and decodes the JSON response into out.
func (h *httpCore) getJSON(ctx context.Context, path string, out any) error {
	body, err := h.request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("polymarket: decode %s: %w", path, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
