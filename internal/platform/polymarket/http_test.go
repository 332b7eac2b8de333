package polymarket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCore(t *testing.T, handler http.HandlerFunc) *httpCore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	core := newHTTPCore(srv.URL, ratelimit.BucketClob, ratelimit.New(testLogger()), testLogger())
	core.sleep = func(context.Context, time.Duration) error { return nil }
	return core
}

func TestRequestSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	core := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"ok":true}`))
	})

	body, err := core.request(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 1, calls)
}

func TestRequestRetriesServerFaults(t *testing.T) {
	calls := 0
	core := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	})

	_, err := core.request(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRequestRetriesRateLimited(t *testing.T) {
	calls := 0
	core := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	})

	_, err := core.request(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRequestGivesUpAfterThreeAttempts(t *testing.T) {
	calls := 0
	core := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := core.request(context.Background(), http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestRequestDoesNotRetryBadRequests(t *testing.T) {
	calls := 0
	core := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad order"}`))
	})

	_, err := core.request(context.Background(), http.MethodPost, "/order", []byte(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Retryable)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestHeadersRecomputedPerAttempt(t *testing.T) {
	var seen []string
	core := newTestCore(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("POLY_TIMESTAMP"))
		if len(seen) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	})

	n := 0
	headers := func() map[string]string {
		n++
		return map[string]string{"POLY_TIMESTAMP": string(rune('0' + n))}
	}

	_, err := core.request(context.Background(), http.MethodGet, "/x", nil, headers)
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1])
}

func TestBackoffClasses(t *testing.T) {
	core := newHTTPCore("http://localhost", ratelimit.BucketClob, ratelimit.New(testLogger()), testLogger())

	transport := &domain.APIError{Reason: "dial tcp: refused", Retryable: true}
	assert.Equal(t, 500*time.Millisecond, core.backoff(transport, 1))
	assert.Equal(t, 2*time.Second, core.backoff(transport, 2))
	assert.Equal(t, transportBackoffCap, core.backoff(transport, 5))

	rateLimited := &domain.APIError{Status: http.StatusTooManyRequests, Retryable: true}
	assert.Equal(t, 2*time.Second, core.backoff(rateLimited, 1))
	assert.Equal(t, 4*time.Second, core.backoff(rateLimited, 2))

	serverFault := &domain.APIError{Status: http.StatusBadGateway, Retryable: true}
	assert.Equal(t, time.Second, core.backoff(serverFault, 1))
	assert.Equal(t, time.Second, core.backoff(serverFault, 2))
}
