package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/platform/polymarket"
	"github.com/openclob/polymirror/internal/server/handler"
	"github.com/openclob/polymirror/internal/store/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubFeed struct{}

func (stubFeed) Ready() bool { return false }

type stubWatcher struct{}

func (stubWatcher) Track(context.Context, string, string) error { return nil }
func (stubWatcher) Untrack(context.Context, string) error       { return nil }
func (stubWatcher) Restore(context.Context, string) error       { return nil }
func (stubWatcher) Delete(context.Context, string) error        { return nil }

type stubEngine struct{}

func (stubEngine) Start(context.Context, int64) error  { return nil }
func (stubEngine) Stop(context.Context, int64) error   { return nil }
func (stubEngine) Pause(context.Context, int64) error  { return nil }
func (stubEngine) Resume(context.Context, int64) error { return nil }
func (stubEngine) Running(int64) bool                  { return false }
func (stubEngine) Paused(int64) bool                   { return false }

type stubRetrier struct{}

func (stubRetrier) Retry(context.Context, int64) (domain.CopyTrade, error) {
	return domain.CopyTrade{}, domain.ErrNotFound
}

type stubSearcher struct{}

func (stubSearcher) SearchEvents(context.Context, string, int) ([]polymarket.GammaEvent, error) {
	return nil, nil
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	client, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	logger := testLogger()
	handlers := Handlers{
		Health:       handler.NewHealthHandler(client, stubFeed{}, logger),
		Credentials:  handler.NewCredentialsHandler(sqlite.NewCredentialsStore(client), logger),
		TrackedUsers: handler.NewTrackedUserHandler(sqlite.NewTrackedUserStore(client), stubWatcher{}, logger),
		CopySettings: handler.NewCopySettingsHandler(sqlite.NewCopySettingsStore(client), logger),
		CopyTrades:   handler.NewCopyTradeHandler(sqlite.NewCopyTradeStore(client), stubRetrier{}, logger),
		Strategies: handler.NewStrategyHandler(
			sqlite.NewStrategyStore(client),
			sqlite.NewStrategyEventStore(client),
			sqlite.NewPositionStore(client),
			sqlite.NewTradeStore(client),
			stubEngine{},
			logger,
		),
		Positions: handler.NewPositionHandler(sqlite.NewPositionStore(client), logger),
		Trades:    handler.NewTradeHandler(sqlite.NewTradeStore(client), logger),
		Markets:   handler.NewMarketHandler(stubSearcher{}, logger),
	}

	return NewServer(cfg, handlers, nil, logger)
}

func TestServerRoutesAreRegistered(t *testing.T) {
	srv := newTestServer(t, Config{Port: 0})

	paths := []string{
		"/api/health",
		"/api/credentials",
		"/api/tracked-users",
		"/api/copy-settings",
		"/api/copy-trades",
		"/api/strategies",
		"/api/positions",
		"/api/trades",
	}
	for _, path := range paths {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerEnforcesAPIKey(t *testing.T) {
	srv := newTestServer(t, Config{Port: 0, APIKey: "topsecret"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerAppliesRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{Port: 0, RateLimit: 2})

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "10.9.8.7:4321"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
