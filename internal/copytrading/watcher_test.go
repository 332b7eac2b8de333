package copytrading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/platform/polymarket"
	"github.com/openclob/polymirror/internal/ratelimit"
	"github.com/openclob/polymirror/internal/store/sqlite"
)

// activityServer serves a mutable set of activity rows on /activity.
type activityServer struct {
	mu   sync.Mutex
	rows []polymarket.DataActivity
}

func (s *activityServer) set(rows ...polymarket.DataActivity) {
	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
}

func (s *activityServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	rows := s.rows
	s.mu.Unlock()
	if rows == nil {
		rows = []polymarket.DataActivity{}
	}
	json.NewEncoder(w).Encode(rows)
}

func tradeRow(hash string, ts int64) polymarket.DataActivity {
	return polymarket.DataActivity{
		TransactionHash: hash,
		Type:            "TRADE",
		Side:            "BUY",
		Size:            10,
		Price:           0.42,
		Outcome:         "Yes",
		Title:           "Will it rain tomorrow?",
		EventSlug:       "rain-tomorrow",
		Asset:           "555",
		Timestamp:       ts,
	}
}

type watcherEnv struct {
	watcher *Watcher
	server  *activityServer
	users   *sqlite.TrackedUserStore
	bus     *bus.Bus
}

func newWatcherEnv(t *testing.T) *watcherEnv {
	t.Helper()

	client, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	as := &activityServer{}
	srv := httptest.NewServer(as)
	t.Cleanup(srv.Close)

	users := sqlite.NewTrackedUserStore(client)
	data := polymarket.NewDataClient(srv.URL, ratelimit.New(testLogger()), testLogger())
	b := bus.New(testLogger())

	return &watcherEnv{
		watcher: NewWatcher(users, data, b, testLogger()),
		server:  as,
		users:   users,
		bus:     b,
	}
}

// collectEvents reads bus events until the channel stays quiet.
func collectEvents(sub *bus.Subscription) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func eventsOfType(events []domain.Event, typ string) []domain.Event {
	var out []domain.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestWatcherFirstFetchPublishesExistingTrades(t *testing.T) {
	env := newWatcherEnv(t)
	ctx := context.Background()

	env.server.set(tradeRow("0xaaa", 100), tradeRow("0xbbb", 90))

	sub := env.bus.Subscribe(domain.TopicCopyTrading)
	defer sub.Unsubscribe()

	env.watcher.fetchTrades(ctx, "0xwallet")

	// Trades already on the wallet when tracking starts are published too;
	// the executor's per-transaction gate is the only duplicate filter.
	events := collectEvents(sub)
	fresh := eventsOfType(events, "new_trade")
	require.Len(t, fresh, 2)
	ids := []string{
		fresh[0].Payload.(domain.NewTradeEvent).Trade.ID,
		fresh[1].Payload.(domain.NewTradeEvent).Trade.ID,
	}
	assert.ElementsMatch(t, []string{"0xaaa", "0xbbb"}, ids)

	updated := eventsOfType(events, "trades_updated")
	require.Len(t, updated, 1)
	payload := updated[0].Payload.(domain.TradesUpdatedEvent)
	assert.Len(t, payload.Trades, 2)
}

func TestWatcherPublishesOnlyUnseenTrades(t *testing.T) {
	env := newWatcherEnv(t)
	ctx := context.Background()

	env.server.set(tradeRow("0xaaa", 100))
	env.watcher.fetchTrades(ctx, "0xwallet")

	sub := env.bus.Subscribe(domain.TopicCopyTrading)
	defer sub.Unsubscribe()

	env.server.set(tradeRow("0xccc", 110), tradeRow("0xaaa", 100))
	env.watcher.fetchTrades(ctx, "0xwallet")

	fresh := eventsOfType(collectEvents(sub), "new_trade")
	require.Len(t, fresh, 1)
	payload := fresh[0].Payload.(domain.NewTradeEvent)
	assert.Equal(t, "0xccc", payload.Trade.ID)
	assert.Equal(t, "0xwallet", payload.Address)
}

func TestWatcherLastSeenIsReplacedNotUnioned(t *testing.T) {
	env := newWatcherEnv(t)
	ctx := context.Background()

	env.server.set(tradeRow("0xaaa", 100))
	env.watcher.fetchTrades(ctx, "0xwallet")

	// 0xaaa drops out of the window, then reappears.
	env.server.set(tradeRow("0xbbb", 110))
	env.watcher.fetchTrades(ctx, "0xwallet")

	sub := env.bus.Subscribe(domain.TopicCopyTrading)
	defer sub.Unsubscribe()

	env.server.set(tradeRow("0xaaa", 100), tradeRow("0xbbb", 110))
	env.watcher.fetchTrades(ctx, "0xwallet")

	fresh := eventsOfType(collectEvents(sub), "new_trade")
	require.Len(t, fresh, 1)
	assert.Equal(t, "0xaaa", fresh[0].Payload.(domain.NewTradeEvent).Trade.ID)
}

func TestWatcherIgnoresNonTradeActivity(t *testing.T) {
	rows := []polymarket.DataActivity{
		tradeRow("0xaaa", 100),
		{TransactionHash: "0xbbb", Type: "REDEEM", Timestamp: 90},
		{TransactionHash: "", Type: "TRADE", Timestamp: 80},
	}

	trades := extractTrades(rows)
	require.Len(t, trades, 1)
	assert.Equal(t, "0xaaa", trades[0].ID)
	assert.Equal(t, domain.Buy, trades[0].Side)
	assert.Equal(t, "0.42", trades[0].Price.String())
}

func TestWatcherTrackLifecycle(t *testing.T) {
	env := newWatcherEnv(t)
	ctx := context.Background()

	require.NoError(t, env.watcher.Track(ctx, "0xABCDEF0123456789abcdef0123456789ABCDEF01", "whale"))
	require.Len(t, env.watcher.Tracked(), 1)

	// Stored lowercased and active.
	addr := "0xabcdef0123456789abcdef0123456789abcdef01"
	user, err := env.users.Get(ctx, addr)
	require.NoError(t, err)
	assert.True(t, user.Active)
	assert.Equal(t, "whale", user.Label)

	require.NoError(t, env.watcher.Untrack(ctx, addr))
	assert.Empty(t, env.watcher.Tracked())

	// Archived, not deleted.
	user, err = env.users.Get(ctx, addr)
	require.NoError(t, err)
	assert.False(t, user.Active)

	require.NoError(t, env.watcher.Restore(ctx, addr))
	require.Len(t, env.watcher.Tracked(), 1)

	require.NoError(t, env.watcher.Untrack(ctx, addr))
	require.NoError(t, env.watcher.Delete(ctx, addr))
	_, err = env.users.Get(ctx, addr)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWatcherPollIntervalScalesWithTrackedUsers(t *testing.T) {
	env := newWatcherEnv(t)

	setTracked := func(n int) {
		env.watcher.mu.Lock()
		env.watcher.tracked = make(map[string]domain.TrackedUser, n)
		for i := 0; i < n; i++ {
			env.watcher.tracked[string(rune('a'+i%26))+string(rune('0'+i/26))] = domain.TrackedUser{}
		}
		env.watcher.mu.Unlock()
	}

	setTracked(0)
	assert.Equal(t, 3*time.Second, env.watcher.pollInterval())

	setTracked(10)
	assert.Equal(t, 3*time.Second, env.watcher.pollInterval())

	setTracked(100)
	assert.Equal(t, 10*time.Second, env.watcher.pollInterval())

	setTracked(300)
	assert.Equal(t, 30*time.Second, env.watcher.pollInterval())
}
