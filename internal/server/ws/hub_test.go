package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type hubEnv struct {
	bus  *bus.Bus
	hub  *Hub
	conn *websocket.Conn
}

func newHubEnv(t *testing.T) *hubEnv {
	t.Helper()

	b := bus.New(testLogger())
	hub := NewHub(b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &hubEnv{bus: b, hub: hub, conn: conn}
}

func (env *hubEnv) readEnvelope(t *testing.T) envelope {
	t.Helper()

	env.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := env.conn.ReadMessage()
	require.NoError(t, err)

	var ev envelope
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// waitForBridge blocks until the hub has subscribed to every bridged topic
// so publishes cannot race the forwarders.
func waitForBridge(t *testing.T, b *bus.Bus) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, topic := range bridgedTopics {
			if b.SubscriberCount(topic) == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubSendsHelloOnConnect(t *testing.T) {
	env := newHubEnv(t)

	hello := env.readEnvelope(t)
	assert.Equal(t, "system", hello.Topic)
	assert.Equal(t, "connected", hello.Type)
	require.Eventually(t, func() bool {
		return env.hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubForwardsDefaultTopics(t *testing.T) {
	env := newHubEnv(t)
	env.readEnvelope(t) // hello
	waitForBridge(t, env.bus)

	env.bus.Publish(domain.TopicCopyTrading, domain.Event{
		Type: "copy_trade_executed",
		Payload: domain.CopyTradeExecutedEvent{
			CopyTrade: domain.CopyTrade{OriginalTradeID: "0xhash"},
		},
	})

	ev := env.readEnvelope(t)
	assert.Equal(t, domain.TopicCopyTrading, ev.Topic)
	assert.Equal(t, "copy_trade_executed", ev.Type)

	payload, err := json.Marshal(ev.Payload)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "0xhash")
}

func TestHubLiveOrdersAreOptIn(t *testing.T) {
	env := newHubEnv(t)
	env.readEnvelope(t) // hello
	waitForBridge(t, env.bus)

	// Not subscribed to the raw order feed: the frame is filtered at the
	// hub, so only the strategy update arrives.
	env.bus.Publish(domain.TopicLiveOrders, domain.Event{Type: "new_order"})
	env.bus.Publish(domain.TopicStrategyUpdates, domain.Event{
		Type:    "strategy_status",
		Payload: domain.StrategyStatusEvent{StrategyID: 1, Status: domain.StrategyRunning},
	})
	ev := env.readEnvelope(t)
	assert.Equal(t, domain.TopicStrategyUpdates, ev.Topic)

	// Opt in. The subscribe frame is handled asynchronously, so keep
	// publishing until one makes it through.
	require.NoError(t, env.conn.WriteJSON(map[string]any{
		"action": "subscribe",
		"topics": []string{domain.TopicLiveOrders},
	}))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.bus.Publish(domain.TopicLiveOrders, domain.Event{Type: "new_order"})
			}
		}
	}()

	ev = env.readEnvelope(t)
	assert.Equal(t, domain.TopicLiveOrders, ev.Topic)
	assert.Equal(t, "new_order", ev.Type)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	env := newHubEnv(t)
	env.readEnvelope(t) // hello
	waitForBridge(t, env.bus)

	require.NoError(t, env.conn.WriteJSON(map[string]any{
		"unsubscribe": []string{domain.TopicCopyTrading},
	}))
	// Give the read pump a moment to apply the change before publishing.
	time.Sleep(300 * time.Millisecond)

	env.bus.Publish(domain.TopicCopyTrading, domain.Event{Type: "trades_updated"})

	env.conn.SetReadDeadline(time.Now().Add(400 * time.Millisecond))
	_, _, err := env.conn.ReadMessage()
	assert.Error(t, err)
}

func TestClientSubscriptionWildcards(t *testing.T) {
	c := &client{subs: map[string]bool{"strategies:*": true}}

	assert.True(t, c.isSubscribed("strategies:updates"))
	assert.True(t, c.isSubscribed("strategies:42"))
	assert.False(t, c.isSubscribed("copy_trading"))
}
