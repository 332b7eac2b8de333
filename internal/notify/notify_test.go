package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedMessage struct {
	title   string
	message string
}

type fakeSender struct {
	mu       sync.Mutex
	name     string
	err      error
	messages []recordedMessage
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, recordedMessage{title: title, message: message})
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) recorded() []recordedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func TestNotifierFiltersByEventType(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventCopyTrade}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventSignal, "Signal", "ignored"))
	require.NoError(t, n.Notify(context.Background(), EventCopyTrade, "Copy trade executed", "sent"))

	msgs := sender.recorded()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Copy trade executed", msgs[0].title)
}

func TestNotifierEmptyFilterAllowsEverything(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "Title", "body"))
	assert.Len(t, sender.recorded(), 1)
}

func TestNotifierCollectsSenderFailures(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("webhook gone")}
	working := &fakeSender{name: "working"}
	n := NewNotifier([]Sender{broken, working}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	// The working sender still received the message.
	assert.Len(t, working.recorded(), 1)
}

func TestTelegramSenderPostsBoldTitle(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender("tok123", "chat-1")
	sender.api = srv.URL

	require.NoError(t, sender.Send(context.Background(), "Copy trade executed", "BUY 20 shares"))
	assert.Equal(t, "chat-1", got.ChatID)
	assert.Equal(t, "*Copy trade executed*\nBUY 20 shares", got.Text)
}

func TestTelegramSenderReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewTelegramSender("tok123", "chat-1")
	sender.api = srv.URL

	err := sender.Send(context.Background(), "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordSenderPostsWebhookMessage(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Strategy error", "strategy 7 stopped"))
	assert.Equal(t, "**Strategy error**\nstrategy 7 stopped", got.Content)
	assert.Equal(t, "polymirror", got.Username)
}

func TestClampTextCutsOnRuneBoundary(t *testing.T) {
	assert.Equal(t, "short", clampText("short", 100))

	long := strings.Repeat("é", 50)
	clamped := clampText(long, 21)
	assert.LessOrEqual(t, len(clamped), 21)
	assert.True(t, strings.HasSuffix(clamped, "…"))
	// The cut must not split a rune; decoding would surface U+FFFD.
	for _, r := range clamped {
		assert.NotEqual(t, '�', r)
	}
}

func newBridgeEnv(t *testing.T, events []string) (*bus.Bus, *fakeSender) {
	t.Helper()

	b := bus.New(testLogger())
	sender := &fakeSender{name: "test"}
	notifier := NewNotifier([]Sender{sender}, events, testLogger())
	bridge := NewBridge(notifier, b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bridge.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return b.SubscriberCount(domain.TopicCopyTrading) == 1 &&
			b.SubscriberCount(domain.TopicStrategyUpdates) == 1
	}, 2*time.Second, 10*time.Millisecond)

	return b, sender
}

func TestBridgeNotifiesOnCopyTrade(t *testing.T) {
	b, sender := newBridgeEnv(t, nil)

	b.Publish(domain.TopicCopyTrading, domain.Event{
		Type: "copy_trade_executed",
		Payload: domain.CopyTradeExecutedEvent{
			CopyTrade: domain.CopyTrade{
				SourceAddress: "0xabc",
				Side:          domain.Buy,
				CopySize:      decimal.NewFromInt(20),
				OriginalPrice: decimal.RequireFromString("0.5"),
				Title:         "Will it rain tomorrow?",
				Status:        domain.CopyTradeExecuted,
			},
		},
	})

	require.Eventually(t, func() bool {
		return len(sender.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msg := sender.recorded()[0]
	assert.Equal(t, "Copy trade executed", msg.title)
	assert.Contains(t, msg.message, "Will it rain tomorrow?")
	assert.Contains(t, msg.message, "0xabc")
}

func TestBridgeReportsFailedCopyTrades(t *testing.T) {
	b, sender := newBridgeEnv(t, nil)

	b.Publish(domain.TopicCopyTrading, domain.Event{
		Type: "copy_trade_executed",
		Payload: domain.CopyTradeExecutedEvent{
			CopyTrade: domain.CopyTrade{
				Side:         domain.Buy,
				Status:       domain.CopyTradeFailed,
				ErrorMessage: "credentials_not_configured",
			},
		},
	})

	require.Eventually(t, func() bool {
		return len(sender.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	msg := sender.recorded()[0]
	assert.Equal(t, "Copy trade failed", msg.title)
	assert.Contains(t, msg.message, "credentials_not_configured")
}

func TestBridgeNotifiesOnStrategyError(t *testing.T) {
	b, sender := newBridgeEnv(t, nil)

	// A clean status change is not an alert.
	b.Publish(domain.TopicStrategyUpdates, domain.Event{
		Type:    "strategy_status",
		Payload: domain.StrategyStatusEvent{StrategyID: 7, Status: domain.StrategyStopped},
	})
	b.Publish(domain.TopicStrategyUpdates, domain.Event{
		Type:    "strategy_status",
		Payload: domain.StrategyStatusEvent{StrategyID: 7, Status: domain.StrategyError},
	})

	require.Eventually(t, func() bool {
		return len(sender.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Strategy error", sender.recorded()[0].title)
}

func TestBridgeHonoursEventFilter(t *testing.T) {
	b, sender := newBridgeEnv(t, []string{EventStrategyError})

	b.Publish(domain.TopicStrategyUpdates, domain.Event{
		Type: "signal",
		Payload: domain.SignalEvent{Signal: domain.Signal{
			Action:  domain.Buy,
			TokenID: "tok-1",
			Price:   decimal.RequireFromString("0.97"),
			Size:    decimal.NewFromInt(10),
		}},
	})
	b.Publish(domain.TopicStrategyUpdates, domain.Event{
		Type:    "strategy_status",
		Payload: domain.StrategyStatusEvent{StrategyID: 1, Status: domain.StrategyError},
	})

	require.Eventually(t, func() bool {
		return len(sender.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Strategy error", sender.recorded()[0].title)
}
