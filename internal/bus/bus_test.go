package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := newTestBus()

	s1 := b.Subscribe(domain.TopicCopyTrading)
	s2 := b.Subscribe(domain.TopicCopyTrading)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	b.Publish(domain.TopicCopyTrading, domain.Event{Type: "new_trade"})

	for _, s := range []*Subscription{s1, s2} {
		select {
		case ev := <-s.Events():
			assert.Equal(t, "new_trade", ev.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishIsTopicScoped(t *testing.T) {
	b := newTestBus()

	s := b.Subscribe(domain.TopicStrategyUpdates)
	defer s.Unsubscribe()

	b.Publish(domain.TopicCopyTrading, domain.Event{Type: "new_trade"})

	select {
	case <-s.Events():
		t.Fatal("received event from a different topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := newTestBus()
	b.Publish("nobody-home", domain.Event{Type: "ignored"})
	assert.Zero(t, b.Dropped())
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := newTestBus()

	s := b.Subscribe(domain.TopicLiveOrders)
	defer s.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish(domain.TopicLiveOrders, domain.Event{Type: "order"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber buffer")
	}
	assert.Equal(t, uint64(10), b.Dropped())
}

func TestUnsubscribeClosesChannelAndDetaches(t *testing.T) {
	b := newTestBus()

	s := b.Subscribe(domain.TopicCopyTrading)
	require.Equal(t, 1, b.SubscriberCount(domain.TopicCopyTrading))

	s.Unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount(domain.TopicCopyTrading))

	_, open := <-s.Events()
	assert.False(t, open)

	// Idempotent.
	s.Unsubscribe()
}

func TestPerStrategyTopicNaming(t *testing.T) {
	b := newTestBus()

	s := b.Subscribe(domain.TopicStrategy(7))
	defer s.Unsubscribe()

	b.Publish(domain.TopicStrategy(7), domain.Event{Type: "price_update"})
	b.Publish(domain.TopicStrategy(8), domain.Event{Type: "price_update"})

	ev := <-s.Events()
	assert.Equal(t, "price_update", ev.Type)

	select {
	case <-s.Events():
		t.Fatal("received event addressed to another strategy")
	case <-time.After(50 * time.Millisecond):
	}
}
