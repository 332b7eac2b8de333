// Package bus provides an in-process topic publish/subscribe fabric.
// Delivery is best effort: a subscriber whose buffer is full misses the
// event rather than blocking the publisher.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/openclob/polymirror/internal/domain"
)

// subscriberBuffer is the per-subscriber channel depth. Bursts beyond it
// drop events for that subscriber only.
const subscriberBuffer = 128

// Subscription is a live attachment to one topic. Close it (or cancel via
// Unsubscribe) when done, or the bus keeps delivering forever.
type Subscription struct {
	topic string
	ch    chan domain.Event
	bus   *Bus
	once  sync.Once
}

// Events returns the receive channel. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Unsubscribe detaches from the topic and closes the events channel. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.topic, s)
		close(s.ch)
	})
}

// Bus fans events out to per-topic subscriber sets. All methods are safe for
// concurrent use. Publishing to a topic with no subscribers is a no-op.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	logger *slog.Logger

	dropped atomic.Uint64
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger.With(slog.String("component", "bus")),
	}
}

// Subscribe attaches to a topic with a buffered channel.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan domain.Event, subscriberBuffer),
		bus:   b,
	}

	b.mu.Lock()
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish delivers event to every current subscriber of topic. Subscribers
// with full buffers are skipped.
func (b *Bus) Publish(topic string, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[topic] {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Debug("dropped event for slow subscriber",
				slog.String("topic", topic),
				slog.String("event_type", event.Type),
			)
		}
	}
}

// Dropped returns the total number of events skipped because a subscriber's
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns how many subscribers a topic currently has.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) remove(topic string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.topics[topic]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.topics, topic)
	}
}
