// Package ratelimit provides named token buckets matching the venue's
// published per-API budgets. Waiters are served in FIFO order on one-second
// refill ticks.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openclob/polymirror/internal/domain"
)

// Bucket names. One bucket per upstream API.
const (
	BucketClob  = "clob"
	BucketData  = "data"
	BucketGamma = "gamma"
)

// DefaultAcquireTimeout bounds a blocking Acquire.
const DefaultAcquireTimeout = 120 * time.Second

// refillInterval is how often buckets are topped up and waiters served.
const refillInterval = time.Second

type bucket struct {
	tokens   float64
	capacity float64
	rate     float64 // tokens added per refill tick
	waiters  []chan struct{}
}

// Limiter owns a fixed set of token buckets. Unknown bucket names are
// accepted and never throttled so future endpoint additions stay safe.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	unknownSeen map[string]bool
	logger      *slog.Logger
}

// New creates a Limiter with the standard buckets: CLOB 120 requests/min,
// Data API 60/min, Gamma 60/min. Buckets start full.
func New(logger *slog.Logger) *Limiter {
	return &Limiter{
		buckets: map[string]*bucket{
			BucketClob:  {tokens: 120, capacity: 120, rate: 2},
			BucketData:  {tokens: 60, capacity: 60, rate: 1},
			BucketGamma: {tokens: 60, capacity: 60, rate: 1},
		},
		unknownSeen: make(map[string]bool),
		logger:      logger.With(slog.String("component", "rate_limiter")),
	}
}

// Run refills the buckets every second until the context is cancelled.
// Each tick serves as many queued waiters as there are tokens, oldest first.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.failAllWaiters()
			return ctx.Err()
		case <-ticker.C:
			l.refill()
		}
	}
}

// Acquire blocks until a token is available or DefaultAcquireTimeout
// elapses.
func (l *Limiter) Acquire(ctx context.Context, name string) error {
	return l.AcquireTimeout(ctx, name, DefaultAcquireTimeout)
}

// AcquireTimeout blocks until a token is available or the timeout elapses,
// in which case it fails with domain.ErrTimeout.
func (l *Limiter) AcquireTimeout(ctx context.Context, name string, timeout time.Duration) error {
	l.mu.Lock()
	b, ok := l.buckets[name]
	if !ok {
		l.allowUnknownLocked(name)
		l.mu.Unlock()
		return nil
	}

	if b.tokens >= 1 {
		b.tokens--
		l.mu.Unlock()
		return nil
	}

	// Queue up and wait for a refill tick to serve us.
	ch := make(chan struct{}, 1)
	b.waiters = append(b.waiters, ch)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case _, served := <-ch:
		if !served {
			return fmt.Errorf("ratelimit: %s: %w", name, domain.ErrTimeout)
		}
		return nil
	case <-timer.C:
		l.abandonWaiter(b, ch)
		return fmt.Errorf("ratelimit: %s: %w", name, domain.ErrTimeout)
	case <-ctx.Done():
		l.abandonWaiter(b, ch)
		return ctx.Err()
	}
}

// TryAcquire is non-blocking; it returns domain.ErrRateLimited when the
// bucket is empty.
func (l *Limiter) TryAcquire(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[name]
	if !ok {
		l.allowUnknownLocked(name)
		return nil
	}
	if b.tokens < 1 {
		return fmt.Errorf("ratelimit: %s: %w", name, domain.ErrRateLimited)
	}
	b.tokens--
	return nil
}

// Tokens returns the current token count for a bucket, for status surfaces.
func (l *Limiter) Tokens(name string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[name]; ok {
		return b.tokens
	}
	return 0
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (l *Limiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range l.buckets {
		b.tokens += b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		for b.tokens >= 1 && len(b.waiters) > 0 {
			ch := b.waiters[0]
			b.waiters = b.waiters[1:]
			b.tokens--
			ch <- struct{}{}
		}
	}
}

// abandonWaiter removes ch from the bucket's queue after a timeout. If the
// waiter was already served concurrently, its token is returned.
func (l *Limiter) abandonWaiter(b *bucket, ch chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
	// Not queued anymore: a refill tick served us between the timeout and
	// taking the lock. Give the token back.
	select {
	case <-ch:
		b.tokens++
	default:
	}
}

func (l *Limiter) failAllWaiters() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buckets {
		for _, ch := range b.waiters {
			close(ch)
		}
		b.waiters = nil
	}
}

// allowUnknownLocked logs an unknown bucket name once and lets the request
// through unthrottled.
func (l *Limiter) allowUnknownLocked(name string) {
	if !l.unknownSeen[name] {
		l.unknownSeen[name] = true
		l.logger.Warn("unknown rate-limit bucket, allowing through",
			slog.String("bucket", name),
		)
	}
}
