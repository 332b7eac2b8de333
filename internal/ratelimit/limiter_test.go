package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTryAcquireDrainsBucket(t *testing.T) {
	l := New(testLogger())

	for i := 0; i < 60; i++ {
		require.NoError(t, l.TryAcquire(BucketData))
	}

	err := l.TryAcquire(BucketData)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestAcquireReturnsImmediatelyWhenTokensAvailable(t *testing.T) {
	l := New(testLogger())

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), BucketClob))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestUnknownBucketPassesThrough(t *testing.T) {
	l := New(testLogger())

	for i := 0; i < 1000; i++ {
		require.NoError(t, l.TryAcquire("no-such-bucket"))
	}
	require.NoError(t, l.Acquire(context.Background(), "no-such-bucket"))
}

func TestAcquireTimeoutWhenEmpty(t *testing.T) {
	l := New(testLogger())
	for i := 0; i < 60; i++ {
		require.NoError(t, l.TryAcquire(BucketGamma))
	}

	// No Run loop, so the bucket never refills.
	err := l.AcquireTimeout(context.Background(), BucketGamma, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
}

func TestAcquireServedByRefill(t *testing.T) {
	l := New(testLogger())
	for i := 0; i < 60; i++ {
		require.NoError(t, l.TryAcquire(BucketData))
	}

	done := make(chan error, 1)
	go func() {
		done <- l.AcquireTimeout(context.Background(), BucketData, 5*time.Second)
	}()

	// Let the goroutine queue up, then refill manually.
	time.Sleep(50 * time.Millisecond)
	l.refill()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not served by refill")
	}
}

func TestWaitersServedFIFO(t *testing.T) {
	l := New(testLogger())
	for i := 0; i < 60; i++ {
		require.NoError(t, l.TryAcquire(BucketData))
	}

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			if err := l.AcquireTimeout(context.Background(), BucketData, 5*time.Second); err == nil {
				order <- i
			}
		}()
		// Stagger so queue order matches goroutine index.
		time.Sleep(20 * time.Millisecond)
	}

	// Data refills one token per tick: three ticks serve exactly the three
	// waiters in queue order.
	for want := 0; want < 3; want++ {
		l.refill()
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was not served", want)
		}
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New(testLogger())
	for i := 0; i < 120; i++ {
		require.NoError(t, l.TryAcquire(BucketClob))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.AcquireTimeout(ctx, BucketClob, time.Minute)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire did not return")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	l := New(testLogger())

	// Full bucket stays full across refills.
	for i := 0; i < 5; i++ {
		l.refill()
	}
	assert.Equal(t, float64(120), l.Tokens(BucketClob))

	// Drained bucket refills at its configured rate.
	for i := 0; i < 120; i++ {
		require.NoError(t, l.TryAcquire(BucketClob))
	}
	l.refill()
	assert.Equal(t, float64(2), l.Tokens(BucketClob))
}
