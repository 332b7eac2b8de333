package cache

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/domain"
)

func newTestCache() *MarketCache {
	return NewMarketCache(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleMarket(q string) domain.MarketInfo {
	neg := false
	return domain.MarketInfo{
		Question: q,
		NegRisk:  &neg,
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache()

	c.Set("tok-1", sampleMarket("Will it rain?"))

	got, ok := c.Get("tok-1")
	require.True(t, ok)
	assert.Equal(t, "Will it rain?", got.Question)

	_, ok = c.Get("tok-2")
	assert.False(t, ok)
}

func TestExpiredEntryIsMissEvenBeforeSweep(t *testing.T) {
	c := newTestCache()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("tok-1", sampleMarket("q"))

	// Just inside the TTL.
	c.now = func() time.Time { return base.Add(DefaultTTL) }
	_, ok := c.Get("tok-1")
	assert.True(t, ok)

	// Just past it: a miss, though the entry is still in the map.
	c.now = func() time.Time { return base.Add(DefaultTTL + time.Second) }
	_, ok = c.Get("tok-1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestSweepReclaimsExpired(t *testing.T) {
	c := newTestCache()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("old", sampleMarket("old"))

	c.now = func() time.Time { return base.Add(DefaultTTL / 2) }
	c.Set("fresh", sampleMarket("fresh"))

	c.now = func() time.Time { return base.Add(DefaultTTL + time.Second) }
	removed := c.sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestSetRefreshesTTL(t *testing.T) {
	c := newTestCache()

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("tok-1", sampleMarket("v1"))

	c.now = func() time.Time { return base.Add(DefaultTTL - time.Second) }
	c.Set("tok-1", sampleMarket("v2"))

	c.now = func() time.Time { return base.Add(DefaultTTL + time.Minute) }
	got, ok := c.Get("tok-1")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Question)
}

func TestSoftCapEvictsOldest(t *testing.T) {
	c := newTestCache()
	c.cap = 3

	base := time.Now()
	for i := 0; i < 4; i++ {
		i := i
		c.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		c.Set(fmt.Sprintf("tok-%d", i), sampleMarket(fmt.Sprintf("q%d", i)))
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("tok-0")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("tok-3")
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := newTestCache()
	c.Set("tok-1", sampleMarket("q"))

	c.Invalidate("tok-1")
	_, ok := c.Get("tok-1")
	assert.False(t, ok)

	// Invalidating a missing key is a no-op.
	c.Invalidate("tok-missing")
}
