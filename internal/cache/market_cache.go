// Package cache provides the in-process market metadata cache. Entries
// expire after a fixed TTL and a background sweep reclaims them; lookups
// never return stale data regardless of sweep timing.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openclob/polymirror/internal/domain"
)

const (
	// DefaultTTL is how long a cached market stays valid.
	DefaultTTL = 300 * time.Second

	// sweepInterval is how often expired entries are reclaimed.
	sweepInterval = 5 * time.Minute

	// softCap bounds memory use. When exceeded, the oldest entries are
	// evicted first.
	softCap = 100_000
)

type entry struct {
	market   domain.MarketInfo
	storedAt time.Time
}

// MarketCache is a TTL cache keyed by CLOB token ID. All methods are safe
// for concurrent use.
type MarketCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	cap     int
	logger  *slog.Logger

	now func() time.Time // test seam
}

// NewMarketCache creates a MarketCache with the default TTL and capacity.
func NewMarketCache(logger *slog.Logger) *MarketCache {
	return &MarketCache{
		entries: make(map[string]*entry),
		ttl:     DefaultTTL,
		cap:     softCap,
		logger:  logger.With(slog.String("component", "market_cache")),
		now:     time.Now,
	}
}

// Run sweeps expired entries until the context is cancelled.
func (c *MarketCache) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed := c.sweep()
			if removed > 0 {
				c.logger.Debug("swept expired market entries",
					slog.Int("removed", removed),
					slog.Int("remaining", c.Len()),
				)
			}
		}
	}
}

// Get returns the cached market for a token ID. Expired entries count as
// missing even before the sweeper reclaims them.
func (c *MarketCache) Get(tokenID string) (domain.MarketInfo, bool) {
	c.mu.RLock()
	e, ok := c.entries[tokenID]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		return domain.MarketInfo{}, false
	}
	return e.market, true
}

// Set stores a market under a token ID, refreshing its TTL. When the soft
// cap is exceeded the oldest entry is evicted to make room.
func (c *MarketCache) Set(tokenID string, market domain.MarketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[tokenID] = &entry{market: market, storedAt: c.now()}

	for len(c.entries) > c.cap {
		c.evictOldestLocked()
	}
}

// Invalidate removes a token's entry if present.
func (c *MarketCache) Invalidate(tokenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tokenID)
}

// Len returns the number of entries, expired ones included.
func (c *MarketCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MarketCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *MarketCache) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.storedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = e.storedAt
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}
