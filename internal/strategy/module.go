// Package strategy hosts the strategy engine: a registry of per-strategy
// runners, each driving a pluggable signal module off the live market feed.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/openclob/polymirror/internal/crypto"
	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/platform/polymarket"
)

// Module is a strategy plug-in. The runner owns discovery, price state, and
// execution; the module owns the trading decision. Modules are called from a
// single goroutine and need no internal locking.
type Module interface {
	// Intervals returns the discovery buckets the module trades.
	Intervals() []domain.DiscoveryInterval

	// Filter returns the market filter applied during discovery.
	Filter() polymarket.DiscoveryFilter

	// HandleOrder evaluates one market-feed event against the module's
	// rules. A nil return means no action.
	HandleOrder(ev domain.FeedEvent, info domain.MarketInfo, now time.Time) *domain.Signal

	// HandleTick runs periodic housekeeping (cooldown expiry, rescans) and
	// may emit signals of its own.
	HandleTick(now time.Time) []domain.Signal
}

// newModule instantiates the module for a strategy definition.
func newModule(s domain.Strategy) (Module, error) {
	switch s.Type {
	case domain.StrategyTypeTimeDecay:
		return NewTimeDecay(s.ID, s.Config)
	default:
		return nil, fmt.Errorf("strategy: type %q: %w", s.Type, domain.ErrUnknownStrategyType)
	}
}

// discoverer is the slice of the Gamma client the runner needs.
type discoverer interface {
	DiscoverAll(ctx context.Context, intervals []domain.DiscoveryInterval, filter polymarket.DiscoveryFilter) ([]polymarket.DiscoveredMarket, error)
	GetMarketByToken(ctx context.Context, tokenID string) (domain.MarketInfo, error)
}

// venue is the slice of the CLOB client the runner needs.
type venue interface {
	GetBook(ctx context.Context, tokenID string) (polymarket.OrderBook, error)
	PostOrder(ctx context.Context, order crypto.SignedOrder, orderType domain.OrderType) (polymarket.OrderResult, error)
}

// feed is the subscription surface of the WebSocket market feed.
type feed interface {
	Subscribe(tokenIDs []string)
	Unsubscribe(tokenIDs []string)
}
