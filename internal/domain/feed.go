package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedEventType classifies events emitted by the market WebSocket feed.
type FeedEventType string

const (
	FeedTrade       FeedEventType = "trade"
	FeedPriceChange FeedEventType = "price_change"
)

// FeedEvent is one normalised market-feed message. Price fields are nil when
// the venue message did not carry them.
type FeedEvent struct {
	Type           FeedEventType    `json:"type"`
	AssetID        string           `json:"asset_id"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	Size           *decimal.Decimal `json:"size,omitempty"`
	BestBid        *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk        *decimal.Decimal `json:"best_ask,omitempty"`
	Side           string           `json:"side,omitempty"`
	Outcome        string           `json:"outcome,omitempty"`
	MarketQuestion string           `json:"market_question,omitempty"`
	EventTitle     string           `json:"event_title,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// EvalPrice returns the midpoint of best bid and ask when both are present,
// otherwise whichever side exists, otherwise the last price. The boolean is
// false when no price information is available at all.
func (e FeedEvent) EvalPrice() (decimal.Decimal, bool) {
	switch {
	case e.BestBid != nil && e.BestAsk != nil:
		return e.BestBid.Add(*e.BestAsk).Div(decimal.NewFromInt(2)), true
	case e.BestBid != nil:
		return *e.BestBid, true
	case e.BestAsk != nil:
		return *e.BestAsk, true
	case e.Price != nil:
		return *e.Price, true
	}
	return decimal.Zero, false
}

// TokenPrice is the latest observed quote for one token.
type TokenPrice struct {
	BestBid        *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk        *decimal.Decimal `json:"best_ask,omitempty"`
	Outcome        string           `json:"outcome"`
	MarketQuestion string           `json:"market_question"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SubscriptionStats counts outbound subscribe attempts on the market feed.
// Retries are resubscribes forced by the health check or a reconnect.
type SubscriptionStats struct {
	Attempts int64
	Retries  int64
}
