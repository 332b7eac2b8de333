package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates the direction of a trade or signal.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the venue time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeFAK OrderType = "FAK"
	OrderTypeGTD OrderType = "GTD"
)

// TradeStatus tracks the lifecycle of a strategy trade.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeSubmitted TradeStatus = "submitted"
	TradeFilled    TradeStatus = "filled"
	TradeFailed    TradeStatus = "failed"
	TradeSimulated TradeStatus = "simulated"
)

// Trade is one order placed (or simulated) by a strategy runner.
type Trade struct {
	ID         int64            `json:"id"`
	StrategyID int64            `json:"strategy_id"`
	MarketID   string           `json:"market_id"`
	AssetID    string           `json:"asset_id"`
	Side       OrderSide        `json:"side"`
	Price      decimal.Decimal  `json:"price"`
	Size       decimal.Decimal  `json:"size"`
	Status     TradeStatus      `json:"status"`
	OrderID    string           `json:"order_id,omitempty"`
	Title      string           `json:"title"`
	Outcome    string           `json:"outcome"`
	PnL        *decimal.Decimal `json:"pnl,omitempty"`
	InsertedAt time.Time        `json:"inserted_at"`
}

// PositionSide names which binary outcome a position holds.
type PositionSide string

const (
	PositionYes PositionSide = "YES"
	PositionNo  PositionSide = "NO"
)

// Position is a strategy's holding in one token, unique per
// (strategy, token). AvgPrice is size-weighted over buys only; sells reduce
// size and leave AvgPrice unchanged.
type Position struct {
	ID           int64           `json:"id"`
	StrategyID   int64           `json:"strategy_id"`
	TokenID      string          `json:"token_id"`
	Side         PositionSide    `json:"side"`
	Size         decimal.Decimal `json:"size"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ApplyBuy folds a buy of size at price into the position.
func (p *Position) ApplyBuy(size, price decimal.Decimal) {
	newSize := p.Size.Add(size)
	if newSize.IsPositive() {
		p.AvgPrice = p.Size.Mul(p.AvgPrice).Add(size.Mul(price)).Div(newSize)
	}
	p.Size = newSize
	p.CurrentPrice = price
}

// ApplySell reduces the position by size. The average price is not affected.
func (p *Position) ApplySell(size, price decimal.Decimal) {
	p.Size = p.Size.Sub(size)
	if p.Size.IsNegative() {
		p.Size = decimal.Zero
	}
	p.CurrentPrice = price
}
