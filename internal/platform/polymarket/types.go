package polymarket

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma
// responses work whether flags are sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("polymarket: flexBool: %s", string(data))
	}
	*f = s == "true"
	return nil
}

// StringOrList accepts either a JSON array of strings or a JSON-encoded
// string containing such an array. Gamma serves both shapes for
// clobTokenIds, outcomes, and outcomePrices depending on endpoint version.
type StringOrList []string

func (s *StringOrList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("polymarket: StringOrList: %s", string(data))
	}
	if raw == "" {
		*s = nil
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		return fmt.Errorf("polymarket: StringOrList inner: %w", err)
	}
	*s = arr
	return nil
}

// --------------------------------------------------------------------------
// CLOB API
// --------------------------------------------------------------------------

// OrderResult is the venue's response to an order submission.
type OrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBook is the venue's book snapshot for a single token. NegRisk is a
// pointer because the venue omits the field for some markets; callers must
// treat absence as unknown, not false.
type OrderBook struct {
	Market  string      `json:"market"`
	AssetID string      `json:"asset_id"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
	NegRisk *bool       `json:"neg_risk"`
}

// BestBid returns the highest bid, or zero when the side is empty.
func (b *OrderBook) BestBid() decimal.Decimal {
	return bestLevel(b.Bids)
}

// BestAsk returns the lowest ask, or zero when the side is empty.
func (b *OrderBook) BestAsk() decimal.Decimal {
	return bestLevel(b.Asks)
}

// bestLevel picks the most competitive price from a book side. The venue
// sorts levels with the best price last.
func bestLevel(levels []BookLevel) decimal.Decimal {
	if len(levels) == 0 {
		return decimal.Zero
	}
	p, err := decimal.NewFromString(levels[len(levels)-1].Price)
	if err != nil {
		return decimal.Zero
	}
	return p
}

// --------------------------------------------------------------------------
// Data API
// --------------------------------------------------------------------------

// DataPosition is one row of GET /positions or GET /closed-positions.
type DataPosition struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	CashPnL      float64 `json:"cashPnl"`
	PercentPnL   float64 `json:"percentPnl"`
	RealizedPnL  float64 `json:"realizedPnl"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	EventSlug    string  `json:"eventSlug"`
	EndDate      string  `json:"endDate"`
	Redeemable   bool    `json:"redeemable"`
	CurrentValue float64 `json:"currentValue"`
}

// DataActivity is one row of GET /activity. Trades carry Type == "TRADE".
type DataActivity struct {
	TransactionHash string  `json:"transactionHash"`
	Type            string  `json:"type"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Outcome         string  `json:"outcome"`
	Title           string  `json:"title"`
	EventSlug       string  `json:"eventSlug"`
	Asset           string  `json:"asset"`
	Timestamp       int64   `json:"timestamp"`
}

// --------------------------------------------------------------------------
// Gamma API
// --------------------------------------------------------------------------

// GammaMarket is a market inside a Gamma event or a row of GET /markets.
type GammaMarket struct {
	ID              string       `json:"id"`
	Question        string       `json:"question"`
	ConditionID     string       `json:"conditionId"`
	Slug            string       `json:"slug"`
	EndDate         string       `json:"endDate"`
	EnableOrderBook flexBool     `json:"enableOrderBook"`
	NegRisk         *bool        `json:"negRisk"`
	ClobTokenIDs    StringOrList `json:"clobTokenIds"`
	Outcomes        StringOrList `json:"outcomes"`
	OutcomePrices   StringOrList `json:"outcomePrices"`
}

// GammaEvent is one row of GET /events.
type GammaEvent struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	EndDate string        `json:"endDate"`
	Active  flexBool      `json:"active"`
	Closed  flexBool      `json:"closed"`
	Markets []GammaMarket `json:"markets"`
}
