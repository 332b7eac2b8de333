package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketInfo is the cached, ephemeral view of one token's market. For a
// two-outcome market the pair {TokenID, OppositeTokenID} is reciprocal.
// NegRisk is nil when the venue did not report the flag; orders against such
// markets are rejected rather than guessed.
type MarketInfo struct {
	TokenID         string
	Question        string
	EventTitle      string
	EventSlug       string
	ConditionID     string
	Outcome         string
	OppositeTokenID string
	Price           decimal.Decimal
	EndDate         time.Time
	NegRisk         *bool
}

// MinutesToResolution returns the whole minutes until the market's end date,
// negative when already past.
func (m MarketInfo) MinutesToResolution(now time.Time) float64 {
	return m.EndDate.Sub(now).Minutes()
}

// DiscoveryInterval names a time-to-resolution bucket used for market
// discovery. The values map onto the venue's tag slugs.
type DiscoveryInterval string

const (
	Interval15M    DiscoveryInterval = "15m"
	Interval1H     DiscoveryInterval = "1h"
	Interval4H     DiscoveryInterval = "4h"
	IntervalWeekly DiscoveryInterval = "weekly"
)

// TagSlug returns the venue tag slug for the interval. The casing is exactly
// what the venue publishes.
func (d DiscoveryInterval) TagSlug() string {
	switch d {
	case Interval15M:
		return "15M"
	case Interval1H:
		return "1H"
	case Interval4H:
		return "4h"
	case IntervalWeekly:
		return "weekly"
	}
	return string(d)
}

// cryptoKeywords is the closed keyword set used for heuristic market
// filtering.
var cryptoKeywords = []string{
	"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "sol",
	"xrp", "doge", "dogecoin", "bnb", "cardano", "ada", "polygon",
	"matic", "avalanche", "avax", "chainlink", "link", "uniswap", "uni",
}

// IsCryptoMarket reports whether any crypto keyword occurs as a word in the
// given text (question or event title).
func IsCryptoMarket(text string) bool {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, w := range words {
		for _, kw := range cryptoKeywords {
			if w == kw {
				return true
			}
		}
	}
	return false
}
