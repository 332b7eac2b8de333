package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TrackedUser is a public wallet whose on-venue activity is being watched.
// Archiving flips Active to false; permanent deletion is only allowed for
// archived users.
type TrackedUser struct {
	Address   string    `json:"address"`
	Label     string    `json:"label"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SizingMode selects how copy order sizes are derived from source trades.
type SizingMode string

const (
	SizingFixed        SizingMode = "fixed"
	SizingProportional SizingMode = "proportional"
	SizingPercentage   SizingMode = "percentage"
)

// CopySettings is the singleton copy-trading configuration.
type CopySettings struct {
	SizingMode         SizingMode      `json:"sizing_mode"`
	FixedAmount        decimal.Decimal `json:"fixed_amount"`
	ProportionalFactor decimal.Decimal `json:"proportional_factor"`
	Percentage         decimal.Decimal `json:"percentage"`
	Enabled            bool            `json:"enabled"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// DefaultCopySettings returns the settings used before the operator saves any.
func DefaultCopySettings() CopySettings {
	return CopySettings{
		SizingMode:         SizingFixed,
		FixedAmount:        decimal.NewFromInt(10),
		ProportionalFactor: decimal.NewFromInt(1),
		Percentage:         decimal.NewFromInt(5),
		Enabled:            false,
	}
}

// Validate checks the numeric invariants: all sizing parameters positive and
// percentage within (0, 100].
func (s CopySettings) Validate() error {
	switch s.SizingMode {
	case SizingFixed, SizingProportional, SizingPercentage:
	default:
		return fmt.Errorf("unknown sizing mode %q", s.SizingMode)
	}
	if !s.FixedAmount.IsPositive() {
		return fmt.Errorf("fixed amount must be positive")
	}
	if !s.ProportionalFactor.IsPositive() {
		return fmt.Errorf("proportional factor must be positive")
	}
	if !s.Percentage.IsPositive() || s.Percentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("percentage must be in (0, 100]")
	}
	return nil
}

// CopyTradeStatus tracks the lifecycle of a copy attempt. Rows are created in
// a terminal state; retry transitions failed back to executed or failed.
type CopyTradeStatus string

const (
	CopyTradePending   CopyTradeStatus = "pending"
	CopyTradeExecuted  CopyTradeStatus = "executed"
	CopyTradeSimulated CopyTradeStatus = "simulated"
	CopyTradeFailed    CopyTradeStatus = "failed"
)

// CopyTrade records one mirrored trade. OriginalTradeID is unique: the store
// enforces that no two rows share it, which makes re-delivery of the same
// source activity a no-op.
type CopyTrade struct {
	ID              int64           `json:"id"`
	SourceAddress   string          `json:"source_address"`
	OriginalTradeID string          `json:"original_trade_id"`
	Market          string          `json:"market"`
	AssetID         string          `json:"asset_id"`
	Side            OrderSide       `json:"side"`
	OriginalSize    decimal.Decimal `json:"original_size"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	CopySize        decimal.Decimal `json:"copy_size"`
	Status          CopyTradeStatus `json:"status"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Title           string          `json:"title"`
	Outcome         string          `json:"outcome"`
	EventSlug       string          `json:"event_slug"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ActivityTrade is the canonical projection of one venue activity item of
// type TRADE. ID is the transaction hash.
type ActivityTrade struct {
	ID        string          `json:"id"`
	Side      OrderSide       `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Outcome   string          `json:"outcome"`
	Title     string          `json:"title"`
	EventSlug string          `json:"event_slug"`
	AssetID   string          `json:"asset_id"`
	Timestamp time.Time       `json:"timestamp"`
}
