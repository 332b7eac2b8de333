package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyStatus is the last persisted intent for a strategy. The engine
// registry, not this field, is the source of truth for whether a runner is
// actually alive.
type StrategyStatus string

const (
	StrategyStopped StrategyStatus = "stopped"
	StrategyRunning StrategyStatus = "running"
	StrategyPaused  StrategyStatus = "paused"
	StrategyError   StrategyStatus = "error"
)

// StrategyTypeTimeDecay is the built-in strategy module. Other types are
// rejected at runner init.
const StrategyTypeTimeDecay = "time_decay"

// Strategy is a persisted strategy definition. Config is a free-form JSON
// object interpreted by the strategy module.
type Strategy struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	Status    StrategyStatus `json:"status"`
	PaperMode bool           `json:"paper_mode"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StrategyEventType classifies entries in the append-only strategy log.
type StrategyEventType string

const (
	EventInfo    StrategyEventType = "info"
	EventSignal  StrategyEventType = "signal"
	EventTrade   StrategyEventType = "trade"
	EventError   StrategyEventType = "error"
	EventWarning StrategyEventType = "warning"
)

// StrategyEvent is one row of a strategy's append-only event log.
type StrategyEvent struct {
	ID         int64             `json:"id"`
	StrategyID int64             `json:"strategy_id"`
	Type       StrategyEventType `json:"type"`
	Message    string            `json:"message"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	InsertedAt time.Time         `json:"inserted_at"`
}

// Signal is produced by a strategy module for the runner to execute.
type Signal struct {
	ID               string            `json:"id"`
	StrategyID       int64             `json:"strategy_id"`
	Action           OrderSide         `json:"action"`
	TokenID          string            `json:"token_id"`
	Price            decimal.Decimal   `json:"price"`
	Size             decimal.Decimal   `json:"size"`
	Reason           string            `json:"reason"`
	RequiresPosition bool              `json:"requires_position"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// EstimatedProfit returns (1 - price) * size, the payout if the binary
// outcome resolves in the signal's favour.
func (s Signal) EstimatedProfit() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(s.Price).Mul(s.Size)
}
