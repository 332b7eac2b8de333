package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CredentialsStore persists the singleton credential row.
type CredentialsStore interface {
	Get(ctx context.Context) (Credentials, error)
	Update(ctx context.Context, creds Credentials) error
}

// TrackedUserStore persists watched wallet addresses.
type TrackedUserStore interface {
	Upsert(ctx context.Context, user TrackedUser) error
	Get(ctx context.Context, address string) (TrackedUser, error)
	List(ctx context.Context) ([]TrackedUser, error)
	ListActive(ctx context.Context) ([]TrackedUser, error)
	SetActive(ctx context.Context, address string, active bool) error
	// Delete removes the row. Only archived users may be deleted.
	Delete(ctx context.Context, address string) error
}

// CopySettingsStore persists the singleton copy-trading settings.
type CopySettingsStore interface {
	Get(ctx context.Context) (CopySettings, error)
	Update(ctx context.Context, s CopySettings) error
}

// CopyTradeStore persists copy-trade outcomes. Insert is idempotent on
// OriginalTradeID.
type CopyTradeStore interface {
	Insert(ctx context.Context, ct CopyTrade) (CopyTrade, error)
	Exists(ctx context.Context, originalTradeID string) (bool, error)
	Get(ctx context.Context, id int64) (CopyTrade, error)
	Update(ctx context.Context, ct CopyTrade) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, opts ListOpts) ([]CopyTrade, error)
	ListBefore(ctx context.Context, cutoff time.Time) ([]CopyTrade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	Create(ctx context.Context, s Strategy) (Strategy, error)
	Get(ctx context.Context, id int64) (Strategy, error)
	Update(ctx context.Context, s Strategy) error
	UpdateStatus(ctx context.Context, id int64, status StrategyStatus) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]Strategy, error)
	ListByStatus(ctx context.Context, status StrategyStatus) ([]Strategy, error)
}

// StrategyEventStore persists the append-only strategy event log.
type StrategyEventStore interface {
	Append(ctx context.Context, ev StrategyEvent) error
	List(ctx context.Context, strategyID int64, opts ListOpts) ([]StrategyEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time) ([]StrategyEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PositionStore persists strategy positions, unique per (strategy, token).
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) (Position, error)
	Get(ctx context.Context, strategyID int64, tokenID string) (Position, error)
	ListByStrategy(ctx context.Context, strategyID int64) ([]Position, error)
	List(ctx context.Context) ([]Position, error)
	Delete(ctx context.Context, strategyID int64, tokenID string) error
}

// TradeStore persists strategy trades.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) (Trade, error)
	Update(ctx context.Context, t Trade) error
	Get(ctx context.Context, id int64) (Trade, error)
	ListByStrategy(ctx context.Context, strategyID int64, opts ListOpts) ([]Trade, error)
	List(ctx context.Context, opts ListOpts) ([]Trade, error)
}
