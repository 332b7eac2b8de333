package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openclob/polymirror/internal/domain"
)

// StrategyEventStore persists the append-only strategy event log.
type StrategyEventStore struct {
	db *sql.DB
}

func NewStrategyEventStore(c *Client) *StrategyEventStore {
	return &StrategyEventStore{db: c.DB()}
}

const strategyEventColumns = `id, strategy_id, type, message, metadata, inserted_at`

func (s *StrategyEventStore) Append(ctx context.Context, ev domain.StrategyEvent) error {
	meta, err := marshalMeta(ev.Metadata)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO strategy_events (strategy_id, type, message, metadata, inserted_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`

	if _, err := s.db.ExecContext(ctx, query,
		ev.StrategyID, string(ev.Type), ev.Message, meta); err != nil {
		return fmt.Errorf("sqlite: append strategy event: %w", err)
	}
	return nil
}

// List returns a strategy's events newest first.
func (s *StrategyEventStore) List(ctx context.Context, strategyID int64, opts domain.ListOpts) ([]domain.StrategyEvent, error) {
	query := `SELECT ` + strategyEventColumns + ` FROM strategy_events WHERE strategy_id = ?`
	args := []any{strategyID}
	query, args = applyWindow(query, args, "inserted_at", opts.Since, opts.Until)
	query += ` ORDER BY inserted_at DESC, id DESC`
	query, args = applyLimit(query, args, opts.Limit, opts.Offset)

	return s.queryMany(ctx, query, args...)
}

// ListBefore returns events older than cutoff, oldest first, for archiving.
func (s *StrategyEventStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.StrategyEvent, error) {
	return s.queryMany(ctx,
		`SELECT `+strategyEventColumns+` FROM strategy_events WHERE inserted_at < ? ORDER BY inserted_at, id`,
		cutoff.UTC())
}

// DeleteBefore removes events older than cutoff and reports how many.
func (s *StrategyEventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM strategy_events WHERE inserted_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete strategy events before %s: %w", cutoff, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *StrategyEventStore) queryMany(ctx context.Context, query string, args ...any) ([]domain.StrategyEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list strategy events: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyEvent
	for rows.Next() {
		var ev domain.StrategyEvent
		var typ, meta string
		if err := rows.Scan(&ev.ID, &ev.StrategyID, &typ, &ev.Message, &meta, &ev.InsertedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan strategy event: %w", err)
		}
		ev.Type = domain.StrategyEventType(typ)
		ev.Metadata = unmarshalMeta(meta)
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ domain.StrategyEventStore = (*StrategyEventStore)(nil)
