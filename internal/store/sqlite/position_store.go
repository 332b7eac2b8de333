package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openclob/polymirror/internal/domain"
)

// PositionStore persists strategy positions, one row per (strategy, token).
type PositionStore struct {
	db *sql.DB
}

func NewPositionStore(c *Client) *PositionStore {
	return &PositionStore{db: c.DB()}
}

const positionColumns = `id, strategy_id, token_id, side, size, avg_price, current_price, updated_at`

// Upsert writes a position, replacing the existing row for the same
// (strategy, token) pair, and returns the stored row.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) (domain.Position, error) {
	const query = `
		INSERT INTO positions (strategy_id, token_id, side, size, avg_price, current_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (strategy_id, token_id) DO UPDATE SET
			side = excluded.side,
			size = excluded.size,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query,
		pos.StrategyID, pos.TokenID, string(pos.Side),
		pos.Size.String(), pos.AvgPrice.String(), pos.CurrentPrice.String())
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: upsert position %d/%s: %w", pos.StrategyID, pos.TokenID, err)
	}

	return s.Get(ctx, pos.StrategyID, pos.TokenID)
}

func (s *PositionStore) Get(ctx context.Context, strategyID int64, tokenID string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE strategy_id = ? AND token_id = ?`,
		strategyID, tokenID)

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("sqlite: position %d/%s: %w", strategyID, tokenID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position %d/%s: %w", strategyID, tokenID, err)
	}
	return pos, nil
}

func (s *PositionStore) ListByStrategy(ctx context.Context, strategyID int64) ([]domain.Position, error) {
	return s.queryMany(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE strategy_id = ? ORDER BY token_id`,
		strategyID)
}

func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	return s.queryMany(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY strategy_id, token_id`)
}

func (s *PositionStore) Delete(ctx context.Context, strategyID int64, tokenID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM positions WHERE strategy_id = ? AND token_id = ?`, strategyID, tokenID)
	if err != nil {
		return fmt.Errorf("sqlite: delete position %d/%s: %w", strategyID, tokenID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: position %d/%s: %w", strategyID, tokenID, domain.ErrNotFound)
	}
	return nil
}

func (s *PositionStore) queryMany(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func scanPosition(r rowScanner) (domain.Position, error) {
	var pos domain.Position
	var side, size, avgPrice, curPrice string

	err := r.Scan(&pos.ID, &pos.StrategyID, &pos.TokenID, &side,
		&size, &avgPrice, &curPrice, &pos.UpdatedAt)
	if err != nil {
		return domain.Position{}, err
	}

	pos.Side = domain.PositionSide(side)
	pos.Size = decFromText(size)
	pos.AvgPrice = decFromText(avgPrice)
	pos.CurrentPrice = decFromText(curPrice)
	return pos, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
