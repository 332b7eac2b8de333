package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openclob/polymirror/internal/domain"
)

// TradeStore persists trades placed (or simulated) by strategy runners.
type TradeStore struct {
	db *sql.DB
}

func NewTradeStore(c *Client) *TradeStore {
	return &TradeStore{db: c.DB()}
}

const tradeColumns = `id, strategy_id, market_id, asset_id, side, price, size, status, order_id, title, outcome, pnl, inserted_at`

func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	const query = `
		INSERT INTO trades (strategy_id, market_id, asset_id, side, price, size, status, order_id, title, outcome, pnl, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	res, err := s.db.ExecContext(ctx, query,
		t.StrategyID, t.MarketID, t.AssetID, string(t.Side),
		t.Price.String(), t.Size.String(), string(t.Status),
		t.OrderID, t.Title, t.Outcome, decPtrToText(t.PnL))
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: insert trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: insert trade: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *TradeStore) Update(ctx context.Context, t domain.Trade) error {
	const query = `
		UPDATE trades SET status = ?, order_id = ?, pnl = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		string(t.Status), t.OrderID, decPtrToText(t.PnL), t.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update trade %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: trade %d: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *TradeStore) Get(ctx context.Context, id int64) (domain.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("sqlite: trade %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: get trade %d: %w", id, err)
	}
	return t, nil
}

func (s *TradeStore) ListByStrategy(ctx context.Context, strategyID int64, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE strategy_id = ?`
	args := []any{strategyID}
	query, args = applyWindow(query, args, "inserted_at", opts.Since, opts.Until)
	query += ` ORDER BY inserted_at DESC, id DESC`
	query, args = applyLimit(query, args, opts.Limit, opts.Offset)

	return s.queryMany(ctx, query, args...)
}

func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	var args []any
	query, args = applyWindow(query, args, "inserted_at", opts.Since, opts.Until)
	query += ` ORDER BY inserted_at DESC, id DESC`
	query, args = applyLimit(query, args, opts.Limit, opts.Offset)

	return s.queryMany(ctx, query, args...)
}

func (s *TradeStore) queryMany(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(r rowScanner) (domain.Trade, error) {
	var t domain.Trade
	var side, price, size, status string
	var pnl *string

	err := r.Scan(&t.ID, &t.StrategyID, &t.MarketID, &t.AssetID, &side,
		&price, &size, &status, &t.OrderID, &t.Title, &t.Outcome, &pnl, &t.InsertedAt)
	if err != nil {
		return domain.Trade{}, err
	}

	t.Side = domain.OrderSide(side)
	t.Price = decFromText(price)
	t.Size = decFromText(size)
	t.Status = domain.TradeStatus(status)
	t.PnL = decPtrFromText(pnl)
	return t, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
