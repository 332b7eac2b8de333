package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openclob/polymirror/internal/domain"
)

// CopyTradeStore persists copy-trade outcomes. The UNIQUE index on
// original_trade_id makes Insert idempotent: re-delivery of the same source
// trade returns the existing row untouched.
type CopyTradeStore struct {
	db *sql.DB
}

func NewCopyTradeStore(c *Client) *CopyTradeStore {
	return &CopyTradeStore{db: c.DB()}
}

const copyTradeColumns = `
	id, source_address, original_trade_id, market, asset_id, side,
	original_size, original_price, copy_size, status, executed_at,
	error_message, title, outcome, event_slug, created_at`

// Insert stores a copy trade. When a row with the same OriginalTradeID
// already exists the insert is a no-op and the existing row is returned.
func (s *CopyTradeStore) Insert(ctx context.Context, ct domain.CopyTrade) (domain.CopyTrade, error) {
	const query = `
		INSERT INTO copy_trades (
			source_address, original_trade_id, market, asset_id, side,
			original_size, original_price, copy_size, status, executed_at,
			error_message, title, outcome, event_slug, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (original_trade_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		ct.SourceAddress, ct.OriginalTradeID, ct.Market, ct.AssetID, string(ct.Side),
		ct.OriginalSize.String(), ct.OriginalPrice.String(), ct.CopySize.String(),
		string(ct.Status), ct.ExecutedAt,
		ct.ErrorMessage, ct.Title, ct.Outcome, ct.EventSlug,
	)
	if err != nil {
		return domain.CopyTrade{}, fmt.Errorf("sqlite: insert copy trade %s: %w", ct.OriginalTradeID, err)
	}

	return s.getByOriginalID(ctx, ct.OriginalTradeID)
}

// Exists is the anti-duplication gate: true when a row for this source
// trade already exists.
func (s *CopyTradeStore) Exists(ctx context.Context, originalTradeID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM copy_trades WHERE original_trade_id = ?`, originalTradeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: copy trade exists %s: %w", originalTradeID, err)
	}
	return n > 0, nil
}

func (s *CopyTradeStore) Get(ctx context.Context, id int64) (domain.CopyTrade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+copyTradeColumns+` FROM copy_trades WHERE id = ?`, id)
	ct, err := scanCopyTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CopyTrade{}, fmt.Errorf("sqlite: copy trade %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CopyTrade{}, fmt.Errorf("sqlite: get copy trade %d: %w", id, err)
	}
	return ct, nil
}

// Update rewrites the mutable fields of a copy trade, used by the retry
// path to transition failed rows.
func (s *CopyTradeStore) Update(ctx context.Context, ct domain.CopyTrade) error {
	const query = `
		UPDATE copy_trades
		SET copy_size = ?, status = ?, executed_at = ?, error_message = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		ct.CopySize.String(), string(ct.Status), ct.ExecutedAt, ct.ErrorMessage, ct.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update copy trade %d: %w", ct.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: copy trade %d: %w", ct.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *CopyTradeStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM copy_trades WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete copy trade %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: copy trade %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// List returns copy trades newest first.
func (s *CopyTradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeColumns + ` FROM copy_trades WHERE 1=1`
	var args []any
	query, args = applyWindow(query, args, "created_at", opts.Since, opts.Until)
	query += ` ORDER BY created_at DESC, id DESC`
	query, args = applyLimit(query, args, opts.Limit, opts.Offset)

	return s.queryMany(ctx, query, args...)
}

// ListBefore returns rows older than cutoff, oldest first, for archiving.
func (s *CopyTradeStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.CopyTrade, error) {
	return s.queryMany(ctx,
		`SELECT `+copyTradeColumns+` FROM copy_trades WHERE created_at < ? ORDER BY created_at, id`,
		cutoff.UTC())
}

// DeleteBefore removes rows older than cutoff and reports how many.
func (s *CopyTradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM copy_trades WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete copy trades before %s: %w", cutoff, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (s *CopyTradeStore) getByOriginalID(ctx context.Context, originalTradeID string) (domain.CopyTrade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+copyTradeColumns+` FROM copy_trades WHERE original_trade_id = ?`, originalTradeID)
	ct, err := scanCopyTrade(row)
	if err != nil {
		return domain.CopyTrade{}, fmt.Errorf("sqlite: copy trade by original id %s: %w", originalTradeID, err)
	}
	return ct, nil
}

func (s *CopyTradeStore) queryMany(ctx context.Context, query string, args ...any) ([]domain.CopyTrade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list copy trades: %w", err)
	}
	defer rows.Close()

	var out []domain.CopyTrade
	for rows.Next() {
		ct, err := scanCopyTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan copy trade: %w", err)
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCopyTrade(r rowScanner) (domain.CopyTrade, error) {
	var (
		ct                              domain.CopyTrade
		side, origSize, origPrice, size string
		status                          string
		executedAt                      sql.NullTime
	)

	err := r.Scan(
		&ct.ID, &ct.SourceAddress, &ct.OriginalTradeID, &ct.Market, &ct.AssetID, &side,
		&origSize, &origPrice, &size, &status, &executedAt,
		&ct.ErrorMessage, &ct.Title, &ct.Outcome, &ct.EventSlug, &ct.CreatedAt,
	)
	if err != nil {
		return domain.CopyTrade{}, err
	}

	ct.Side = domain.OrderSide(side)
	ct.OriginalSize = decFromText(origSize)
	ct.OriginalPrice = decFromText(origPrice)
	ct.CopySize = decFromText(size)
	ct.Status = domain.CopyTradeStatus(status)
	if executedAt.Valid {
		t := executedAt.Time
		ct.ExecutedAt = &t
	}
	return ct, nil
}

var _ domain.CopyTradeStore = (*CopyTradeStore)(nil)
