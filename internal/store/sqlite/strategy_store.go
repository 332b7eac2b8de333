package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openclob/polymirror/internal/domain"
)

// StrategyStore persists strategy definitions.
type StrategyStore struct {
	db *sql.DB
}

func NewStrategyStore(c *Client) *StrategyStore {
	return &StrategyStore{db: c.DB()}
}

const strategyColumns = `id, name, type, config, status, paper_mode, created_at, updated_at`

func (s *StrategyStore) Create(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	cfg, err := marshalMeta(st.Config)
	if err != nil {
		return domain.Strategy{}, err
	}
	if st.Status == "" {
		st.Status = domain.StrategyStopped
	}

	const query = `
		INSERT INTO strategies (name, type, config, status, paper_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	res, err := s.db.ExecContext(ctx, query,
		st.Name, st.Type, cfg, string(st.Status), st.PaperMode)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("sqlite: create strategy %q: %w", st.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("sqlite: create strategy %q: %w", st.Name, err)
	}
	return s.Get(ctx, id)
}

func (s *StrategyStore) Get(ctx context.Context, id int64) (domain.Strategy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id)
	st, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Strategy{}, fmt.Errorf("sqlite: strategy %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("sqlite: get strategy %d: %w", id, err)
	}
	return st, nil
}

func (s *StrategyStore) Update(ctx context.Context, st domain.Strategy) error {
	cfg, err := marshalMeta(st.Config)
	if err != nil {
		return err
	}

	const query = `
		UPDATE strategies
		SET name = ?, type = ?, config = ?, status = ?, paper_mode = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		st.Name, st.Type, cfg, string(st.Status), st.PaperMode, st.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update strategy %d: %w", st.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: strategy %d: %w", st.ID, domain.ErrNotFound)
	}
	return nil
}

// UpdateStatus persists only the status field, used by the engine when a
// runner starts, stops, or dies.
func (s *StrategyStore) UpdateStatus(ctx context.Context, id int64, status domain.StrategyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategies SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("sqlite: update strategy %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: strategy %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *StrategyStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete strategy %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: strategy %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *StrategyStore) List(ctx context.Context) ([]domain.Strategy, error) {
	return s.queryMany(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY id`)
}

func (s *StrategyStore) ListByStatus(ctx context.Context, status domain.StrategyStatus) ([]domain.Strategy, error) {
	return s.queryMany(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE status = ? ORDER BY id`,
		string(status))
}

func (s *StrategyStore) queryMany(ctx context.Context, query string, args ...any) ([]domain.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStrategy(r rowScanner) (domain.Strategy, error) {
	var st domain.Strategy
	var cfg, status string

	err := r.Scan(&st.ID, &st.Name, &st.Type, &cfg, &status, &st.PaperMode,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return domain.Strategy{}, err
	}

	st.Config = unmarshalMeta(cfg)
	st.Status = domain.StrategyStatus(status)
	return st, nil
}

var _ domain.StrategyStore = (*StrategyStore)(nil)
