package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openclob/polymirror/internal/domain"
)

// TrackedUserStore persists watched wallet addresses.
type TrackedUserStore struct {
	db *sql.DB
}

func NewTrackedUserStore(c *Client) *TrackedUserStore {
	return &TrackedUserStore{db: c.DB()}
}

// Upsert inserts or reactivates a tracked user. The address is normalised
// before storage.
func (s *TrackedUserStore) Upsert(ctx context.Context, user domain.TrackedUser) error {
	addr, err := domain.NormalizeAddress(user.Address)
	if err != nil {
		return fmt.Errorf("sqlite: upsert tracked user: %w", err)
	}

	const query = `
		INSERT INTO tracked_users (address, label, active, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (address) DO UPDATE SET
			label = excluded.label,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := s.db.ExecContext(ctx, query, addr, user.Label, user.Active); err != nil {
		return fmt.Errorf("sqlite: upsert tracked user %s: %w", addr, err)
	}
	return nil
}

func (s *TrackedUserStore) Get(ctx context.Context, address string) (domain.TrackedUser, error) {
	const query = `
		SELECT address, label, active, created_at, updated_at
		FROM tracked_users WHERE address = ?`

	var u domain.TrackedUser
	err := s.db.QueryRowContext(ctx, query, address).Scan(
		&u.Address, &u.Label, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TrackedUser{}, fmt.Errorf("sqlite: tracked user %s: %w", address, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TrackedUser{}, fmt.Errorf("sqlite: get tracked user %s: %w", address, err)
	}
	return u, nil
}

func (s *TrackedUserStore) List(ctx context.Context) ([]domain.TrackedUser, error) {
	return s.list(ctx, `SELECT address, label, active, created_at, updated_at
		FROM tracked_users ORDER BY created_at`)
}

func (s *TrackedUserStore) ListActive(ctx context.Context) ([]domain.TrackedUser, error) {
	return s.list(ctx, `SELECT address, label, active, created_at, updated_at
		FROM tracked_users WHERE active = 1 ORDER BY created_at`)
}

// SetActive archives or restores a user.
func (s *TrackedUserStore) SetActive(ctx context.Context, address string, active bool) error {
	const query = `UPDATE tracked_users SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE address = ?`

	res, err := s.db.ExecContext(ctx, query, active, address)
	if err != nil {
		return fmt.Errorf("sqlite: set tracked user active %s: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: tracked user %s: %w", address, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a user permanently. Only archived users may be deleted.
func (s *TrackedUserStore) Delete(ctx context.Context, address string) error {
	u, err := s.Get(ctx, address)
	if err != nil {
		return err
	}
	if u.Active {
		return fmt.Errorf("sqlite: delete tracked user %s: still active, archive first", address)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracked_users WHERE address = ?`, address); err != nil {
		return fmt.Errorf("sqlite: delete tracked user %s: %w", address, err)
	}
	return nil
}

func (s *TrackedUserStore) list(ctx context.Context, query string) ([]domain.TrackedUser, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tracked users: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedUser
	for rows.Next() {
		var u domain.TrackedUser
		if err := rows.Scan(&u.Address, &u.Label, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan tracked user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

var _ domain.TrackedUserStore = (*TrackedUserStore)(nil)
