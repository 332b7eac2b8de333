package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openclob/polymirror/internal/domain"
)

// CopySettingsStore persists the singleton copy-trading settings row.
type CopySettingsStore struct {
	db *sql.DB
}

func NewCopySettingsStore(c *Client) *CopySettingsStore {
	return &CopySettingsStore{db: c.DB()}
}

// Get returns the stored settings, or the defaults when none were saved yet.
func (s *CopySettingsStore) Get(ctx context.Context) (domain.CopySettings, error) {
	const query = `
		SELECT sizing_mode, fixed_amount, proportional_factor, percentage, enabled, updated_at
		FROM copy_settings WHERE id = ?`

	var cs domain.CopySettings
	var mode, fixed, factor, pct string
	err := s.db.QueryRowContext(ctx, query, singletonID).Scan(
		&mode, &fixed, &factor, &pct, &cs.Enabled, &cs.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultCopySettings(), nil
	}
	if err != nil {
		return domain.CopySettings{}, fmt.Errorf("sqlite: get copy settings: %w", err)
	}

	cs.SizingMode = domain.SizingMode(mode)
	cs.FixedAmount = decFromText(fixed)
	cs.ProportionalFactor = decFromText(factor)
	cs.Percentage = decFromText(pct)
	return cs, nil
}

// Update validates and stores the settings.
func (s *CopySettingsStore) Update(ctx context.Context, cs domain.CopySettings) error {
	if err := cs.Validate(); err != nil {
		return fmt.Errorf("sqlite: update copy settings: %w", err)
	}

	const query = `
		INSERT INTO copy_settings (id, sizing_mode, fixed_amount, proportional_factor, percentage, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			sizing_mode = excluded.sizing_mode,
			fixed_amount = excluded.fixed_amount,
			proportional_factor = excluded.proportional_factor,
			percentage = excluded.percentage,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query, singletonID,
		string(cs.SizingMode), cs.FixedAmount.String(), cs.ProportionalFactor.String(),
		cs.Percentage.String(), cs.Enabled,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update copy settings: %w", err)
	}
	return nil
}

var _ domain.CopySettingsStore = (*CopySettingsStore)(nil)
