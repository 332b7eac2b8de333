// Package sqlite implements the domain store interfaces on an embedded
// SQLite database file co-located with the executable.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Client owns the database handle. SQLite allows one writer; the pool is
// pinned to a single connection so writes serialise instead of failing with
// SQLITE_BUSY.
type Client struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for an ephemeral database in tests.
func Open(ctx context.Context, path string) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	c := &Client{db: db}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying handle for the store constructors.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the database handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// migrations are applied in order at startup; each statement must be
// idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id              TEXT PRIMARY KEY,
		api_key         TEXT NOT NULL DEFAULT '',
		api_secret      TEXT NOT NULL DEFAULT '',
		api_passphrase  TEXT NOT NULL DEFAULT '',
		wallet_address  TEXT NOT NULL DEFAULT '',
		signer_address  TEXT NOT NULL DEFAULT '',
		private_key     TEXT NOT NULL DEFAULT '',
		updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS tracked_users (
		address     TEXT PRIMARY KEY,
		label       TEXT NOT NULL DEFAULT '',
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS copy_settings (
		id                  TEXT PRIMARY KEY,
		sizing_mode         TEXT NOT NULL,
		fixed_amount        TEXT NOT NULL,
		proportional_factor TEXT NOT NULL,
		percentage          TEXT NOT NULL,
		enabled             INTEGER NOT NULL DEFAULT 0,
		updated_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS copy_trades (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		source_address     TEXT NOT NULL,
		original_trade_id  TEXT NOT NULL UNIQUE,
		market             TEXT NOT NULL DEFAULT '',
		asset_id           TEXT NOT NULL DEFAULT '',
		side               TEXT NOT NULL,
		original_size      TEXT NOT NULL,
		original_price     TEXT NOT NULL,
		copy_size          TEXT NOT NULL,
		status             TEXT NOT NULL,
		executed_at        TIMESTAMP,
		error_message      TEXT NOT NULL DEFAULT '',
		title              TEXT NOT NULL DEFAULT '',
		outcome            TEXT NOT NULL DEFAULT '',
		event_slug         TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_copy_trades_created ON copy_trades (created_at)`,

	`CREATE TABLE IF NOT EXISTS strategies (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		config      TEXT NOT NULL DEFAULT '{}',
		status      TEXT NOT NULL DEFAULT 'stopped',
		paper_mode  INTEGER NOT NULL DEFAULT 1,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS strategy_events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id  INTEGER NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
		type         TEXT NOT NULL,
		message      TEXT NOT NULL DEFAULT '',
		metadata     TEXT NOT NULL DEFAULT '{}',
		inserted_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_events_strategy ON strategy_events (strategy_id, inserted_at)`,

	`CREATE TABLE IF NOT EXISTS positions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id   INTEGER NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
		token_id      TEXT NOT NULL,
		side          TEXT NOT NULL DEFAULT 'YES',
		size          TEXT NOT NULL,
		avg_price     TEXT NOT NULL,
		current_price TEXT NOT NULL DEFAULT '0',
		updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (strategy_id, token_id)
	)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id  INTEGER NOT NULL,
		market_id    TEXT NOT NULL DEFAULT '',
		asset_id     TEXT NOT NULL DEFAULT '',
		side         TEXT NOT NULL,
		price        TEXT NOT NULL,
		size         TEXT NOT NULL,
		status       TEXT NOT NULL,
		order_id     TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL DEFAULT '',
		outcome      TEXT NOT NULL DEFAULT '',
		pnl          TEXT,
		inserted_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades (strategy_id, inserted_at)`,
}

func (c *Client) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migration %d: %w", i, err)
		}
	}
	return nil
}
