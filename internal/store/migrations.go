package store

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	target_url TEXT NOT NULL,
	state TEXT NOT NULL,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','needs_manual_review','budget_exceeded','failed')),
	failure_reason TEXT,
	identity_id TEXT,
	pii_submitted TEXT NOT NULL DEFAULT '[]',
	pages_visited TEXT NOT NULL DEFAULT '[]',
	cost_usd REAL NOT NULL DEFAULT 0,
	reasoning_calls INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	ended_at TEXT
);

CREATE TABLE IF NOT EXISTS steps (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL CHECK(seq >= 1),
	state TEXT NOT NULL,
	action_type TEXT NOT NULL,
	selector TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT '',
	rationale TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	screenshot_ref TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY(session_id, seq),
	FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS wallets (
	session_id TEXT NOT NULL,
	network TEXT NOT NULL,
	address TEXT NOT NULL,
	symbol TEXT NOT NULL,
	source TEXT NOT NULL,
	method TEXT NOT NULL,
	confidence REAL NOT NULL,
	discovered_at TEXT NOT NULL,
	PRIMARY KEY(session_id, network, address),
	FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS sessions_outcome_started_at
ON sessions(outcome, started_at DESC);

CREATE INDEX IF NOT EXISTS sessions_started_at
ON sessions(started_at DESC);

CREATE INDEX IF NOT EXISTS wallets_address
ON wallets(address);
`,
	},
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
