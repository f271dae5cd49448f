package store

import (
	"context"
	"database/sql"
	"fmt"
)

// A migration is one ordered schema upgrade step. Steps are numbered 1..N by
// position; the persisted PRAGMA user_version records the highest completed
// step. Each step runs together with its version bump in a single
// transaction, so a crash mid-migration never leaves a partially-applied
// step recorded as successful.
//
// Steps must also tolerate a slightly-divergent installed schema (a column
// that already exists) because older builds shipped ad-hoc upgrades.
type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{
		version:     1,
		description: "create expenses_queue table",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS expenses_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				projectId INTEGER NOT NULL,
				rateId TEXT NOT NULL,
				type TEXT NOT NULL,
				description TEXT NOT NULL,
				quantity REAL NOT NULL,
				price REAL NOT NULL,
				uniqueId TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','synced','error')),
				createdDate TEXT NOT NULL,
				syncAttempts INTEGER NOT NULL DEFAULT 0,
				lastSyncAttempt TEXT,
				errorMessage TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_expenses_queue_status
			    ON expenses_queue(status);
			CREATE INDEX IF NOT EXISTS idx_expenses_queue_status_created
			    ON expenses_queue(status, createdDate);
			`)
			return err
		},
	},
	{
		version:     2,
		description: "add activity column",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return addColumnIfMissing(ctx, tx, "expenses_queue",
				"activity", "TEXT NOT NULL DEFAULT ''")
		},
	},
	{
		version:     3,
		description: "add markup column",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return addColumnIfMissing(ctx, tx, "expenses_queue",
				"markup", "INTEGER NOT NULL DEFAULT 0")
		},
	},
	{
		version:     4,
		description: "create rates cache table",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS rates (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				description TEXT NOT NULL,
				unit TEXT NOT NULL,
				price REAL NOT NULL,
				fetchedAt TEXT NOT NULL
			);
			`)
			return err
		},
	},
}

// Migrate applies all pending schema migrations. It is idempotent and safe
// to call on every process start.
//
// Any step failing aborts the whole startup: the version counter is not
// advanced and the error is surfaced as a fatal initialization error. No
// partial-migration auto-repair is attempted.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrateTo(ctx, len(migrations))
}

// SchemaVersion returns the persisted schema version (0 for a fresh store).
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrateTo applies migrations up to and including step target. Exposed at
// package level so tests can stand up intermediate schema versions.
func (s *Store) migrateTo(ctx context.Context, target int) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
	}

	return nil
}

// applyMigration runs one step and its version bump in a single transaction.
func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.apply(ctx, tx); err != nil {
		return err
	}

	// PRAGMA does not take bind parameters; version is a trusted constant.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// addColumnIfMissing adds a column unless the installed schema already has
// it. ALTER TABLE ADD COLUMN has no IF NOT EXISTS in SQLite, so the check
// goes through pragma_table_info.
func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	var count int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?",
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	if count > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return nil
}
