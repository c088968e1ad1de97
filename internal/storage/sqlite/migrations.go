package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations. Safe to run on every startup:
// applied versions are skipped.
func (s *SQLiteDB) migrate() error {
	ctx := context.Background()

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "jobs_table", up: migrateV1},
		{version: 2, name: "upscale_jobs_table", up: migrateV2},
		{version: 3, name: "banned_words_table", up: migrateV3},
		{version: 4, name: "job_indexes", up: migrateV4},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return nil // Already applied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// migrateV1 creates the render jobs table. Timestamps are stored as
// milliseconds since epoch; started_at and completed_at stay NULL until
// the job reaches the corresponding state.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		guild_id TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL,
		status TEXT NOT NULL,
		model TEXT NOT NULL,
		sampler TEXT NOT NULL,
		scheduler TEXT NOT NULL,
		steps INTEGER NOT NULL,
		cfg REAL NOT NULL,
		seed INTEGER NOT NULL,
		size TEXT NOT NULL,
		positive_prompt TEXT NOT NULL DEFAULT '',
		negative_prompt TEXT NOT NULL DEFAULT '',
		adapters JSON NOT NULL DEFAULT '[]',
		backend_prompt_id TEXT,
		output_images JSON,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	)`
	_, err := tx.ExecContext(ctx, query)
	return err
}

// migrateV2 creates the upscale jobs table. source_job_id is a soft
// reference; the row carries everything needed to execute.
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS upscale_jobs (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		guild_id TEXT NOT NULL DEFAULT '',
		channel_id TEXT NOT NULL,
		status TEXT NOT NULL,
		source_job_id TEXT NOT NULL DEFAULT '',
		source_image TEXT NOT NULL,
		positive_prompt TEXT NOT NULL DEFAULT '',
		negative_prompt TEXT NOT NULL DEFAULT '',
		upscale_model TEXT NOT NULL,
		workflow TEXT NOT NULL,
		backend_prompt_id TEXT,
		output_images JSON,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	)`
	_, err := tx.ExecContext(ctx, query)
	return err
}

// migrateV3 creates the banned words table
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS banned_words (
		word TEXT PRIMARY KEY,
		partial INTEGER NOT NULL DEFAULT 0,
		added_by TEXT NOT NULL DEFAULT '',
		added_at INTEGER NOT NULL
	)`
	_, err := tx.ExecContext(ctx, query)
	return err
}

// migrateV4 adds the indexes the queue, purge, and re-roll paths scan on
func migrateV4(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_requester_status ON jobs(requester_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_upscale_jobs_status_created ON upscale_jobs(status, created_at)`,
	}
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}
