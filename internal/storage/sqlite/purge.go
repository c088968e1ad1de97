package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/pictor/internal/models"
)

// PurgeOlderThan deletes terminal job and upscale rows created before
// cutoff in one transaction and returns the per-table counts. Queued
// and running rows are never deleted regardless of age, so a crashed
// run can recover them.
func (s *SQLiteDB) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin purge transaction: %w", err)
	}
	defer tx.Rollback()

	terminal := []any{
		string(models.JobStatusCompleted),
		string(models.JobStatusFailed),
		string(models.JobStatusCancelled),
	}
	cutoffMillis := cutoff.UnixMilli()

	jobResult, err := tx.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND created_at < ?`,
		append(terminal, cutoffMillis)...)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	jobs, err := jobResult.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	upscaleResult, err := tx.ExecContext(ctx,
		`DELETE FROM upscale_jobs WHERE status IN (?, ?, ?) AND created_at < ?`,
		append(terminal, cutoffMillis)...)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge upscale jobs: %w", err)
	}
	upscales, err := upscaleResult.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	return int(jobs), int(upscales), nil
}
