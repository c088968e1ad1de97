package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// millisToTime converts a millisecond epoch timestamp to time.Time
func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// nullMillis converts a timestamp to its nullable column form; the zero
// time maps to NULL
func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Valid: true, Int64: t.UnixMilli()}
}

// nullString maps "" to NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{Valid: true, String: s}
}

const jobColumns = `id, requester_id, guild_id, channel_id, status, model, sampler, scheduler,
	       steps, cfg, seed, size, positive_prompt, negative_prompt, adapters,
	       backend_prompt_id, output_images, error_message, created_at, started_at, completed_at`

// JobStorage implements SQLite storage for render jobs
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob inserts a new job row
func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	adaptersJSON, err := models.MarshalAdapters(job.Adapters)
	if err != nil {
		return err
	}

	var outputImages sql.NullString
	if job.OutputImages != nil {
		data, err := json.Marshal(job.OutputImages)
		if err != nil {
			return fmt.Errorf("failed to serialize output images: %w", err)
		}
		outputImages = sql.NullString{Valid: true, String: string(data)}
	}

	query := `
		INSERT INTO jobs (
			id, requester_id, guild_id, channel_id, status, model, sampler, scheduler,
			steps, cfg, seed, size, positive_prompt, negative_prompt, adapters,
			backend_prompt_id, output_images, error_message, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.db.ExecContext(ctx, query,
		job.ID,
		job.RequesterID,
		job.GuildID,
		job.ChannelID,
		string(job.Status),
		job.Model,
		job.Sampler,
		job.Scheduler,
		job.Steps,
		job.CFG,
		job.Seed,
		string(job.Size),
		job.PositivePrompt,
		job.NegativePrompt,
		adaptersJSON,
		nullString(job.BackendPromptID),
		outputImages,
		nullString(job.ErrorMessage),
		job.CreatedAt.UnixMilli(),
		nullMillis(job.StartedAt),
		nullMillis(job.CompletedAt),
	)

	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save job")
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Job saved")
	return nil
}

// GetJob retrieves a job by ID
func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	row := s.db.db.QueryRowContext(ctx, query, id)
	return scanJob(row.Scan)
}

// MarkRunning moves a queued job to running and stamps started_at
func (s *JobStorage) MarkRunning(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(models.JobStatusRunning), time.Now().UnixMilli(), id, string(models.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return requireRow(result, id)
}

// SetBackendPromptID records the backend's prompt id after submission
func (s *JobStorage) SetBackendPromptID(ctx context.Context, id string, promptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET backend_prompt_id = ? WHERE id = ?`, promptID, id)
	if err != nil {
		return fmt.Errorf("failed to set backend prompt id: %w", err)
	}
	return requireRow(result, id)
}

// MarkCompleted finalizes a job with its output images. An empty
// non-nil list is stored as [] so completion stays distinguishable from
// never-finished.
func (s *JobStorage) MarkCompleted(ctx context.Context, id string, outputImages []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outputImages == nil {
		outputImages = []string{}
	}
	data, err := json.Marshal(outputImages)
	if err != nil {
		return fmt.Errorf("failed to serialize output images: %w", err)
	}

	result, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, output_images = ? WHERE id = ?`,
		string(models.JobStatusCompleted), time.Now().UnixMilli(), string(data), id)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return requireRow(result, id)
}

// MarkFailed finalizes a job with an error message
func (s *JobStorage) MarkFailed(ctx context.Context, id string, message string) error {
	return s.finalize(ctx, id, models.JobStatusFailed, message)
}

// MarkCancelled finalizes a job as cancelled
func (s *JobStorage) MarkCancelled(ctx context.Context, id string, message string) error {
	return s.finalize(ctx, id, models.JobStatusCancelled, message)
}

func (s *JobStorage) finalize(ctx context.Context, id string, status models.JobStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, error_message = ? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), nullString(message), id)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	return requireRow(result, id)
}

// ListByStatus returns jobs in a given status, oldest first
func (s *JobStorage) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountQueuedBefore counts queued jobs ahead of the given row, with
// ties broken by id
func (s *JobStorage) CountQueuedBefore(ctx context.Context, createdAt time.Time, id string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE status = ? AND (created_at < ? OR (created_at = ? AND id < ?))`,
		string(models.JobStatusQueued), createdAt.UnixMilli(), createdAt.UnixMilli(), id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	return count, nil
}

// LatestCompletedForUser returns the user's most recent completed job
func (s *JobStorage) LatestCompletedForUser(ctx context.Context, requesterID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE requester_id = ? AND status = ?
		ORDER BY completed_at DESC LIMIT 1`
	row := s.db.db.QueryRowContext(ctx, query, requesterID, string(models.JobStatusCompleted))
	return scanJob(row.Scan)
}

// requireRow converts a zero-affected update into ErrNotFound
func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", id, interfaces.ErrNotFound)
	}
	return nil
}

// scanJob reads one job row through the given scan function
func scanJob(scan func(...any) error) (*models.Job, error) {
	var (
		id, requesterID, guildID, channelID, status  string
		model, sampler, scheduler, size              string
		positivePrompt, negativePrompt, adaptersJSON string
		steps                                        int
		cfg                                          float64
		seed                                         int64
		backendPromptID, outputImages, errorMessage  sql.NullString
		createdAt                                    int64
		startedAt, completedAt                       sql.NullInt64
	)

	err := scan(
		&id, &requesterID, &guildID, &channelID, &status, &model, &sampler, &scheduler,
		&steps, &cfg, &seed, &size, &positivePrompt, &negativePrompt, &adaptersJSON,
		&backendPromptID, &outputImages, &errorMessage, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	adapters, err := models.UnmarshalAdapters(adaptersJSON)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:             id,
		RequesterID:    requesterID,
		GuildID:        guildID,
		ChannelID:      channelID,
		Status:         models.JobStatus(status),
		Model:          model,
		Sampler:        sampler,
		Scheduler:      scheduler,
		Steps:          steps,
		CFG:            cfg,
		Seed:           seed,
		Size:           models.SizePreset(size),
		PositivePrompt: positivePrompt,
		NegativePrompt: negativePrompt,
		Adapters:       adapters,
		CreatedAt:      millisToTime(createdAt),
	}

	if backendPromptID.Valid {
		job.BackendPromptID = backendPromptID.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if outputImages.Valid {
		var images []string
		if err := json.Unmarshal([]byte(outputImages.String), &images); err != nil {
			return nil, fmt.Errorf("failed to deserialize output images: %w", err)
		}
		if images == nil {
			images = []string{}
		}
		job.OutputImages = images
	}
	if startedAt.Valid {
		job.StartedAt = millisToTime(startedAt.Int64)
	}
	if completedAt.Valid {
		job.CompletedAt = millisToTime(completedAt.Int64)
	}

	return job, nil
}
