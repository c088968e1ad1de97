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

const upscaleColumns = `id, requester_id, guild_id, channel_id, status, source_job_id, source_image,
	       positive_prompt, negative_prompt, upscale_model, workflow,
	       backend_prompt_id, output_images, error_message, created_at, started_at, completed_at`

// UpscaleStorage implements SQLite storage for upscale jobs
type UpscaleStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewUpscaleStorage creates a new upscale job storage instance
func NewUpscaleStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.UpscaleJobStorage {
	return &UpscaleStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob inserts a new upscale row
func (s *UpscaleStorage) SaveJob(ctx context.Context, job *models.UpscaleJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outputImages sql.NullString
	if job.OutputImages != nil {
		data, err := json.Marshal(job.OutputImages)
		if err != nil {
			return fmt.Errorf("failed to serialize output images: %w", err)
		}
		outputImages = sql.NullString{Valid: true, String: string(data)}
	}

	query := `
		INSERT INTO upscale_jobs (
			id, requester_id, guild_id, channel_id, status, source_job_id, source_image,
			positive_prompt, negative_prompt, upscale_model, workflow,
			backend_prompt_id, output_images, error_message, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.db.ExecContext(ctx, query,
		job.ID,
		job.RequesterID,
		job.GuildID,
		job.ChannelID,
		string(job.Status),
		job.SourceJobID,
		job.SourceImage,
		job.PositivePrompt,
		job.NegativePrompt,
		job.UpscaleModel,
		string(job.Workflow),
		nullString(job.BackendPromptID),
		outputImages,
		nullString(job.ErrorMessage),
		job.CreatedAt.UnixMilli(),
		nullMillis(job.StartedAt),
		nullMillis(job.CompletedAt),
	)

	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save upscale job")
		return fmt.Errorf("failed to save upscale job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Upscale job saved")
	return nil
}

// GetJob retrieves an upscale job by ID
func (s *UpscaleStorage) GetJob(ctx context.Context, id string) (*models.UpscaleJob, error) {
	query := `SELECT ` + upscaleColumns + ` FROM upscale_jobs WHERE id = ?`
	row := s.db.db.QueryRowContext(ctx, query, id)
	return scanUpscaleJob(row.Scan)
}

// MarkRunning moves a queued upscale to running and stamps started_at
func (s *UpscaleStorage) MarkRunning(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx,
		`UPDATE upscale_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(models.JobStatusRunning), time.Now().UnixMilli(), id, string(models.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("failed to mark upscale job running: %w", err)
	}
	return requireRow(result, id)
}

// SetBackendPromptID records the backend's prompt id after submission
func (s *UpscaleStorage) SetBackendPromptID(ctx context.Context, id string, promptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx,
		`UPDATE upscale_jobs SET backend_prompt_id = ? WHERE id = ?`, promptID, id)
	if err != nil {
		return fmt.Errorf("failed to set backend prompt id: %w", err)
	}
	return requireRow(result, id)
}

// MarkCompleted finalizes an upscale with its output images
func (s *UpscaleStorage) MarkCompleted(ctx context.Context, id string, outputImages []string) error {
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
		`UPDATE upscale_jobs SET status = ?, completed_at = ?, output_images = ? WHERE id = ?`,
		string(models.JobStatusCompleted), time.Now().UnixMilli(), string(data), id)
	if err != nil {
		return fmt.Errorf("failed to mark upscale job completed: %w", err)
	}
	return requireRow(result, id)
}

// MarkFailed finalizes an upscale with an error message
func (s *UpscaleStorage) MarkFailed(ctx context.Context, id string, message string) error {
	return s.finalize(ctx, id, models.JobStatusFailed, message)
}

// MarkCancelled finalizes an upscale as cancelled
func (s *UpscaleStorage) MarkCancelled(ctx context.Context, id string, message string) error {
	return s.finalize(ctx, id, models.JobStatusCancelled, message)
}

func (s *UpscaleStorage) finalize(ctx context.Context, id string, status models.JobStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.db.ExecContext(ctx,
		`UPDATE upscale_jobs SET status = ?, completed_at = ?, error_message = ? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), nullString(message), id)
	if err != nil {
		return fmt.Errorf("failed to mark upscale job %s: %w", status, err)
	}
	return requireRow(result, id)
}

// ListByStatus returns upscale jobs in a given status, oldest first
func (s *UpscaleStorage) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.UpscaleJob, error) {
	query := `SELECT ` + upscaleColumns + ` FROM upscale_jobs WHERE status = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list upscale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.UpscaleJob
	for rows.Next() {
		job, err := scanUpscaleJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanUpscaleJob reads one upscale row through the given scan function
func scanUpscaleJob(scan func(...any) error) (*models.UpscaleJob, error) {
	var (
		id, requesterID, guildID, channelID, status string
		sourceJobID, sourceImage                    string
		positivePrompt, negativePrompt              string
		upscaleModel, workflow                      string
		backendPromptID, outputImages, errorMessage sql.NullString
		createdAt                                   int64
		startedAt, completedAt                      sql.NullInt64
	)

	err := scan(
		&id, &requesterID, &guildID, &channelID, &status, &sourceJobID, &sourceImage,
		&positivePrompt, &negativePrompt, &upscaleModel, &workflow,
		&backendPromptID, &outputImages, &errorMessage, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan upscale job: %w", err)
	}

	job := &models.UpscaleJob{
		ID:             id,
		RequesterID:    requesterID,
		GuildID:        guildID,
		ChannelID:      channelID,
		Status:         models.JobStatus(status),
		SourceJobID:    sourceJobID,
		SourceImage:    sourceImage,
		PositivePrompt: positivePrompt,
		NegativePrompt: negativePrompt,
		UpscaleModel:   upscaleModel,
		Workflow:       models.UpscaleWorkflow(workflow),
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
