package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/pictor/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// JobStorage - interface for render job persistence
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// Lifecycle transitions. Each writes the status together with the
	// timestamp the status implies.
	MarkRunning(ctx context.Context, id string) error
	SetBackendPromptID(ctx context.Context, id string, promptID string) error
	MarkCompleted(ctx context.Context, id string, outputImages []string) error
	MarkFailed(ctx context.Context, id string, message string) error
	MarkCancelled(ctx context.Context, id string, message string) error

	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	CountQueuedBefore(ctx context.Context, createdAt time.Time, id string) (int, error)
	LatestCompletedForUser(ctx context.Context, requesterID string) (*models.Job, error)
}

// UpscaleJobStorage - interface for upscale job persistence
type UpscaleJobStorage interface {
	SaveJob(ctx context.Context, job *models.UpscaleJob) error
	GetJob(ctx context.Context, id string) (*models.UpscaleJob, error)

	MarkRunning(ctx context.Context, id string) error
	SetBackendPromptID(ctx context.Context, id string, promptID string) error
	MarkCompleted(ctx context.Context, id string, outputImages []string) error
	MarkFailed(ctx context.Context, id string, message string) error
	MarkCancelled(ctx context.Context, id string, message string) error

	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.UpscaleJob, error)
}

// BannedWordStorage - interface for content guard entries
type BannedWordStorage interface {
	// Add stores word lowercased; returns false when it already existed
	Add(ctx context.Context, word string, partial bool, addedBy string) (bool, error)
	// Remove returns false when no such word was stored
	Remove(ctx context.Context, word string) (bool, error)
	List(ctx context.Context) ([]*models.BannedWord, error)
}

// TriggerWordStorage - interface for the adapter trigger-word cache
type TriggerWordStorage interface {
	Get(ctx context.Context, filename string) (*models.TriggerWordEntry, error)
	Put(ctx context.Context, entry *models.TriggerWordEntry) error
	Delete(ctx context.Context, filename string) error
}

// StorageManager provides access to all storage implementations and
// owns the underlying connections.
type StorageManager interface {
	JobStorage() JobStorage
	UpscaleStorage() UpscaleJobStorage
	BannedWordStorage() BannedWordStorage
	TriggerWordStorage() TriggerWordStorage

	// PurgeOlderThan deletes terminal job and upscale rows created
	// before cutoff in a single transaction and returns the per-table
	// counts. Queued and running rows are never touched.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (jobs int, upscales int, err error)

	Close() error
}
