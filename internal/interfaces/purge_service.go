package interfaces

import (
	"context"
	"time"
)

// PurgeService - interface for the retention sweep scheduler
type PurgeService interface {
	// Start schedules the recurring sweep plus a first run shortly
	// after boot
	Start() error

	// Stop halts the schedule; an in-flight sweep finishes
	Stop()

	// RunNow executes one sweep with the given retention window and
	// returns the deleted (jobs, upscales) counts. Used by the owner
	// command; a zero maxAge means the configured window.
	RunNow(ctx context.Context, maxAge time.Duration) (int, int, error)

	// LastRun returns when the last sweep finished and what it deleted
	LastRun() (time.Time, int, int)
}
