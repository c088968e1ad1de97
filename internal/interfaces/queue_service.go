package interfaces

import "context"

// QueueService - interface for the FIFO job queue and its runner.
// One job executes at a time; completion wakes the next entry.
type QueueService interface {
	// Start launches the runner and re-enqueues jobs that were still
	// queued when the process last stopped
	Start(ctx context.Context) error

	// Stop cancels the running job through the runner context; queued
	// entries stay persisted for the next boot's recovery sweep
	Stop()

	// EnqueueRender appends a persisted render job and returns its
	// 1-based queue position. The interaction token may be empty.
	EnqueueRender(ctx context.Context, jobID string, interactionToken string) (int, error)

	// EnqueueUpscale appends a persisted upscale job
	EnqueueUpscale(ctx context.Context, jobID string, interactionToken string) (int, error)

	// Cancel removes a still-queued entry and marks the row cancelled.
	// Returns false when the job already left the queue.
	Cancel(ctx context.Context, jobID string, requesterID string) (bool, error)

	// Depth returns the number of waiting entries
	Depth() int

	// IsProcessing reports whether a job currently occupies the slot
	IsProcessing() bool
}
