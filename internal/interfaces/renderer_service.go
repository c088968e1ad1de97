package interfaces

import (
	"context"

	"github.com/ternarybob/pictor/internal/models"
)

// RendererClient - interface for the local image generation backend.
// Implementations classify failures as unreachable (transport),
// protocol (non-2xx), or shape (undecodable body) and never retry.
type RendererClient interface {
	// Ping reports backend reachability without error detail
	Ping(ctx context.Context) bool

	// ObjectInfo returns the backend's node registry
	ObjectInfo(ctx context.Context) (map[string]*models.NodeSchema, error)

	// Submit queues a bound graph and returns the backend prompt id
	Submit(ctx context.Context, graph models.Graph) (string, error)

	// History returns the execution record for a prompt id, or
	// (nil, nil) while the backend has nothing for it yet
	History(ctx context.Context, promptID string) (*models.HistoryEntry, error)

	// FetchImage downloads one produced image
	FetchImage(ctx context.Context, ref models.ImageRef) ([]byte, error)

	// UploadImage stores an image on the backend for use as a workflow
	// input. The returned name wins over the submitted filename.
	UploadImage(ctx context.Context, filename string, data []byte) (*models.UploadedImage, error)

	// AdapterFileHash returns the sha256 recorded in an adapter's
	// sidecar metadata, or "" when none is recorded
	AdapterFileHash(ctx context.Context, filename string) (string, error)

	// LocalTriggerWords asks the backend's adapter manager plugin for
	// trigger words. Words arriving comma-joined are split and trimmed.
	LocalTriggerWords(ctx context.Context, filename string) ([]string, error)
}
