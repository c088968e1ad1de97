package interfaces

import "context"

// MetadataService - interface for adapter trigger-word resolution.
// Lookups consult the cache, the backend's adapter manager plugin, and
// the model registry in that order. Transient failures surface as an
// empty list and are never cached.
type MetadataService interface {
	TriggerWords(ctx context.Context, adapterFilename string) []string
}
