package interfaces

import (
	"context"

	"github.com/ternarybob/pictor/internal/models"
)

// CatalogService - interface for the resolved render option lists
type CatalogService interface {
	// Refresh re-reads the backend node registry. Called once at boot;
	// a failure there is fatal.
	Refresh(ctx context.Context) error

	// Catalog returns the current option lists. Never nil after a
	// successful Refresh.
	Catalog() *models.Catalog
}
