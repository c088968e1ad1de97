package interfaces

import (
	"context"

	"github.com/ternarybob/pictor/internal/models"
)

// GuardService - interface for the banned word content guard
type GuardService interface {
	// Check scans the given texts and returns the distinct banned
	// words that matched, in their stored form
	Check(ctx context.Context, texts ...string) ([]string, error)

	// Add stores a new entry and invalidates the match cache.
	// Returns false when the word was already present.
	Add(ctx context.Context, word string, partial bool, addedBy string) (bool, error)

	// Remove deletes an entry and invalidates the match cache.
	// Returns false when the word was not present.
	Remove(ctx context.Context, word string) (bool, error)

	// List returns all entries ordered by word
	List(ctx context.Context) ([]*models.BannedWord, error)
}
