package interfaces

import (
	"errors"

	"github.com/ternarybob/pictor/internal/models"
)

// ErrDraftNotFound is returned when a user has no active draft,
// typically because the form expired or the process restarted
var ErrDraftNotFound = errors.New("draft not found")

// SessionService - interface for per-user draft state
type SessionService interface {
	// Init creates a fresh draft seeded with catalog defaults,
	// replacing any existing draft for the user
	Init(userID, channelID string) *models.Draft

	// InitFromJob creates a draft prefilled from a previous job's
	// persisted settings
	InitFromJob(userID string, job *models.Job) *models.Draft

	// Get returns the user's draft or ErrDraftNotFound
	Get(userID string) (*models.Draft, error)

	// Update applies fn to the user's draft under the store lock.
	// Returns ErrDraftNotFound when there is no draft; an error from
	// fn aborts the update.
	Update(userID string, fn func(*models.Draft) error) error

	// Clear removes the user's draft
	Clear(userID string)
}
