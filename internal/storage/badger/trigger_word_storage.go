package badger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TriggerWordStorage implements the trigger-word cache on Badger.
// Entries survive restarts; freshness is judged by the caller against
// each entry's CachedAt.
type TriggerWordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTriggerWordStorage creates a new trigger-word cache instance
func NewTriggerWordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TriggerWordStorage {
	return &TriggerWordStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey lowercases filenames for case-insensitive cache hits
func (s *TriggerWordStorage) normalizeKey(filename string) string {
	return strings.ToLower(strings.TrimSpace(filename))
}

// Get retrieves a cache entry by adapter filename
func (s *TriggerWordStorage) Get(ctx context.Context, filename string) (*models.TriggerWordEntry, error) {
	key := s.normalizeKey(filename)
	var entry models.TriggerWordEntry
	err := s.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger words: %w", err)
	}
	return &entry, nil
}

// Put stores a cache entry, replacing any previous one
func (s *TriggerWordStorage) Put(ctx context.Context, entry *models.TriggerWordEntry) error {
	key := s.normalizeKey(entry.Filename)
	stored := *entry
	stored.Filename = key

	if err := s.db.Store().Upsert(key, &stored); err != nil {
		return fmt.Errorf("failed to store trigger words: %w", err)
	}

	s.logger.Debug().
		Str("adapter", key).
		Int("words", len(stored.Words)).
		Msg("Trigger words cached")
	return nil
}

// Delete removes a cache entry
func (s *TriggerWordStorage) Delete(ctx context.Context, filename string) error {
	key := s.normalizeKey(filename)
	err := s.db.Store().Delete(key, &models.TriggerWordEntry{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete trigger words: %w", err)
	}
	return nil
}
