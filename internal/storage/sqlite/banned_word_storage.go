package sqlite

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// BannedWordStorage implements SQLite storage for content guard entries
type BannedWordStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewBannedWordStorage creates a new banned word storage instance
func NewBannedWordStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.BannedWordStorage {
	return &BannedWordStorage{
		db:     db,
		logger: logger,
	}
}

// Add stores a banned word, lowercased. Returns false when the word was
// already present; the partial flag is updated either way.
func (s *BannedWordStorage) Add(ctx context.Context, word string, partial bool, addedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := strings.ToLower(strings.TrimSpace(word))
	if normalized == "" {
		return false, fmt.Errorf("banned word must not be empty")
	}

	var existing int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM banned_words WHERE word = ?`, normalized).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to check banned word: %w", err)
	}

	partialInt := 0
	if partial {
		partialInt = 1
	}

	query := `
		INSERT INTO banned_words (word, partial, added_by, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(word) DO UPDATE SET partial = excluded.partial
	`
	_, err = s.db.db.ExecContext(ctx, query, normalized, partialInt, addedBy, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to add banned word: %w", err)
	}

	s.logger.Debug().Str("word", normalized).Bool("partial", partial).Msg("Banned word stored")
	return existing == 0, nil
}

// Remove deletes a banned word. Returns false when it was not present.
func (s *BannedWordStorage) Remove(ctx context.Context, word string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := strings.ToLower(strings.TrimSpace(word))
	result, err := s.db.db.ExecContext(ctx, `DELETE FROM banned_words WHERE word = ?`, normalized)
	if err != nil {
		return false, fmt.Errorf("failed to remove banned word: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// List returns all banned words ordered alphabetically
func (s *BannedWordStorage) List(ctx context.Context) ([]*models.BannedWord, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT word, partial, added_by, added_at FROM banned_words ORDER BY word ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list banned words: %w", err)
	}
	defer rows.Close()

	var words []*models.BannedWord
	for rows.Next() {
		var (
			word, addedBy string
			partial       int
			addedAt       int64
		)
		if err := rows.Scan(&word, &partial, &addedBy, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan banned word: %w", err)
		}
		words = append(words, &models.BannedWord{
			Word:    word,
			Partial: partial != 0,
			AddedBy: addedBy,
			AddedAt: millisToTime(addedAt),
		})
	}
	return words, rows.Err()
}
