package guard

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// cacheTTL bounds how stale the in-process word list may get when
// another process edits the table underneath us
const cacheTTL = 30 * time.Second

// matcher is one compiled banned-word entry
type matcher struct {
	entry   *models.BannedWord
	pattern *regexp.Regexp // nil for partial entries, which match by substring
}

type service struct {
	storage interfaces.BannedWordStorage
	logger  arbor.ILogger

	mu       sync.Mutex
	matchers []matcher
	loadedAt time.Time
}

// NewService creates a content guard over the banned word table
func NewService(storage interfaces.BannedWordStorage, logger arbor.ILogger) interfaces.GuardService {
	return &service{
		storage: storage,
		logger:  logger,
	}
}

// Check scans the given texts and returns the distinct banned words
// that matched, in their stored form
func (s *service) Check(ctx context.Context, texts ...string) ([]string, error) {
	matchers, err := s.currentMatchers(ctx)
	if err != nil {
		return nil, err
	}

	var matched []string
	seen := make(map[string]bool)
	for _, text := range texts {
		lowered := strings.ToLower(text)
		for _, m := range matchers {
			if seen[m.entry.Word] {
				continue
			}
			hit := false
			if m.pattern != nil {
				hit = m.pattern.MatchString(text)
			} else {
				hit = strings.Contains(lowered, m.entry.Word)
			}
			if hit {
				seen[m.entry.Word] = true
				matched = append(matched, m.entry.Word)
			}
		}
	}
	return matched, nil
}

// Add stores a new entry and invalidates the match cache
func (s *service) Add(ctx context.Context, word string, partial bool, addedBy string) (bool, error) {
	added, err := s.storage.Add(ctx, word, partial, addedBy)
	if err != nil {
		return false, err
	}
	s.invalidate()
	if added {
		s.logger.Info().Str("word", word).Bool("partial", partial).Str("added_by", addedBy).Msg("Banned word added")
	}
	return added, nil
}

// Remove deletes an entry and invalidates the match cache
func (s *service) Remove(ctx context.Context, word string) (bool, error) {
	removed, err := s.storage.Remove(ctx, word)
	if err != nil {
		return false, err
	}
	s.invalidate()
	if removed {
		s.logger.Info().Str("word", word).Msg("Banned word removed")
	}
	return removed, nil
}

// List returns all entries ordered by word
func (s *service) List(ctx context.Context) ([]*models.BannedWord, error) {
	return s.storage.List(ctx)
}

func (s *service) invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

// currentMatchers returns the compiled word list, reloading it from
// storage when the cache has expired
func (s *service) currentMatchers(ctx context.Context) ([]matcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loadedAt.IsZero() && time.Since(s.loadedAt) < cacheTTL {
		return s.matchers, nil
	}

	entries, err := s.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load banned words: %w", err)
	}

	matchers := make([]matcher, 0, len(entries))
	for _, entry := range entries {
		m := matcher{entry: entry}
		if !entry.Partial {
			pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(entry.Word) + `\b`)
			if err != nil {
				s.logger.Warn().Str("word", entry.Word).Err(err).Msg("Unusable banned word entry, skipping")
				continue
			}
			m.pattern = pattern
		}
		matchers = append(matchers, m)
	}

	s.matchers = matchers
	s.loadedAt = time.Now()
	return s.matchers, nil
}
