package metadata

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/services/renderer"
)

// cacheTTL is how long a resolved trigger-word set stays authoritative.
// Adapter files do not change in place, so a day is generous.
const cacheTTL = 24 * time.Hour

// lookupTimeout bounds a full resolution attempt across all sources
const lookupTimeout = 10 * time.Second

// versionSuffix matches trailing version markers like "-v1.5" or "_V2"
// on adapter filename stems
var versionSuffix = regexp.MustCompile(`(?i)[-_. ]v[0-9]+(\.[0-9]+)*$`)

type registryClient interface {
	TrainedWordsByHash(ctx context.Context, hash string) ([]string, error)
	SearchTrainedWords(ctx context.Context, query string) ([]string, error)
}

type service struct {
	storage  interfaces.TriggerWordStorage
	renderer interfaces.RendererClient
	registry registryClient
	logger   arbor.ILogger
}

// NewService creates the trigger-word resolver. The registry client is
// consulted only when the cache and the backend's local sources fail.
func NewService(storage interfaces.TriggerWordStorage, rendererClient interfaces.RendererClient, registry registryClient, logger arbor.ILogger) interfaces.MetadataService {
	return &service{
		storage:  storage,
		renderer: rendererClient,
		registry: registry,
		logger:   logger,
	}
}

// TriggerWords resolves the trigger words for an adapter file. The
// result is best-effort: every failure path degrades to an empty list
// so a metadata outage never blocks a render.
func (s *service) TriggerWords(ctx context.Context, adapterFilename string) []string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	if entry, err := s.storage.Get(ctx, adapterFilename); err == nil && entry.Fresh(cacheTTL) {
		return entry.Words
	}

	if words, err := s.renderer.LocalTriggerWords(ctx, adapterFilename); err == nil && len(words) > 0 {
		return s.cache(ctx, adapterFilename, flatten(words))
	}

	hash, err := s.renderer.AdapterFileHash(ctx, adapterFilename)
	if err != nil {
		s.logger.Debug().Str("adapter", adapterFilename).Err(err).Msg("Adapter hash unavailable")
	}
	if hash != "" {
		words, err := s.registry.TrainedWordsByHash(ctx, hash)
		if err != nil {
			// Transient: answer empty now, retry on the next lookup
			s.logger.Debug().Str("adapter", adapterFilename).Err(err).Msg("Registry hash lookup failed")
			return nil
		}
		// Definitive, including a definitive "registry does not know it"
		return s.cache(ctx, adapterFilename, flatten(words))
	}

	stem := filenameStem(adapterFilename)
	for _, query := range searchQueries(stem) {
		words, err := s.registry.SearchTrainedWords(ctx, query)
		if err != nil {
			s.logger.Debug().Str("adapter", adapterFilename).Str("query", query).Err(err).Msg("Registry search failed")
			return nil
		}
		if len(words) > 0 {
			return s.cache(ctx, adapterFilename, flatten(words))
		}
	}

	// Both searches came back definitively empty
	return s.cache(ctx, adapterFilename, nil)
}

// cache writes a definitive result, empty included, and returns it
func (s *service) cache(ctx context.Context, filename string, words []string) []string {
	entry := &models.TriggerWordEntry{
		Filename: filename,
		Words:    words,
		CachedAt: time.Now(),
	}
	if err := s.storage.Put(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Str("adapter", filename).Err(err).Msg("Failed to cache trigger words")
	}
	return words
}

// flatten splits comma-packed word entries and deduplicates,
// preserving first-seen order
func flatten(raw []string) []string {
	var words []string
	seen := make(map[string]bool)
	for _, word := range renderer.SplitTriggerWords(raw) {
		key := strings.ToLower(word)
		if seen[key] {
			continue
		}
		seen[key] = true
		words = append(words, word)
	}
	return words
}

func filenameStem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// searchQueries returns the raw stem followed by a normalised form
// with the version suffix dropped and separators spaced out
func searchQueries(stem string) []string {
	queries := []string{stem}
	normalized := versionSuffix.ReplaceAllString(stem, "")
	normalized = strings.Join(strings.FieldsFunc(normalized, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	}), " ")
	normalized = strings.TrimSpace(normalized)
	if normalized != "" && normalized != stem {
		queries = append(queries, normalized)
	}
	return queries
}
