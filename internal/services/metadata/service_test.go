package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/storage/badger"
)

type fakeRenderer struct {
	mu         sync.Mutex
	local      []string
	localErr   error
	hash       string
	hashErr    error
	localCalls int
}

func (f *fakeRenderer) Ping(ctx context.Context) bool { return true }

func (f *fakeRenderer) ObjectInfo(ctx context.Context) (map[string]*models.NodeSchema, error) {
	return nil, nil
}

func (f *fakeRenderer) Submit(ctx context.Context, graph models.Graph) (string, error) {
	return "", nil
}

func (f *fakeRenderer) History(ctx context.Context, promptID string) (*models.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeRenderer) FetchImage(ctx context.Context, ref models.ImageRef) ([]byte, error) {
	return nil, nil
}

func (f *fakeRenderer) UploadImage(ctx context.Context, filename string, data []byte) (*models.UploadedImage, error) {
	return nil, nil
}

func (f *fakeRenderer) AdapterFileHash(ctx context.Context, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hash, f.hashErr
}

func (f *fakeRenderer) LocalTriggerWords(ctx context.Context, filename string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localCalls++
	return f.local, f.localErr
}

func (f *fakeRenderer) localCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localCalls
}

type fakeRegistry struct {
	mu          sync.Mutex
	byHash      map[string][]string
	hashErr     error
	search      map[string][]string
	searchErr   error
	hashCalls   int
	queries     []string
	sawDeadline bool
}

func (f *fakeRegistry) TrainedWordsByHash(ctx context.Context, hash string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashCalls++
	if _, ok := ctx.Deadline(); ok {
		f.sawDeadline = true
	}
	if f.hashErr != nil {
		return nil, f.hashErr
	}
	return f.byHash[hash], nil
}

func (f *fakeRegistry) SearchTrainedWords(ctx context.Context, query string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.search[query], nil
}

func (f *fakeRegistry) hashCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashCalls
}

func (f *fakeRegistry) seenQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	copy(out, f.queries)
	return out
}

type fixture struct {
	svc      interfaces.MetadataService
	storage  interfaces.TriggerWordStorage
	renderer *fakeRenderer
	registry *fakeRegistry
}

func setupMetadata(t *testing.T) (*fixture, func()) {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)

	f := &fixture{
		storage:  badger.NewTriggerWordStorage(db, logger),
		renderer: &fakeRenderer{},
		registry: &fakeRegistry{},
	}
	f.svc = NewService(f.storage, f.renderer, f.registry, logger)

	return f, func() { db.Close() }
}

func TestTriggerWords_FreshCacheWins(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, f.storage.Put(ctx, &models.TriggerWordEntry{
		Filename: "glow.safetensors",
		Words:    []string{"neon glow"},
		CachedAt: time.Now(),
	}))
	f.renderer.local = []string{"should not be consulted"}

	words := f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Equal(t, []string{"neon glow"}, words)
	assert.Equal(t, 0, f.renderer.localCallCount())
}

func TestTriggerWords_StaleCacheIsRefreshed(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, f.storage.Put(ctx, &models.TriggerWordEntry{
		Filename: "glow.safetensors",
		Words:    []string{"old words"},
		CachedAt: time.Now().Add(-25 * time.Hour),
	}))
	f.renderer.local = []string{"fresh words"}

	words := f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Equal(t, []string{"fresh words"}, words)

	entry, err := f.storage.Get(ctx, "glow.safetensors")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh words"}, entry.Words)
}

func TestTriggerWords_LocalSourceFlattensAndCaches(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	// comma-packed entries split apart; repeats collapse case-insensitively
	f.renderer.local = []string{"neon glow, radiant", "Radiant", "film grain"}

	words := f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Equal(t, []string{"neon glow", "radiant", "film grain"}, words)

	entry, err := f.storage.Get(ctx, "glow.safetensors")
	require.NoError(t, err)
	assert.Equal(t, []string{"neon glow", "radiant", "film grain"}, entry.Words)

	// local sources answered, so the registry was never consulted
	assert.Equal(t, 0, f.registry.hashCallCount())
	assert.Empty(t, f.registry.seenQueries())
}

func TestTriggerWords_HashLookupIsDefinitive(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	f.renderer.hash = "abc123"
	f.registry.byHash = map[string][]string{"abc123": {"trigger one"}}

	words := f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Equal(t, []string{"trigger one"}, words)

	// a definitive answer is served from the cache afterwards
	words = f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Equal(t, []string{"trigger one"}, words)
	assert.Equal(t, 1, f.registry.hashCallCount())
	assert.True(t, f.registry.sawDeadline)
}

func TestTriggerWords_DefinitiveEmptyIsCached(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	// the registry knows the hash and reports no trained words
	f.renderer.hash = "abc123"
	f.registry.byHash = map[string][]string{}

	words := f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Empty(t, words)

	entry, err := f.storage.Get(ctx, "glow.safetensors")
	require.NoError(t, err)
	assert.Empty(t, entry.Words)

	// the empty answer is cached, not retried
	f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Equal(t, 1, f.registry.hashCallCount())
}

func TestTriggerWords_TransientFailureIsNotCached(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	f.renderer.hash = "abc123"
	f.registry.hashErr = errors.New("rate limited")

	words := f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Empty(t, words)

	_, err := f.storage.Get(ctx, "glow.safetensors")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// the next lookup tries again
	f.registry.mu.Lock()
	f.registry.hashErr = nil
	f.registry.byHash = map[string][]string{"abc123": {"recovered"}}
	f.registry.mu.Unlock()

	words = f.svc.TriggerWords(ctx, "glow.safetensors")
	assert.Equal(t, []string{"recovered"}, words)
	assert.Equal(t, 2, f.registry.hashCallCount())
}

func TestTriggerWords_SearchFallbackTriesNormalizedStem(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	// no local words and no hash; the raw stem finds nothing but the
	// normalized form does
	f.registry.search = map[string][]string{
		"Neon Glow": {"neon glow"},
	}

	words := f.svc.TriggerWords(ctx, "Neon-Glow_v1.5.safetensors")
	assert.Equal(t, []string{"neon glow"}, words)
	assert.Equal(t, []string{"Neon-Glow_v1.5", "Neon Glow"}, f.registry.seenQueries())

	entry, err := f.storage.Get(ctx, "Neon-Glow_v1.5.safetensors")
	require.NoError(t, err)
	assert.Equal(t, []string{"neon glow"}, entry.Words)
}

func TestTriggerWords_ExhaustedSearchCachesEmpty(t *testing.T) {
	f, cleanup := setupMetadata(t)
	defer cleanup()
	ctx := context.Background()

	words := f.svc.TriggerWords(ctx, "unknown.safetensors")
	assert.Empty(t, words)

	entry, err := f.storage.Get(ctx, "unknown.safetensors")
	require.NoError(t, err)
	assert.Empty(t, entry.Words)

	// cached; the registry is not searched again
	f.svc.TriggerWords(ctx, "unknown.safetensors")
	assert.Equal(t, []string{"unknown"}, f.registry.seenQueries())
}

func TestSearchQueries(t *testing.T) {
	tests := []struct {
		stem string
		want []string
	}{
		{"style-v2", []string{"style-v2", "style"}},
		{"Neon-Glow_v1.5", []string{"Neon-Glow_v1.5", "Neon Glow"}},
		{"dots.in.name", []string{"dots.in.name", "dots in name"}},
		{"plain", []string{"plain"}},
		{"V3", []string{"V3"}},
	}

	for _, tc := range tests {
		t.Run(tc.stem, func(t *testing.T) {
			assert.Equal(t, tc.want, searchQueries(tc.stem))
		})
	}
}

func TestFilenameStem(t *testing.T) {
	assert.Equal(t, "glow", filenameStem("glow.safetensors"))
	assert.Equal(t, "glow", filenameStem("subdir/glow.safetensors"))
	assert.Equal(t, "no-extension", filenameStem("no-extension"))
}
