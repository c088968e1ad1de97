package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestBannedWordStorage_AddNormalizes(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewBannedWordStorage(db, arbor.NewLogger())
	ctx := context.Background()

	added, err := storage.Add(ctx, "  BadWord  ", false, "owner-1")
	require.NoError(t, err)
	assert.True(t, added)

	words, err := storage.List(ctx)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "badword", words[0].Word)
	assert.False(t, words[0].Partial)
	assert.Equal(t, "owner-1", words[0].AddedBy)
	assert.False(t, words[0].AddedAt.IsZero())
}

func TestBannedWordStorage_ReAddUpdatesMatchMode(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewBannedWordStorage(db, arbor.NewLogger())
	ctx := context.Background()

	added, err := storage.Add(ctx, "badword", false, "owner-1")
	require.NoError(t, err)
	assert.True(t, added)

	// Re-adding reports not-new but flips the match mode
	added, err = storage.Add(ctx, "BADWORD", true, "owner-1")
	require.NoError(t, err)
	assert.False(t, added)

	words, err := storage.List(ctx)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.True(t, words[0].Partial)
}

func TestBannedWordStorage_AddEmpty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewBannedWordStorage(db, arbor.NewLogger())
	_, err := storage.Add(context.Background(), "   ", false, "owner-1")
	assert.Error(t, err)
}

func TestBannedWordStorage_Remove(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewBannedWordStorage(db, arbor.NewLogger())
	ctx := context.Background()

	_, err := storage.Add(ctx, "badword", false, "owner-1")
	require.NoError(t, err)

	removed, err := storage.Remove(ctx, " BadWord ")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = storage.Remove(ctx, "badword")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestBannedWordStorage_ListSorted(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewBannedWordStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for _, word := range []string{"cherry", "apple", "banana"} {
		_, err := storage.Add(ctx, word, false, "owner-1")
		require.NoError(t, err)
	}

	words, err := storage.List(ctx)
	require.NoError(t, err)
	require.Len(t, words, 3)
	assert.Equal(t, "apple", words[0].Word)
	assert.Equal(t, "banana", words[1].Word)
	assert.Equal(t, "cherry", words[2].Word)
}
