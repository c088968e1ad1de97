package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

type fixedCatalog struct {
	catalog *models.Catalog
}

func (f *fixedCatalog) Refresh(ctx context.Context) error { return nil }
func (f *fixedCatalog) Catalog() *models.Catalog          { return f.catalog }

func newTestStore(catalog *models.Catalog) interfaces.SessionService {
	return NewStore(&fixedCatalog{catalog: catalog}, arbor.NewLogger())
}

func fullCatalog() *models.Catalog {
	return &models.Catalog{
		Models:     []string{"base-v1.safetensors", "base-v2.safetensors"},
		Samplers:   []string{"euler", "dpmpp_2m_sde", "ddim"},
		Schedulers: []string{"normal", "karras"},
		Adapters:   []string{"glow.safetensors"},
	}
}

func TestInit_SeedsCatalogDefaults(t *testing.T) {
	store := newTestStore(fullCatalog())

	draft := store.Init("user-1", "chan-1")

	assert.Equal(t, "user-1", draft.UserID)
	assert.Equal(t, "chan-1", draft.ChannelID)
	assert.Equal(t, "base-v1.safetensors", draft.Model)
	assert.Equal(t, "dpmpp_2m_sde", draft.Sampler)
	assert.Equal(t, "karras", draft.Scheduler)
	assert.Equal(t, 28, draft.Steps)
	assert.Equal(t, 5.0, draft.CFG)
	assert.Equal(t, "", draft.SeedText)
	assert.Equal(t, models.SizePortrait, draft.Size)
	assert.Empty(t, draft.Adapters)
	assert.False(t, draft.UpdatedAt.IsZero())
}

func TestInit_FallsBackToFirstCatalogEntry(t *testing.T) {
	store := newTestStore(&models.Catalog{
		Models:     []string{"only-model.safetensors"},
		Samplers:   []string{"euler", "heun"},
		Schedulers: []string{"exponential", "sgm_uniform"},
	})

	draft := store.Init("user-1", "chan-1")

	assert.Equal(t, "euler", draft.Sampler)
	assert.Equal(t, "exponential", draft.Scheduler)
}

func TestInit_EmptyCatalogLeavesSelectionsBlank(t *testing.T) {
	store := newTestStore(&models.Catalog{})

	draft := store.Init("user-1", "chan-1")

	assert.Equal(t, "", draft.Model)
	assert.Equal(t, "", draft.Sampler)
	assert.Equal(t, "", draft.Scheduler)
}

func TestInit_ReplacesExistingDraft(t *testing.T) {
	store := newTestStore(fullCatalog())

	store.Init("user-1", "chan-1")
	err := store.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "a lighthouse at dusk"
		return nil
	})
	require.NoError(t, err)

	store.Init("user-1", "chan-2")

	draft, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, "", draft.PositivePrompt)
	assert.Equal(t, "chan-2", draft.ChannelID)
}

func TestInitFromJob_PrefillsJobSettings(t *testing.T) {
	store := newTestStore(fullCatalog())

	job := &models.Job{
		ID:             "job_1",
		RequesterID:    "user-1",
		ChannelID:      "chan-1",
		Model:          "base-v2.safetensors",
		Sampler:        "ddim",
		Scheduler:      "normal",
		Steps:          40,
		CFG:            7.5,
		Seed:           424242,
		Size:           models.SizeLandscape,
		PositivePrompt: "a lighthouse",
		NegativePrompt: "blurry",
		Adapters: []models.AdapterSlot{
			{Name: "glow.safetensors", Strength: 0.8},
		},
	}

	draft := store.InitFromJob("user-1", job)

	assert.Equal(t, "base-v2.safetensors", draft.Model)
	assert.Equal(t, "ddim", draft.Sampler)
	assert.Equal(t, "normal", draft.Scheduler)
	assert.Equal(t, 40, draft.Steps)
	assert.Equal(t, 7.5, draft.CFG)
	assert.Equal(t, models.SizeLandscape, draft.Size)
	assert.Equal(t, "a lighthouse", draft.PositivePrompt)
	assert.Equal(t, "blurry", draft.NegativePrompt)
	require.Len(t, draft.Adapters, 1)
	assert.Equal(t, "glow.safetensors", draft.Adapters[0].Name)

	// the previous seed is not carried over; rerunning draws a fresh one
	assert.Equal(t, "", draft.SeedText)
}

func TestGet_MissingDraft(t *testing.T) {
	store := newTestStore(fullCatalog())

	_, err := store.Get("nobody")
	assert.ErrorIs(t, err, interfaces.ErrDraftNotFound)
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	store := newTestStore(fullCatalog())
	store.Init("user-1", "chan-1")

	first, err := store.Get("user-1")
	require.NoError(t, err)
	first.PositivePrompt = "scribbled on the copy"
	first.Adapters = append(first.Adapters, models.AdapterSlot{Name: "x", Strength: 1})

	second, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, "", second.PositivePrompt)
	assert.Empty(t, second.Adapters)
}

func TestUpdate_AppliesMutationAndStampsTime(t *testing.T) {
	store := newTestStore(fullCatalog())
	store.Init("user-1", "chan-1")

	err := store.Update("user-1", func(d *models.Draft) error {
		d.Steps = 50
		d.UpdatedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)

	draft, err := store.Get("user-1")
	require.NoError(t, err)
	assert.Equal(t, 50, draft.Steps)
	// the store stamps UpdatedAt after fn runs
	assert.False(t, draft.UpdatedAt.IsZero())
}

func TestUpdate_MissingDraft(t *testing.T) {
	store := newTestStore(fullCatalog())

	err := store.Update("nobody", func(d *models.Draft) error { return nil })
	assert.ErrorIs(t, err, interfaces.ErrDraftNotFound)
}

func TestUpdate_ErrorFromFnPropagates(t *testing.T) {
	store := newTestStore(fullCatalog())
	store.Init("user-1", "chan-1")

	boom := errors.New("rejected")
	err := store.Update("user-1", func(d *models.Draft) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestClear_RemovesDraft(t *testing.T) {
	store := newTestStore(fullCatalog())
	store.Init("user-1", "chan-1")

	store.Clear("user-1")

	_, err := store.Get("user-1")
	assert.ErrorIs(t, err, interfaces.ErrDraftNotFound)

	// clearing an absent draft is a no-op
	store.Clear("user-1")
}
