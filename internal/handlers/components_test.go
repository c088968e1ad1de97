package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// findComponent locates a component by custom id across rows
func findComponent(rows []models.ActionRow, customID string) *models.Component {
	for _, row := range rows {
		for i := range row.Components {
			if row.Components[i].CustomID == customID {
				return &row.Components[i]
			}
		}
	}
	return nil
}

// embedField returns the value of a named embed field, or ""
func embedField(embed models.Embed, name string) string {
	for _, field := range embed.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}

func manyAdapters(n int) []string {
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("lora-%02d.safetensors", i))
	}
	return names
}

func TestFormSelect_AppliesChoices(t *testing.T) {
	tests := []struct {
		name     string
		customID string
		choice   string
		check    func(t *testing.T, d *models.Draft)
	}{
		{
			name: "model", customID: formModelSelect, choice: "model-b.safetensors",
			check: func(t *testing.T, d *models.Draft) { assert.Equal(t, "model-b.safetensors", d.Model) },
		},
		{
			name: "sampler", customID: formSamplerSelect, choice: "euler",
			check: func(t *testing.T, d *models.Draft) { assert.Equal(t, "euler", d.Sampler) },
		},
		{
			name: "scheduler", customID: formSchedulerSelect, choice: "normal",
			check: func(t *testing.T, d *models.Draft) { assert.Equal(t, "normal", d.Scheduler) },
		},
		{
			name: "size", customID: formSizeSelect, choice: "landscape",
			check: func(t *testing.T, d *models.Draft) { assert.Equal(t, models.SizeLandscape, d.Size) },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, cleanup := setupRouter(t)
			defer cleanup()
			f.session.Init("user-1", "chan-1")

			f.router.HandleInteraction(componentInteraction(tc.customID, "user-1", tc.choice))

			draft, err := f.session.Get("user-1")
			require.NoError(t, err)
			tc.check(t, draft)

			requireFormView(t, f.responder.lastResponse(), models.ResponseTypeUpdateMessage)
		})
	}
}

func TestFormSelect_RejectsChoicesOutsideCatalog(t *testing.T) {
	tests := []struct {
		name     string
		customID string
		choice   string
		want     string
	}{
		{"model", formModelSelect, "vanished.safetensors", "That model is not in the current catalog. The backend may have changed."},
		{"sampler", formSamplerSelect, "warp", "That sampler is not in the current catalog."},
		{"scheduler", formSchedulerSelect, "sometimes", "That scheduler is not in the current catalog."},
		{"size", formSizeSelect, "cinema", "That size is not offered."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, cleanup := setupRouter(t)
			defer cleanup()
			f.session.Init("user-1", "chan-1")

			f.router.HandleInteraction(componentInteraction(tc.customID, "user-1", tc.choice))

			requireEphemeralText(t, f.responder.lastResponse(), tc.want)

			draft, err := f.session.Get("user-1")
			require.NoError(t, err)
			assert.Equal(t, "model-a.safetensors", draft.Model)
		})
	}
}

func TestFormSelect_EmptySelectionIsIgnored(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formModelSelect, "user-1"))

	assert.Empty(t, f.responder.responses())
}

func TestFormSelect_WithoutDraft(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()

	f.router.HandleInteraction(componentInteraction(formModelSelect, "user-1", "model-b.safetensors"))

	requireEphemeralText(t, f.responder.lastResponse(), "That form has expired. Run /render to start a new one.")
}

func TestPromptsButton_OpensPrefilledModal(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	require.NoError(t, f.session.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "misty forest"
		return nil
	}))

	f.router.HandleInteraction(componentInteraction(formPromptsButton, "user-1"))

	resp := f.responder.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseTypeModal, resp.Type)
	require.NotNil(t, resp.Data)
	assert.Equal(t, modalPrompts, resp.Data.CustomID)
	assert.Equal(t, "misty forest", modalInputValue(resp, fieldPositive))
}

func TestParamsButton_OpensPrefilledModal(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formParamsButton, "user-1"))

	resp := f.responder.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseTypeModal, resp.Type)
	require.NotNil(t, resp.Data)
	assert.Equal(t, modalParams, resp.Data.CustomID)
	assert.Equal(t, "28", modalInputValue(resp, fieldSteps))
	assert.Equal(t, "5", modalInputValue(resp, fieldCFG))
}

func TestFormButtons_WithoutDraft(t *testing.T) {
	for _, customID := range []string{formPromptsButton, formParamsButton, formStrengthsButton, formBackButton} {
		t.Run(customID, func(t *testing.T) {
			f, cleanup := setupRouter(t)
			defer cleanup()

			f.router.HandleInteraction(componentInteraction(customID, "user-1"))

			requireEphemeralText(t, f.responder.lastResponse(), "That form has expired. Run /render to start a new one.")
		})
	}
}

func TestAdaptersButton_ShowsPicker(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formAdaptersButton, "user-1"))

	resp := f.responder.lastResponse()
	requireFormView(t, resp, models.ResponseTypeUpdateMessage)

	picker := findComponent(resp.Data.Components, formAdapterPickPrefix+"0")
	require.NotNil(t, picker)
	assert.Equal(t, models.ComponentTypeStringSelect, picker.Type)
	assert.Len(t, picker.Options, 5)

	// One page only: no navigation row, no strengths without selections
	assert.Nil(t, findComponent(resp.Data.Components, formAdapterPagePrefix+"here"))
	assert.Nil(t, findComponent(resp.Data.Components, formStrengthsButton))
	assert.NotNil(t, findComponent(resp.Data.Components, formBackButton))
	assert.NotNil(t, findComponent(resp.Data.Components, formGenerateButton))
}

func TestStrengthsButton_NeedsAdapters(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formStrengthsButton, "user-1"))

	requireEphemeralText(t, f.responder.lastResponse(), "Pick adapters first.")
}

func TestStrengthsButton_OpensModal(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	withAdapters(t, f, models.AdapterSlot{Name: "lora-a.safetensors", Strength: 0.8})

	f.router.HandleInteraction(componentInteraction(formStrengthsButton, "user-1"))

	resp := f.responder.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, models.ResponseTypeModal, resp.Type)
	require.NotNil(t, resp.Data)
	assert.Equal(t, modalStrengths, resp.Data.CustomID)
	assert.Equal(t, "0.8", modalInputValue(resp, strengthFieldPrefix+"0"))
}

func TestBackButton_ReturnsToMainForm(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formBackButton, "user-1"))

	resp := f.responder.lastResponse()
	requireFormView(t, resp, models.ResponseTypeUpdateMessage)
	assert.NotNil(t, findComponent(resp.Data.Components, formModelSelect))
	assert.NotNil(t, findComponent(resp.Data.Components, formGenerateButton))
}

func TestUnknownFormControl(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()

	f.router.HandleInteraction(componentInteraction("form:bogus", "user-1"))

	requireEphemeralText(t, f.responder.lastResponse(), "That control is no longer wired up.")
}

func TestAdapterPick_AddsSlotsAndResolvesWords(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	f.metadata.words["lora-a.safetensors"] = []string{"neon glow"}

	f.router.HandleInteraction(componentInteraction(formAdapterPickPrefix+"0", "user-1",
		"lora-a.safetensors", "lora-b.safetensors"))

	draft, err := f.session.Get("user-1")
	require.NoError(t, err)
	require.Len(t, draft.Adapters, 2)
	assert.Equal(t, "lora-a.safetensors", draft.Adapters[0].Name)
	assert.Equal(t, 1.0, draft.Adapters[0].Strength)
	assert.Equal(t, []string{"neon glow"}, draft.Adapters[0].TriggerWords)
	assert.Equal(t, "lora-b.safetensors", draft.Adapters[1].Name)
	assert.Empty(t, draft.Adapters[1].TriggerWords)

	// Acknowledged first, view refreshed through the webhook edit
	responses := f.responder.responses()
	require.Len(t, responses, 1)
	assert.Equal(t, models.ResponseTypeDeferredUpdate, responses[0].response.Type)

	edits := f.responder.editCalls()
	require.Len(t, edits, 1)
	require.NotEmpty(t, edits[0].edit.Embeds)
	adapterLines := embedField(edits[0].edit.Embeds[0], "Adapters")
	assert.Contains(t, adapterLines, "neon glow")
	assert.Contains(t, adapterLines, "lora-b.safetensors (1)")
}

func TestAdapterPick_PreservesExistingStrength(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	withAdapters(t, f, models.AdapterSlot{Name: "lora-a.safetensors", Strength: 0.5})

	f.router.HandleInteraction(componentInteraction(formAdapterPickPrefix+"0", "user-1",
		"lora-a.safetensors", "lora-b.safetensors"))

	draft, err := f.session.Get("user-1")
	require.NoError(t, err)
	require.Len(t, draft.Adapters, 2)
	assert.Equal(t, 0.5, draft.Adapters[0].Strength)
	assert.Equal(t, 1.0, draft.Adapters[1].Strength)
}

func TestAdapterPick_KeepsSlotsFromOtherPages(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.catalog.catalog.Adapters = manyAdapters(30)
	f.session.Init("user-1", "chan-1")
	withAdapters(t, f, models.AdapterSlot{Name: "lora-27.safetensors", Strength: 0.9})

	f.router.HandleInteraction(componentInteraction(formAdapterPickPrefix+"0", "user-1",
		"lora-03.safetensors"))

	draft, err := f.session.Get("user-1")
	require.NoError(t, err)
	require.Len(t, draft.Adapters, 2)
	assert.Equal(t, "lora-27.safetensors", draft.Adapters[0].Name)
	assert.Equal(t, 0.9, draft.Adapters[0].Strength)
	assert.Equal(t, "lora-03.safetensors", draft.Adapters[1].Name)
}

func TestAdapterPick_DeselectionClearsPageSlots(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	withAdapters(t, f,
		models.AdapterSlot{Name: "lora-a.safetensors", Strength: 1},
		models.AdapterSlot{Name: "lora-b.safetensors", Strength: 1})

	f.router.HandleInteraction(componentInteraction(formAdapterPickPrefix+"0", "user-1"))

	draft, err := f.session.Get("user-1")
	require.NoError(t, err)
	assert.Empty(t, draft.Adapters)
}

func TestAdapterPick_EnforcesSlotCap(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formAdapterPickPrefix+"0", "user-1",
		"lora-a.safetensors", "lora-b.safetensors", "lora-c.safetensors", "lora-d.safetensors", "lora-e.safetensors"))

	requireEphemeralText(t, f.responder.lastResponse(), "A render can chain at most 4 adapters. Remove one first.")

	draft, err := f.session.Get("user-1")
	require.NoError(t, err)
	assert.Empty(t, draft.Adapters)
}

func TestAdapterPick_RejectsUnknownAdapter(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formAdapterPickPrefix+"0", "user-1",
		"evil.safetensors"))

	requireEphemeralText(t, f.responder.lastResponse(), "That adapter is not in the current catalog.")
}

func TestAdapterPick_WithoutDraft(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()

	f.router.HandleInteraction(componentInteraction(formAdapterPickPrefix+"0", "user-1",
		"lora-a.safetensors"))

	requireEphemeralText(t, f.responder.lastResponse(), "That form has expired. Run /render to start a new one.")
}

func TestAdapterPage_Navigates(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.catalog.catalog.Adapters = manyAdapters(30)
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formAdapterPagePrefix+"1", "user-1"))

	resp := f.responder.lastResponse()
	requireFormView(t, resp, models.ResponseTypeUpdateMessage)

	picker := findComponent(resp.Data.Components, formAdapterPickPrefix+"1")
	require.NotNil(t, picker)
	assert.Len(t, picker.Options, 5) // 30 adapters leave 5 on the second page

	indicator := findComponent(resp.Data.Components, formAdapterPagePrefix+"here")
	require.NotNil(t, indicator)
	assert.Equal(t, "Page 2/2", indicator.Label)
	assert.True(t, indicator.Disabled)

	prev := findComponent(resp.Data.Components, formAdapterPagePrefix+"0")
	require.NotNil(t, prev)
	assert.False(t, prev.Disabled)
	next := findComponent(resp.Data.Components, formAdapterPagePrefix+"2")
	require.NotNil(t, next)
	assert.True(t, next.Disabled)
}

func TestCutPage(t *testing.T) {
	tests := []struct {
		customID string
		prefix   string
		page     int
		ok       bool
	}{
		{"form:adapterpick:3", formAdapterPickPrefix, 3, true},
		{"form:adapterpage:0", formAdapterPagePrefix, 0, true},
		{"form:adapterpage:here", formAdapterPagePrefix, 0, true},
		{"form:adapterpick:-1", formAdapterPickPrefix, -1, true},
		{"form:model", formAdapterPickPrefix, 0, false},
		{"form:adapterpick:2", formAdapterPagePrefix, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.customID, func(t *testing.T) {
			page, ok := cutPage(tc.customID, tc.prefix)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.page, page)
		})
	}
}

func TestGenerate_QueuesTheJob(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	require.NoError(t, f.session.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "a castle at dawn"
		d.SeedText = "42"
		return nil
	}))

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	require.Len(t, f.queue.renders, 1)
	assert.Equal(t, "tok-1", f.queue.renders[0].token)

	jobID := f.queue.renders[0].jobID
	job, err := f.storage.JobStorage().GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "user-1", job.RequesterID)
	assert.Equal(t, "guild-1", job.GuildID)
	assert.Equal(t, "chan-1", job.ChannelID)
	assert.Equal(t, "a castle at dawn", job.PositivePrompt)
	assert.Equal(t, int64(42), job.Seed)
	assert.Equal(t, "model-a.safetensors", job.Model)
	// The configured default fills an empty negative prompt
	assert.Equal(t, "lowres, watermark", job.NegativePrompt)

	// A dry bind ran before anything was persisted
	assert.Equal(t, []string{jobID}, f.binder.bound)

	responses := f.responder.responses()
	require.Len(t, responses, 1)
	assert.Equal(t, models.ResponseTypeDeferredUpdate, responses[0].response.Type)

	edits := f.responder.editCalls()
	require.Len(t, edits, 1)
	require.NotEmpty(t, edits[0].edit.Embeds)
	assert.Equal(t, "Queued", edits[0].edit.Embeds[0].Title)
	assert.Contains(t, edits[0].edit.Embeds[0].Description, "position 1")
	assert.Empty(t, edits[0].edit.Components)

	// Submitting consumes the draft
	_, err = f.session.Get("user-1")
	assert.ErrorIs(t, err, interfaces.ErrDraftNotFound)
}

func TestGenerate_RequiresPrompt(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	requireEphemeralText(t, f.responder.lastResponse(), "Add a prompt before generating. Use Edit prompts.")
	assert.Empty(t, f.queue.renders)
}

func TestGenerate_BlockedBySubmitTimeCheck(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	require.NoError(t, f.session.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "something scary"
		return nil
	}))
	f.guard.matches = []string{"scary"}

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	resp := f.responder.lastResponse()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Data)
	require.NotEmpty(t, resp.Data.Embeds)
	assert.Equal(t, "Prompt blocked", resp.Data.Embeds[0].Title)

	assert.Empty(t, f.queue.renders)

	// The draft survives so the user can fix the prompt
	_, err := f.session.Get("user-1")
	assert.NoError(t, err)
}

func TestGenerate_GuardOutageFailsClosed(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	require.NoError(t, f.session.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "a castle at dawn"
		return nil
	}))
	f.guard.checkErr = errors.New("guard store unavailable")

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	requireEphemeralText(t, f.responder.lastResponse(), "The content check is unavailable right now. Try again shortly.")
	assert.Empty(t, f.queue.renders)
}

func TestGenerate_RejectsBadSeed(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	require.NoError(t, f.session.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "a castle at dawn"
		d.SeedText = "junk"
		return nil
	}))

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	requireEphemeralText(t, f.responder.lastResponse(), "Check the seed: seed \"junk\" is not a number.")
	assert.Empty(t, f.queue.renders)
}

func TestGenerate_BindFailureExplains(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	require.NoError(t, f.session.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "a castle at dawn"
		return nil
	}))
	f.binder.renderErr = errors.New("template has no sampler node")

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	requireEphemeralText(t, f.responder.lastResponse(),
		"The render template rejected these settings: template has no sampler node")
	assert.Empty(t, f.queue.renders)

	queued, err := f.storage.JobStorage().ListByStatus(context.Background(), models.JobStatusQueued)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestGenerate_EnqueueFailureMarksJob(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()
	f.session.Init("user-1", "chan-1")
	require.NoError(t, f.session.Update("user-1", func(d *models.Draft) error {
		d.PositivePrompt = "a castle at dawn"
		return nil
	}))
	f.queue.renderErr = errors.New("queue shut down")

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	edits := f.responder.editCalls()
	require.Len(t, edits, 1)
	assert.Equal(t, "The queue rejected the job: queue shut down", edits[0].edit.Content)

	require.Len(t, f.queue.renders, 1)
	job, err := f.storage.JobStorage().GetJob(context.Background(), f.queue.renders[0].jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "could not enter the queue", job.ErrorMessage)
}

func TestGenerate_WithoutDraft(t *testing.T) {
	f, cleanup := setupRouter(t)
	defer cleanup()

	f.router.HandleInteraction(componentInteraction(formGenerateButton, "user-1"))

	requireEphemeralText(t, f.responder.lastResponse(), "That form has expired. Run /render to start a new one.")
}
