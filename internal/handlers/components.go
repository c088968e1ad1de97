package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/services/discord"
)

// handleFormComponent routes everything emitted by the draft form
func (r *InteractionRouter) handleFormComponent(ctx context.Context, interaction *models.Interaction) {
	customID := interaction.Data.CustomID

	if page, ok := cutPage(customID, formAdapterPickPrefix); ok {
		r.handleAdapterPick(ctx, interaction, page)
		return
	}
	if page, ok := cutPage(customID, formAdapterPagePrefix); ok {
		r.showAdapterView(ctx, interaction, page)
		return
	}

	switch customID {
	case formModelSelect, formSamplerSelect, formSchedulerSelect, formSizeSelect:
		r.handleFormSelect(ctx, interaction)
	case formPromptsButton:
		draft, err := r.session.Get(interaction.UserID())
		if err != nil {
			r.respondSessionExpired(ctx, interaction)
			return
		}
		r.respond(ctx, interaction, promptsModal(draft))
	case formParamsButton:
		draft, err := r.session.Get(interaction.UserID())
		if err != nil {
			r.respondSessionExpired(ctx, interaction)
			return
		}
		r.respond(ctx, interaction, paramsModal(draft))
	case formAdaptersButton:
		r.showAdapterView(ctx, interaction, 0)
	case formStrengthsButton:
		draft, err := r.session.Get(interaction.UserID())
		if err != nil {
			r.respondSessionExpired(ctx, interaction)
			return
		}
		if len(draft.Adapters) == 0 {
			r.respondEphemeralText(ctx, interaction, "Pick adapters first.")
			return
		}
		r.respond(ctx, interaction, strengthsModal(draft))
	case formBackButton:
		draft, err := r.session.Get(interaction.UserID())
		if err != nil {
			r.respondSessionExpired(ctx, interaction)
			return
		}
		r.respond(ctx, interaction, formResponse(models.ResponseTypeUpdateMessage, draft, r.catalog.Catalog()))
	case formGenerateButton:
		r.handleGenerate(ctx, interaction)
	default:
		r.logger.Warn().Str("custom_id", customID).Msg("Unknown form control")
		r.respondEphemeralText(ctx, interaction, "That control is no longer wired up.")
	}
}

// handleFormSelect applies a dropdown choice to the draft. Choices are
// validated against the current catalog; the form only refreshes when
// the draft actually changed.
func (r *InteractionRouter) handleFormSelect(ctx context.Context, interaction *models.Interaction) {
	if len(interaction.Data.Values) == 0 {
		return
	}
	userID := interaction.UserID()
	choice := interaction.Data.Values[0]
	catalog := r.catalog.Catalog()

	var apply func(*models.Draft) error
	switch interaction.Data.CustomID {
	case formModelSelect:
		if !catalog.HasModel(choice) {
			r.respondEphemeralText(ctx, interaction, "That model is not in the current catalog. The backend may have changed.")
			return
		}
		apply = func(d *models.Draft) error { d.Model = choice; return nil }
	case formSamplerSelect:
		if !catalog.HasSampler(choice) {
			r.respondEphemeralText(ctx, interaction, "That sampler is not in the current catalog.")
			return
		}
		apply = func(d *models.Draft) error { d.Sampler = choice; return nil }
	case formSchedulerSelect:
		if !catalog.HasScheduler(choice) {
			r.respondEphemeralText(ctx, interaction, "That scheduler is not in the current catalog.")
			return
		}
		apply = func(d *models.Draft) error { d.Scheduler = choice; return nil }
	case formSizeSelect:
		preset := models.SizePreset(choice)
		if preset != models.SizePortrait && preset != models.SizeSquare && preset != models.SizeLandscape {
			r.respondEphemeralText(ctx, interaction, "That size is not offered.")
			return
		}
		apply = func(d *models.Draft) error { d.Size = preset; return nil }
	}

	if err := r.session.Update(userID, apply); err != nil {
		r.respondSessionExpired(ctx, interaction)
		return
	}

	draft, err := r.session.Get(userID)
	if err != nil {
		r.respondSessionExpired(ctx, interaction)
		return
	}
	r.respond(ctx, interaction, formResponse(models.ResponseTypeUpdateMessage, draft, catalog))
}

// showAdapterView swaps the form to the adapter picker page
func (r *InteractionRouter) showAdapterView(ctx context.Context, interaction *models.Interaction, page int) {
	draft, err := r.session.Get(interaction.UserID())
	if err != nil {
		r.respondSessionExpired(ctx, interaction)
		return
	}
	r.respond(ctx, interaction, adapterViewResponse(models.ResponseTypeUpdateMessage, draft, r.catalog.Catalog(), page))
}

// handleAdapterPick merges a page's selection into the draft's slots.
// Slots from other pages survive; slots from this page follow the
// select's state. New slots start at strength 1.0 and get their
// trigger words resolved before the view refreshes.
func (r *InteractionRouter) handleAdapterPick(ctx context.Context, interaction *models.Interaction, page int) {
	userID := interaction.UserID()
	catalog := r.catalog.Catalog()

	selected := interaction.Data.Values
	for _, name := range selected {
		if !catalog.HasAdapter(name) {
			r.respondEphemeralText(ctx, interaction, "That adapter is not in the current catalog.")
			return
		}
	}

	start := page * adapterPageSize
	end := start + adapterPageSize
	if start < 0 || start > len(catalog.Adapters) {
		start = 0
	}
	if end > len(catalog.Adapters) {
		end = len(catalog.Adapters)
	}
	pageSet := make(map[string]bool, end-start)
	for _, name := range catalog.Adapters[start:end] {
		pageSet[name] = true
	}

	err := r.session.Update(userID, func(d *models.Draft) error {
		prior := make(map[string]models.AdapterSlot, len(d.Adapters))
		var next []models.AdapterSlot
		for _, slot := range d.Adapters {
			prior[slot.Name] = slot
			if !pageSet[slot.Name] {
				next = append(next, slot)
			}
		}
		for _, name := range selected {
			slot := models.AdapterSlot{Name: name, Strength: 1.0}
			if existing, ok := prior[name]; ok {
				slot = existing
			}
			if len(next) >= models.MaxAdapters {
				return fmt.Errorf("a render can chain at most %d adapters", models.MaxAdapters)
			}
			next = append(next, slot)
		}
		d.Adapters = next
		return nil
	})
	if errors.Is(err, interfaces.ErrDraftNotFound) {
		r.respondSessionExpired(ctx, interaction)
		return
	}
	if err != nil {
		r.respondEphemeralText(ctx, interaction, capitalize(err.Error())+". Remove one first.")
		return
	}

	// Acknowledge first: trigger-word lookups can take seconds each
	r.ackUpdate(ctx, interaction)
	r.resolveAdapterWords(ctx, userID)

	draft, err := r.session.Get(userID)
	if err != nil {
		return
	}
	r.editOriginal(ctx, interaction.Token, &models.MessageEdit{
		Embeds:     []models.Embed{formEmbed(draft)},
		Components: adapterFormRows(draft, catalog, page),
	})
}

// resolveAdapterWords fills trigger words for slots that have none yet.
// Resolution is best effort; cached results make re-runs cheap.
func (r *InteractionRouter) resolveAdapterWords(ctx context.Context, userID string) {
	draft, err := r.session.Get(userID)
	if err != nil {
		return
	}
	for _, slot := range draft.Adapters {
		if len(slot.TriggerWords) > 0 {
			continue
		}
		words := r.metadata.TriggerWords(ctx, slot.Name)
		if len(words) == 0 {
			continue
		}
		name := slot.Name
		_ = r.session.Update(userID, func(d *models.Draft) error {
			for i := range d.Adapters {
				if d.Adapters[i].Name == name {
					d.Adapters[i].TriggerWords = words
				}
			}
			return nil
		})
	}
}

// handleGenerate converts the draft into a persisted job and queues it
func (r *InteractionRouter) handleGenerate(ctx context.Context, interaction *models.Interaction) {
	userID := interaction.UserID()
	draft, err := r.session.Get(userID)
	if err != nil {
		r.respondSessionExpired(ctx, interaction)
		return
	}

	positive := strings.TrimSpace(draft.PositivePrompt)
	if positive == "" {
		r.respondEphemeralText(ctx, interaction, "Add a prompt before generating. Use Edit prompts.")
		return
	}
	if err := draft.Validate(); err != nil {
		r.respondEphemeralText(ctx, interaction, "Check your settings: "+err.Error()+".")
		return
	}
	seed, err := models.ResolveSeed(draft.SeedText)
	if err != nil {
		r.respondEphemeralText(ctx, interaction, "Check the seed: "+err.Error()+".")
		return
	}

	// The guard runs at submit so edits since the last check still count
	matches, err := r.guard.Check(ctx, draft.PositivePrompt, draft.NegativePrompt)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Content check unavailable at submit")
		r.respondEphemeralText(ctx, interaction, "The content check is unavailable right now. Try again shortly.")
		return
	}
	if len(matches) > 0 {
		r.respondBlocked(ctx, interaction, matches)
		return
	}

	negative := draft.NegativePrompt
	if strings.TrimSpace(negative) == "" {
		negative = r.config.Generation.DefaultNegativePrompt
	}

	job := &models.Job{
		ID:             common.NewJobID(),
		RequesterID:    userID,
		GuildID:        interaction.GuildID,
		ChannelID:      draft.ChannelID,
		Status:         models.JobStatusQueued,
		Model:          draft.Model,
		Sampler:        draft.Sampler,
		Scheduler:      draft.Scheduler,
		Steps:          draft.Steps,
		CFG:            draft.CFG,
		Seed:           seed,
		Size:           draft.Size,
		PositivePrompt: positive,
		NegativePrompt: negative,
		Adapters:       draft.Adapters,
		CreatedAt:      time.Now(),
	}

	// A dry bind catches template drift before anything is persisted
	if _, err := r.binder.BindRender(job); err != nil {
		r.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Draft failed template binding")
		r.respondEphemeralText(ctx, interaction, "The render template rejected these settings: "+err.Error())
		return
	}

	if err := r.storage.JobStorage().SaveJob(ctx, job); err != nil {
		r.logger.Error().Str("job_id", job.ID).Err(err).Msg("Job persist failed")
		r.respondEphemeralText(ctx, interaction, "Could not persist the job. Nothing was queued.")
		return
	}

	// Acknowledge before enqueueing so the runner's first progress edit
	// lands on an already-created response
	r.ackUpdate(ctx, interaction)

	position, err := r.queue.EnqueueRender(ctx, job.ID, interaction.Token)
	if err != nil {
		r.logger.Error().Str("job_id", job.ID).Err(err).Msg("Enqueue failed")
		if markErr := r.storage.JobStorage().MarkFailed(ctx, job.ID, "could not enter the queue"); markErr != nil {
			r.logger.Warn().Str("job_id", job.ID).Err(markErr).Msg("Failed to mark unqueueable job")
		}
		r.editOriginalText(ctx, interaction.Token, "The queue rejected the job: "+err.Error())
		return
	}

	r.session.Clear(userID)

	r.editOriginal(ctx, interaction.Token, &models.MessageEdit{
		Embeds: []models.Embed{{
			Title:       "Queued",
			Description: fmt.Sprintf("Render queued at position %d. Results post in this channel when it finishes.", position),
			Color:       discord.ColorInfo,
		}},
		Components: []models.ActionRow{},
	})

	r.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Int("position", position).
		Msg("Render queued from form")
}

// cutPage extracts the page number from a paged custom id
func cutPage(customID, prefix string) (int, bool) {
	rest, found := strings.CutPrefix(customID, prefix)
	if !found {
		return 0, false
	}
	page, err := strconv.Atoi(rest)
	if err != nil {
		return 0, true // the disabled indicator button carries no page
	}
	return page, true
}
