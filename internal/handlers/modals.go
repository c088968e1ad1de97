package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// handlePromptsModal stores the submitted prompts and shows the form.
// The first submission after the entry command creates the ephemeral
// form message; later ones, opened from the form, update it in place.
func (r *InteractionRouter) handlePromptsModal(ctx context.Context, interaction *models.Interaction) {
	userID := interaction.UserID()
	positive := strings.TrimSpace(modalValue(interaction.Data, fieldPositive))
	negative := strings.TrimSpace(modalValue(interaction.Data, fieldNegative))

	// An early check gives fast feedback; generate re-checks and fails
	// closed there
	matches, err := r.guard.Check(ctx, positive, negative)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Content check unavailable at prompt entry")
	}
	if len(matches) > 0 {
		r.respondBlocked(ctx, interaction, matches)
		return
	}

	err = r.session.Update(userID, func(d *models.Draft) error {
		d.PositivePrompt = positive
		d.NegativePrompt = negative
		return nil
	})
	if err != nil {
		r.respondSessionExpired(ctx, interaction)
		return
	}

	r.refreshForm(ctx, interaction)
}

// handleParamsModal applies steps, CFG, and seed from their text inputs
func (r *InteractionRouter) handleParamsModal(ctx context.Context, interaction *models.Interaction) {
	userID := interaction.UserID()

	steps, err := strconv.Atoi(strings.TrimSpace(modalValue(interaction.Data, fieldSteps)))
	if err != nil {
		r.respondEphemeralText(ctx, interaction, "Steps must be a whole number.")
		return
	}
	cfg, err := strconv.ParseFloat(strings.TrimSpace(modalValue(interaction.Data, fieldCFG)), 64)
	if err != nil {
		r.respondEphemeralText(ctx, interaction, "CFG must be a number.")
		return
	}
	seedText := strings.TrimSpace(modalValue(interaction.Data, fieldSeed))
	if _, err := models.ResolveSeed(seedText); err != nil {
		r.respondEphemeralText(ctx, interaction, "Check the seed: "+err.Error()+".")
		return
	}

	err = r.session.Update(userID, func(d *models.Draft) error {
		// Validate on a copy: update fn errors abort, they do not roll back
		candidate := *d
		candidate.Steps = steps
		candidate.CFG = cfg
		if err := candidate.Validate(); err != nil {
			return err
		}
		d.Steps = steps
		d.CFG = cfg
		d.SeedText = seedText
		return nil
	})
	if errors.Is(err, interfaces.ErrDraftNotFound) {
		r.respondSessionExpired(ctx, interaction)
		return
	}
	if err != nil {
		r.respondEphemeralText(ctx, interaction, "Check your settings: "+err.Error()+".")
		return
	}

	r.refreshForm(ctx, interaction)
}

// handleStrengthsModal applies the per-slot strength inputs
func (r *InteractionRouter) handleStrengthsModal(ctx context.Context, interaction *models.Interaction) {
	userID := interaction.UserID()

	strengths := make(map[int]float64)
	for _, row := range interaction.Data.Components {
		for _, component := range row.Components {
			rest, found := strings.CutPrefix(component.CustomID, strengthFieldPrefix)
			if !found {
				continue
			}
			index, err := strconv.Atoi(rest)
			if err != nil {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(component.Value), 64)
			if err != nil {
				r.respondEphemeralText(ctx, interaction, "Strengths must be numbers, for example 0.8.")
				return
			}
			strengths[index] = value
		}
	}

	err := r.session.Update(userID, func(d *models.Draft) error {
		candidate := *d
		candidate.Adapters = append([]models.AdapterSlot(nil), d.Adapters...)
		for index, value := range strengths {
			if index >= 0 && index < len(candidate.Adapters) {
				candidate.Adapters[index].Strength = value
			}
		}
		if err := candidate.Validate(); err != nil {
			return err
		}
		d.Adapters = candidate.Adapters
		return nil
	})
	if errors.Is(err, interfaces.ErrDraftNotFound) {
		r.respondSessionExpired(ctx, interaction)
		return
	}
	if err != nil {
		r.respondEphemeralText(ctx, interaction, "Check your settings: "+err.Error()+". Strengths run from 0.1 to 3.")
		return
	}

	r.refreshForm(ctx, interaction)
}

// refreshForm re-renders the main form view. Modal submits reached
// from the form carry its message and update it; the very first one
// creates the ephemeral form instead.
func (r *InteractionRouter) refreshForm(ctx context.Context, interaction *models.Interaction) {
	draft, err := r.session.Get(interaction.UserID())
	if err != nil {
		r.respondSessionExpired(ctx, interaction)
		return
	}

	responseType := models.ResponseTypeChannelMessage
	if interaction.Message != nil {
		responseType = models.ResponseTypeUpdateMessage
	}
	r.respond(ctx, interaction, formResponse(responseType, draft, r.catalog.Catalog()))
}
