package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/services/discord"
)

// Slash command names
const (
	commandRender = "render"
	commandBanned = "banned"
	commandPurge  = "purge"
)

// bannedListPageSize caps how many guard entries one embed lists
const bannedListPageSize = 50

// CommandDefinitions returns the slash commands registered at startup.
// Registration replaces the guild's previous set wholesale.
func CommandDefinitions() []models.ApplicationCommand {
	return []models.ApplicationCommand{
		{
			Name:        commandRender,
			Description: "Compose and queue an image render",
			Options: []models.ApplicationCommandOption{
				{Type: models.CommandOptionTypeBoolean, Name: "last", Description: "Start from your most recent completed render"},
			},
		},
		{
			Name:        commandBanned,
			Description: "Manage the banned word list",
			Options: []models.ApplicationCommandOption{
				{
					Type: models.CommandOptionTypeSubCommand, Name: "add", Description: "Add a banned word",
					Options: []models.ApplicationCommandOption{
						{Type: models.CommandOptionTypeString, Name: "word", Description: "Word or phrase to ban", Required: true},
						{Type: models.CommandOptionTypeBoolean, Name: "partial", Description: "Also match inside longer words"},
					},
				},
				{
					Type: models.CommandOptionTypeSubCommand, Name: "remove", Description: "Remove a banned word",
					Options: []models.ApplicationCommandOption{
						{Type: models.CommandOptionTypeString, Name: "word", Description: "Word to remove", Required: true},
					},
				},
				{Type: models.CommandOptionTypeSubCommand, Name: "list", Description: "Show the banned word list"},
			},
		},
		{
			Name:        commandPurge,
			Description: "Delete old finished jobs now",
			Options: []models.ApplicationCommandOption{
				{Type: models.CommandOptionTypeInteger, Name: "hours", Description: "Override the retention age in hours"},
			},
		},
	}
}

// handleRenderCommand opens the prompt modal for a fresh draft
func (r *InteractionRouter) handleRenderCommand(ctx context.Context, interaction *models.Interaction) {
	if !r.config.IsChannelAllowed(interaction.ChannelID) {
		r.respondEphemeralText(ctx, interaction, "Renders are not enabled in this channel.")
		return
	}

	userID := interaction.UserID()
	var draft *models.Draft

	if opt := findOption(interaction.Data.Options, "last"); opt != nil && opt.BoolValue() {
		job, err := r.storage.JobStorage().LatestCompletedForUser(ctx, userID)
		switch {
		case err == nil:
			draft = r.session.InitFromJob(userID, job)
			if job.ChannelID != interaction.ChannelID {
				_ = r.session.Update(userID, func(d *models.Draft) error {
					d.ChannelID = interaction.ChannelID
					return nil
				})
			}
		case errors.Is(err, interfaces.ErrNotFound):
			r.logger.Debug().Str("user_id", userID).Msg("No completed render to start from, using defaults")
		default:
			r.logger.Warn().Str("user_id", userID).Err(err).Msg("Latest render lookup failed, using defaults")
		}
	}
	if draft == nil {
		draft = r.session.Init(userID, interaction.ChannelID)
	}

	r.respond(ctx, interaction, promptsModal(draft))
}

// handleBannedCommand manages the content guard list. Owner only.
func (r *InteractionRouter) handleBannedCommand(ctx context.Context, interaction *models.Interaction) {
	if !r.config.IsOwner(interaction.UserID()) {
		r.respondEphemeralText(ctx, interaction, "Only the configured owner can manage the banned word list.")
		return
	}
	if len(interaction.Data.Options) == 0 {
		r.respondEphemeralText(ctx, interaction, "Pick a subcommand: add, remove, or list.")
		return
	}

	sub := &interaction.Data.Options[0]
	switch sub.Name {
	case "add":
		r.handleBannedAdd(ctx, interaction, sub)
	case "remove":
		r.handleBannedRemove(ctx, interaction, sub)
	case "list":
		r.handleBannedList(ctx, interaction)
	default:
		r.respondEphemeralText(ctx, interaction, "Pick a subcommand: add, remove, or list.")
	}
}

func (r *InteractionRouter) handleBannedAdd(ctx context.Context, interaction *models.Interaction, sub *models.CommandOption) {
	word := ""
	if opt := sub.Option("word"); opt != nil {
		word = strings.TrimSpace(opt.StringValue())
	}
	if word == "" {
		r.respondEphemeralText(ctx, interaction, "Give me a word to ban.")
		return
	}
	partial := false
	if opt := sub.Option("partial"); opt != nil {
		partial = opt.BoolValue()
	}

	added, err := r.guard.Add(ctx, word, partial, interaction.UserID())
	if err != nil {
		r.logger.Error().Str("word", word).Err(err).Msg("Banned word add failed")
		r.respondEphemeralText(ctx, interaction, "Could not store that word.")
		return
	}

	mode := "whole-word"
	if partial {
		mode = "partial"
	}
	if added {
		r.respondEphemeralText(ctx, interaction, fmt.Sprintf("Banned `%s` (%s match).", strings.ToLower(word), mode))
	} else {
		r.respondEphemeralText(ctx, interaction, fmt.Sprintf("`%s` was already banned; its match mode is now %s.", strings.ToLower(word), mode))
	}
}

func (r *InteractionRouter) handleBannedRemove(ctx context.Context, interaction *models.Interaction, sub *models.CommandOption) {
	word := ""
	if opt := sub.Option("word"); opt != nil {
		word = strings.TrimSpace(opt.StringValue())
	}
	if word == "" {
		r.respondEphemeralText(ctx, interaction, "Give me a word to remove.")
		return
	}

	removed, err := r.guard.Remove(ctx, word)
	if err != nil {
		r.logger.Error().Str("word", word).Err(err).Msg("Banned word remove failed")
		r.respondEphemeralText(ctx, interaction, "Could not remove that word.")
		return
	}
	if removed {
		r.respondEphemeralText(ctx, interaction, fmt.Sprintf("Removed `%s` from the banned list.", strings.ToLower(word)))
	} else {
		r.respondEphemeralText(ctx, interaction, fmt.Sprintf("`%s` was not on the banned list.", strings.ToLower(word)))
	}
}

func (r *InteractionRouter) handleBannedList(ctx context.Context, interaction *models.Interaction) {
	entries, err := r.guard.List(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Banned word list failed")
		r.respondEphemeralText(ctx, interaction, "Could not read the banned list.")
		return
	}
	if len(entries) == 0 {
		r.respondEphemeralText(ctx, interaction, "The banned word list is empty.")
		return
	}

	var embeds []models.Embed
	for start := 0; start < len(entries); start += bannedListPageSize {
		end := start + bannedListPageSize
		if end > len(entries) {
			end = len(entries)
		}
		var lines []string
		for _, entry := range entries[start:end] {
			line := "`" + entry.Word + "`"
			if entry.Partial {
				line += " (partial)"
			}
			lines = append(lines, line)
		}
		embeds = append(embeds, models.Embed{
			Title:       fmt.Sprintf("Banned words %d-%d of %d", start+1, end, len(entries)),
			Description: strings.Join(lines, "\n"),
			Color:       discord.ColorInfo,
		})
		// The platform caps a message at ten embeds
		if len(embeds) == 10 && end < len(entries) {
			embeds[9].Footer = &models.EmbedFooter{Text: fmt.Sprintf("%d more entries not shown", len(entries)-end)}
			break
		}
	}

	r.respond(ctx, interaction, &models.InteractionResponse{
		Type: models.ResponseTypeChannelMessage,
		Data: &models.ResponseData{Embeds: embeds, Flags: models.MessageFlagEphemeral},
	})
}

// handlePurgeCommand runs a retention sweep on demand. Owner only.
func (r *InteractionRouter) handlePurgeCommand(ctx context.Context, interaction *models.Interaction) {
	if !r.config.IsOwner(interaction.UserID()) {
		r.respondEphemeralText(ctx, interaction, "Only the configured owner can purge jobs.")
		return
	}

	maxAge := time.Duration(0)
	if opt := findOption(interaction.Data.Options, "hours"); opt != nil {
		hours := int(opt.FloatValue())
		if hours <= 0 {
			r.respondEphemeralText(ctx, interaction, "Hours must be a positive number.")
			return
		}
		maxAge = time.Duration(hours) * time.Hour
	}

	// Deferred: the sweep can take a moment on a large table
	r.ackEphemeral(ctx, interaction)

	jobs, upscales, err := r.purge.RunNow(ctx, maxAge)
	if err != nil {
		r.logger.Error().Err(err).Msg("Manual purge failed")
		r.editOriginalText(ctx, interaction.Token, "Purge failed: "+err.Error())
		return
	}
	r.editOriginalText(ctx, interaction.Token, fmt.Sprintf("Purge removed %d render jobs and %d upscales.", jobs, upscales))
}

// findOption locates a top-level command option by name
func findOption(options []models.CommandOption, name string) *models.CommandOption {
	for i := range options {
		if options[i].Name == name {
			return &options[i]
		}
	}
	return nil
}
