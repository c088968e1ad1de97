package handlers

import (
	"context"
	"strings"

	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/services/discord"
)

// respond sends the interaction's initial response. Failures are
// logged and swallowed; an unanswered interaction just times out on
// the platform side.
func (r *InteractionRouter) respond(ctx context.Context, interaction *models.Interaction, resp *models.InteractionResponse) {
	if err := r.responder.Respond(ctx, interaction.ID, interaction.Token, resp); err != nil {
		r.logger.Warn().
			Str("interaction_id", interaction.ID).
			Int("response_type", resp.Type).
			Err(err).
			Msg("Interaction response failed")
	}
}

func (r *InteractionRouter) respondEphemeralText(ctx context.Context, interaction *models.Interaction, content string) {
	r.respond(ctx, interaction, &models.InteractionResponse{
		Type: models.ResponseTypeChannelMessage,
		Data: &models.ResponseData{Content: content, Flags: models.MessageFlagEphemeral},
	})
}

// respondSessionExpired answers a control whose backing draft is gone,
// usually after a restart or a finished submission
func (r *InteractionRouter) respondSessionExpired(ctx context.Context, interaction *models.Interaction) {
	r.respondEphemeralText(ctx, interaction, "That form has expired. Run /"+commandRender+" to start a new one.")
}

// respondBlocked reports a content guard rejection with the matches
func (r *InteractionRouter) respondBlocked(ctx context.Context, interaction *models.Interaction, matches []string) {
	quoted := make([]string, 0, len(matches))
	for _, m := range matches {
		quoted = append(quoted, "`"+m+"`")
	}
	r.respond(ctx, interaction, &models.InteractionResponse{
		Type: models.ResponseTypeChannelMessage,
		Data: &models.ResponseData{
			Embeds: []models.Embed{{
				Title:       "Prompt blocked",
				Description: "Your prompt matches this server's banned word list and was not submitted.",
				Color:       discord.ColorWarning,
				Fields:      []models.EmbedField{{Name: "Matched", Value: strings.Join(quoted, ", ")}},
			}},
			Flags: models.MessageFlagEphemeral,
		},
	})
}

// ackUpdate acknowledges a component without visible change; the
// handler follows up through the webhook edit
func (r *InteractionRouter) ackUpdate(ctx context.Context, interaction *models.Interaction) {
	r.respond(ctx, interaction, &models.InteractionResponse{Type: models.ResponseTypeDeferredUpdate})
}

// ackEphemeral opens a deferred ephemeral reply for slow work
func (r *InteractionRouter) ackEphemeral(ctx context.Context, interaction *models.Interaction) {
	r.respond(ctx, interaction, &models.InteractionResponse{
		Type: models.ResponseTypeDeferredMessage,
		Data: &models.ResponseData{Flags: models.MessageFlagEphemeral},
	})
}

// editOriginalText replaces the deferred or original response with a
// bare text line, clearing embeds and components
func (r *InteractionRouter) editOriginalText(ctx context.Context, token, content string) {
	r.editOriginal(ctx, token, &models.MessageEdit{
		Content:    content,
		Embeds:     []models.Embed{},
		Components: []models.ActionRow{},
	})
}

func (r *InteractionRouter) editOriginal(ctx context.Context, token string, edit *models.MessageEdit) {
	if err := r.responder.EditOriginal(ctx, token, edit); err != nil {
		r.logger.Warn().Err(err).Msg("Editing the interaction response failed")
	}
}
