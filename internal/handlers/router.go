package handlers

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/services/discord"
)

// handleTimeout bounds one interaction end to end. Upscale preparation
// moves image bytes through the renderer, so the budget is generous.
const handleTimeout = 2 * time.Minute

// InteractionRouter dispatches gateway interactions to their handlers.
// Replies meant for the invoker alone are ephemeral, and no failure
// path leaves an interaction unanswered.
type InteractionRouter struct {
	config    *common.Config
	storage   interfaces.StorageManager
	responder interfaces.ChatResponder
	session   interfaces.SessionService
	guard     interfaces.GuardService
	catalog   interfaces.CatalogService
	metadata  interfaces.MetadataService
	queue     interfaces.QueueService
	purge     interfaces.PurgeService
	binder    interfaces.WorkflowBinder
	renderer  interfaces.RendererClient
	logger    arbor.ILogger
}

// NewInteractionRouter wires the router against every service an
// interaction can touch
func NewInteractionRouter(
	config *common.Config,
	storage interfaces.StorageManager,
	responder interfaces.ChatResponder,
	session interfaces.SessionService,
	guard interfaces.GuardService,
	catalog interfaces.CatalogService,
	metadata interfaces.MetadataService,
	queue interfaces.QueueService,
	purge interfaces.PurgeService,
	binder interfaces.WorkflowBinder,
	renderer interfaces.RendererClient,
	logger arbor.ILogger,
) *InteractionRouter {
	return &InteractionRouter{
		config:    config,
		storage:   storage,
		responder: responder,
		session:   session,
		guard:     guard,
		catalog:   catalog,
		metadata:  metadata,
		queue:     queue,
		purge:     purge,
		binder:    binder,
		renderer:  renderer,
		logger:    logger,
	}
}

// HandleInteraction is the gateway's dispatch entry point. It runs on
// its own goroutine per interaction.
func (r *InteractionRouter) HandleInteraction(interaction *models.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("interaction_id", interaction.ID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(debug.Stack())).
				Msg("Interaction handler panicked")
			r.respondEphemeralText(ctx, interaction, "Something went wrong handling that. Try again.")
		}
	}()

	switch interaction.Type {
	case models.InteractionTypePing:
		r.respond(ctx, interaction, &models.InteractionResponse{Type: models.ResponseTypePong})
	case models.InteractionTypeApplicationCommand:
		r.handleCommand(ctx, interaction)
	case models.InteractionTypeMessageComponent:
		r.handleComponent(ctx, interaction)
	case models.InteractionTypeModalSubmit:
		r.handleModal(ctx, interaction)
	default:
		r.logger.Debug().Int("type", interaction.Type).Msg("Ignoring unhandled interaction type")
	}
}

func (r *InteractionRouter) handleCommand(ctx context.Context, interaction *models.Interaction) {
	if interaction.Data == nil {
		return
	}

	r.logger.Debug().
		Str("command", interaction.Data.Name).
		Str("user_id", interaction.UserID()).
		Str("channel_id", interaction.ChannelID).
		Msg("Handling command")

	switch interaction.Data.Name {
	case commandRender:
		r.handleRenderCommand(ctx, interaction)
	case commandBanned:
		r.handleBannedCommand(ctx, interaction)
	case commandPurge:
		r.handlePurgeCommand(ctx, interaction)
	default:
		r.logger.Warn().Str("command", interaction.Data.Name).Msg("Unknown command")
		r.respondEphemeralText(ctx, interaction, "That command is not wired up.")
	}
}

func (r *InteractionRouter) handleComponent(ctx context.Context, interaction *models.Interaction) {
	if interaction.Data == nil {
		return
	}
	customID := interaction.Data.CustomID

	r.logger.Debug().
		Str("custom_id", customID).
		Str("user_id", interaction.UserID()).
		Msg("Handling component")

	if action, jobID, ok := discord.ParseResultAction(customID); ok {
		r.handleResultAction(ctx, interaction, action, jobID)
		return
	}
	if strings.HasPrefix(customID, formPrefix) {
		r.handleFormComponent(ctx, interaction)
		return
	}

	r.logger.Warn().Str("custom_id", customID).Msg("Unknown component")
	r.respondEphemeralText(ctx, interaction, "That control is no longer wired up.")
}

func (r *InteractionRouter) handleModal(ctx context.Context, interaction *models.Interaction) {
	if interaction.Data == nil {
		return
	}

	r.logger.Debug().
		Str("custom_id", interaction.Data.CustomID).
		Str("user_id", interaction.UserID()).
		Msg("Handling modal submit")

	switch interaction.Data.CustomID {
	case modalPrompts:
		r.handlePromptsModal(ctx, interaction)
	case modalParams:
		r.handleParamsModal(ctx, interaction)
	case modalStrengths:
		r.handleStrengthsModal(ctx, interaction)
	default:
		r.logger.Warn().Str("custom_id", interaction.Data.CustomID).Msg("Unknown modal")
		r.respondEphemeralText(ctx, interaction, "That form is no longer wired up.")
	}
}
