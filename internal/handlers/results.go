package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
	"github.com/ternarybob/pictor/internal/services/discord"
)

// handleResultAction routes the buttons attached to posted results
func (r *InteractionRouter) handleResultAction(ctx context.Context, interaction *models.Interaction, action, jobID string) {
	switch action {
	case discord.ResultActionShare:
		r.handleShare(ctx, interaction, jobID)
	case discord.ResultActionReroll:
		r.handleReroll(ctx, interaction, jobID)
	case discord.ResultActionEdit:
		r.handleEditResult(ctx, interaction, jobID)
	case discord.ResultActionUpscale:
		r.handleUpscale(ctx, interaction, jobID)
	case discord.ResultActionDelete:
		r.handleDeleteResult(ctx, interaction, jobID)
	case discord.ResultActionDeleteUpscale:
		r.handleDeleteUpscale(ctx, interaction, jobID)
	default:
		r.logger.Warn().Str("action", action).Msg("Unknown result action")
		r.respondEphemeralText(ctx, interaction, "That button is no longer wired up.")
	}
}

// loadJob fetches a job row, answering the interaction itself when the
// row is gone
func (r *InteractionRouter) loadJob(ctx context.Context, interaction *models.Interaction, jobID string) (*models.Job, bool) {
	job, err := r.storage.JobStorage().GetJob(ctx, jobID)
	if errors.Is(err, interfaces.ErrNotFound) {
		r.respondEphemeralText(ctx, interaction, "That render is no longer tracked. It may have been purged.")
		return nil, false
	}
	if err != nil {
		r.logger.Error().Str("job_id", jobID).Err(err).Msg("Job lookup failed")
		r.respondEphemeralText(ctx, interaction, "Could not look up that render.")
		return nil, false
	}
	return job, true
}

// requireRequester refuses an action to everyone but the job's owner
func (r *InteractionRouter) requireRequester(ctx context.Context, interaction *models.Interaction, requesterID, verb string) bool {
	if interaction.UserID() == requesterID {
		return true
	}
	r.respondEphemeralText(ctx, interaction, "Only the requester can "+verb+" this render.")
	return false
}

// handleShare rewrites the result post in place with the prompts
// revealed. Requester only.
func (r *InteractionRouter) handleShare(ctx context.Context, interaction *models.Interaction, jobID string) {
	job, ok := r.loadJob(ctx, interaction, jobID)
	if !ok {
		return
	}
	if !r.requireRequester(ctx, interaction, job.RequesterID, "share") {
		return
	}

	attachment := ""
	if len(job.OutputImages) > 0 {
		attachment = job.OutputImages[0]
	}
	r.respond(ctx, interaction, &models.InteractionResponse{
		Type: models.ResponseTypeUpdateMessage,
		Data: &models.ResponseData{
			Content:    discord.Mention(job.RequesterID),
			Embeds:     []models.Embed{discord.ResultEmbed(job, attachment, true)},
			Components: discord.ResultComponents(job.ID, r.config.Upscale.Enabled),
		},
	})
}

// handleReroll queues a copy of the job with a fresh random seed
func (r *InteractionRouter) handleReroll(ctx context.Context, interaction *models.Interaction, jobID string) {
	job, ok := r.loadJob(ctx, interaction, jobID)
	if !ok {
		return
	}
	if !r.requireRequester(ctx, interaction, job.RequesterID, "re-roll") {
		return
	}

	clone := *job
	clone.ID = common.NewJobID()
	clone.Status = models.JobStatusQueued
	clone.Seed = models.RandomSeed()
	clone.Adapters = append([]models.AdapterSlot(nil), job.Adapters...)
	clone.BackendPromptID = ""
	clone.OutputImages = nil
	clone.ErrorMessage = ""
	clone.CreatedAt = time.Now()
	clone.StartedAt = time.Time{}
	clone.CompletedAt = time.Time{}

	if err := r.storage.JobStorage().SaveJob(ctx, &clone); err != nil {
		r.logger.Error().Str("job_id", clone.ID).Err(err).Msg("Re-roll persist failed")
		r.respondEphemeralText(ctx, interaction, "Could not persist the re-roll. Nothing was queued.")
		return
	}

	// The ephemeral ack becomes the runner's progress message
	r.ackEphemeral(ctx, interaction)

	position, err := r.queue.EnqueueRender(ctx, clone.ID, interaction.Token)
	if err != nil {
		r.logger.Error().Str("job_id", clone.ID).Err(err).Msg("Re-roll enqueue failed")
		if markErr := r.storage.JobStorage().MarkFailed(ctx, clone.ID, "could not enter the queue"); markErr != nil {
			r.logger.Warn().Str("job_id", clone.ID).Err(markErr).Msg("Failed to mark unqueueable re-roll")
		}
		r.editOriginalText(ctx, interaction.Token, "The queue rejected the re-roll: "+err.Error())
		return
	}

	r.editOriginalText(ctx, interaction.Token, fmt.Sprintf("Re-rolling with a fresh seed, queued at position %d.", position))
	r.logger.Info().Str("job_id", clone.ID).Str("source_job_id", job.ID).Msg("Re-roll queued")
}

// handleEditResult reopens the form seeded from a finished job
func (r *InteractionRouter) handleEditResult(ctx context.Context, interaction *models.Interaction, jobID string) {
	job, ok := r.loadJob(ctx, interaction, jobID)
	if !ok {
		return
	}
	if !r.requireRequester(ctx, interaction, job.RequesterID, "edit") {
		return
	}

	userID := interaction.UserID()
	draft := r.session.InitFromJob(userID, job)
	if interaction.ChannelID != "" && interaction.ChannelID != job.ChannelID {
		_ = r.session.Update(userID, func(d *models.Draft) error {
			d.ChannelID = interaction.ChannelID
			return nil
		})
	}

	r.respond(ctx, interaction, formResponse(models.ResponseTypeChannelMessage, draft, r.catalog.Catalog()))

	// Trigger words are not persisted; refill the slots in the
	// background so the form shows them on its next refresh
	if len(draft.Adapters) > 0 {
		r.resolveAdapterWords(ctx, userID)
	}
}

// handleUpscale moves the result's first image back through the
// renderer as an upscale input and queues the upscale job
func (r *InteractionRouter) handleUpscale(ctx context.Context, interaction *models.Interaction, jobID string) {
	if !r.config.Upscale.Enabled {
		r.respondEphemeralText(ctx, interaction, "Upscaling is not enabled.")
		return
	}
	job, ok := r.loadJob(ctx, interaction, jobID)
	if !ok {
		return
	}
	if !r.requireRequester(ctx, interaction, job.RequesterID, "upscale") {
		return
	}
	if job.Status != models.JobStatusCompleted || len(job.OutputImages) == 0 {
		r.respondEphemeralText(ctx, interaction, "That render has no output to upscale.")
		return
	}

	// Deferred: fetching and re-uploading the source image takes time
	r.ackEphemeral(ctx, interaction)

	ref, found := r.findSourceImage(ctx, job)
	if !found {
		r.editOriginalText(ctx, interaction.Token, "The renderer no longer has the source image for this render.")
		return
	}

	data, err := r.renderer.FetchImage(ctx, ref)
	if err != nil {
		r.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Source image fetch failed")
		r.editOriginalText(ctx, interaction.Token, "Could not fetch the source image: "+err.Error())
		return
	}
	uploaded, err := r.renderer.UploadImage(ctx, ref.Filename, data)
	if err != nil {
		r.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Source image upload failed")
		r.editOriginalText(ctx, interaction.Token, "Could not stage the source image: "+err.Error())
		return
	}

	up := &models.UpscaleJob{
		ID:             common.NewUpscaleID(),
		RequesterID:    job.RequesterID,
		GuildID:        job.GuildID,
		ChannelID:      job.ChannelID,
		Status:         models.JobStatusQueued,
		SourceJobID:    job.ID,
		SourceImage:    uploaded.Name,
		PositivePrompt: job.PositivePrompt,
		NegativePrompt: job.NegativePrompt,
		UpscaleModel:   r.config.Upscale.Model,
		Workflow:       models.UpscaleWorkflow(r.config.Upscale.Workflow),
		CreatedAt:      time.Now(),
	}
	if err := r.storage.UpscaleStorage().SaveJob(ctx, up); err != nil {
		r.logger.Error().Str("job_id", up.ID).Err(err).Msg("Upscale persist failed")
		r.editOriginalText(ctx, interaction.Token, "Could not persist the upscale. Nothing was queued.")
		return
	}

	position, err := r.queue.EnqueueUpscale(ctx, up.ID, interaction.Token)
	if err != nil {
		r.logger.Error().Str("job_id", up.ID).Err(err).Msg("Upscale enqueue failed")
		if markErr := r.storage.UpscaleStorage().MarkFailed(ctx, up.ID, "could not enter the queue"); markErr != nil {
			r.logger.Warn().Str("job_id", up.ID).Err(markErr).Msg("Failed to mark unqueueable upscale")
		}
		r.editOriginalText(ctx, interaction.Token, "The queue rejected the upscale: "+err.Error())
		return
	}

	r.editOriginalText(ctx, interaction.Token, fmt.Sprintf("Upscale queued at position %d.", position))
	r.logger.Info().Str("job_id", up.ID).Str("source_job_id", job.ID).Msg("Upscale queued")
}

// findSourceImage rediscovers the first output's location from the
// renderer's history, since job rows only persist filenames
func (r *InteractionRouter) findSourceImage(ctx context.Context, job *models.Job) (models.ImageRef, bool) {
	if job.BackendPromptID == "" {
		return models.ImageRef{}, false
	}
	history, err := r.renderer.History(ctx, job.BackendPromptID)
	if err != nil || history == nil {
		return models.ImageRef{}, false
	}
	want := job.OutputImages[0]
	for _, output := range history.Outputs {
		for _, ref := range output.Images {
			if ref.Filename == want {
				return ref, true
			}
		}
	}
	return models.ImageRef{}, false
}

// handleDeleteResult removes a render result post. The requester or
// the owner may delete; with the row purged, only the owner may.
func (r *InteractionRouter) handleDeleteResult(ctx context.Context, interaction *models.Interaction, jobID string) {
	userID := interaction.UserID()

	allowed := r.config.IsOwner(userID)
	job, err := r.storage.JobStorage().GetJob(ctx, jobID)
	switch {
	case err == nil:
		allowed = allowed || userID == job.RequesterID
	case errors.Is(err, interfaces.ErrNotFound):
		// Row purged; fall through with owner-only permission
	default:
		r.logger.Error().Str("job_id", jobID).Err(err).Msg("Job lookup failed")
		r.respondEphemeralText(ctx, interaction, "Could not look up that render.")
		return
	}

	r.deleteResultMessage(ctx, interaction, allowed)
}

// handleDeleteUpscale removes an upscale result post
func (r *InteractionRouter) handleDeleteUpscale(ctx context.Context, interaction *models.Interaction, jobID string) {
	userID := interaction.UserID()

	allowed := r.config.IsOwner(userID)
	job, err := r.storage.UpscaleStorage().GetJob(ctx, jobID)
	switch {
	case err == nil:
		allowed = allowed || userID == job.RequesterID
	case errors.Is(err, interfaces.ErrNotFound):
	default:
		r.logger.Error().Str("job_id", jobID).Err(err).Msg("Upscale lookup failed")
		r.respondEphemeralText(ctx, interaction, "Could not look up that upscale.")
		return
	}

	r.deleteResultMessage(ctx, interaction, allowed)
}

func (r *InteractionRouter) deleteResultMessage(ctx context.Context, interaction *models.Interaction, allowed bool) {
	if !allowed {
		r.respondEphemeralText(ctx, interaction, "Only the requester or the owner can delete this.")
		return
	}
	if interaction.Message == nil {
		r.respondEphemeralText(ctx, interaction, "There is no message to delete.")
		return
	}

	channelID := interaction.Message.ChannelID
	if channelID == "" {
		channelID = interaction.ChannelID
	}

	r.ackUpdate(ctx, interaction)
	if err := r.responder.DeleteMessage(ctx, channelID, interaction.Message.ID); err != nil {
		r.logger.Warn().
			Str("channel_id", channelID).
			Str("message_id", interaction.Message.ID).
			Err(err).
			Msg("Result message delete failed")
	}
}
