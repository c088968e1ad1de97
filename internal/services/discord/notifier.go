package discord

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// Notifier publishes runner outcomes through the REST client. It is
// the only chat surface the queue sees.
type Notifier struct {
	rest           *RestClient
	upscaleEnabled bool
	logger         arbor.ILogger
}

// NewNotifier creates the runner-side chat publisher
func NewNotifier(rest *RestClient, config *common.Config, logger arbor.ILogger) interfaces.ChatNotifier {
	return &Notifier{
		rest:           rest,
		upscaleEnabled: config.Upscale.Enabled,
		logger:         logger,
	}
}

// PostRenderResult publishes a completed render to its origin channel
func (n *Notifier) PostRenderResult(ctx context.Context, job *models.Job, images []models.FileAttachment) error {
	payload := renderResultMessage(job, images, n.upscaleEnabled)
	_, err := n.rest.CreateMessage(ctx, job.ChannelID, payload, images)
	return err
}

// PostUpscaleResult publishes a completed upscale
func (n *Notifier) PostUpscaleResult(ctx context.Context, job *models.UpscaleJob, images []models.FileAttachment) error {
	payload := upscaleResultMessage(job, images)
	_, err := n.rest.CreateMessage(ctx, job.ChannelID, payload, images)
	return err
}

// PostFailure tells the requester in-channel that a job failed
func (n *Notifier) PostFailure(ctx context.Context, channelID, requesterID, message string) error {
	_, err := n.rest.CreateMessage(ctx, channelID, failureMessage(requesterID, message), nil)
	return err
}

// UpdateEphemeral replaces the requester's ephemeral form with a plain
// notice. The token may have expired; the caller treats errors as
// best-effort.
func (n *Notifier) UpdateEphemeral(ctx context.Context, interactionToken, content string) error {
	edit := &models.MessageEdit{
		Content:    content,
		Embeds:     []models.Embed{},
		Components: []models.ActionRow{},
	}
	return n.rest.EditOriginal(ctx, interactionToken, edit)
}
