package interfaces

import (
	"context"

	"github.com/ternarybob/pictor/internal/models"
)

// ChatNotifier - interface the queue runner uses to publish results.
// Failures after the job row is final must be swallowed by callers:
// chat delivery never changes job state.
type ChatNotifier interface {
	// PostRenderResult publishes a completed render to its origin
	// channel with action buttons and attached images
	PostRenderResult(ctx context.Context, job *models.Job, images []models.FileAttachment) error

	// PostUpscaleResult publishes a completed upscale
	PostUpscaleResult(ctx context.Context, job *models.UpscaleJob, images []models.FileAttachment) error

	// PostFailure tells the requester in-channel that a job failed
	PostFailure(ctx context.Context, channelID, requesterID, message string) error

	// UpdateEphemeral edits the requester's ephemeral form message via
	// its single-use interaction token. Best effort.
	UpdateEphemeral(ctx context.Context, interactionToken, content string) error
}

// ChatResponder - interface the handlers use to answer interactions
type ChatResponder interface {
	// Respond sends the interaction's initial response
	Respond(ctx context.Context, interactionID, token string, resp *models.InteractionResponse) error

	// EditOriginal edits the original response after the fact. Empty
	// slices in the edit clear the corresponding message parts.
	EditOriginal(ctx context.Context, token string, edit *models.MessageEdit) error

	// CreateMessage posts a regular channel message
	CreateMessage(ctx context.Context, channelID string, payload *models.MessagePayload, files []models.FileAttachment) (*models.ChatMessage, error)

	// DeleteMessage removes a channel message
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
