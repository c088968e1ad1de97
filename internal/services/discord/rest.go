package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/models"
	"golang.org/x/time/rate"
)

const (
	apiBaseURL     = "https://discord.com/api/v10"
	requestTimeout = 15 * time.Second
)

// RestClient talks to the chat platform's HTTP API. It implements
// interfaces.ChatResponder; the notifier builds on it for the runner
// side.
type RestClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	appID   string
	scopeID string
	logger  arbor.ILogger
}

// NewRestClient creates the REST side of the chat connection
func NewRestClient(config *common.DiscordConfig, logger arbor.ILogger) *RestClient {
	client := resty.New().
		SetBaseURL(apiBaseURL).
		SetHeader("Authorization", "Bot "+config.Token).
		SetHeader("User-Agent", "DiscordBot (pictor, "+common.GetVersion()+")").
		SetTimeout(requestTimeout)

	return &RestClient{
		http: client,
		// Stays well under the platform's global request allowance
		limiter: rate.NewLimiter(rate.Limit(20), 5),
		appID:   config.AppID,
		scopeID: config.ScopeID,
		logger:  logger,
	}
}

// Respond sends the interaction's initial response
func (c *RestClient) Respond(ctx context.Context, interactionID, token string, response *models.InteractionResponse) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(response).
		Post(fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token))
	if err != nil {
		return fmt.Errorf("interaction callback failed: %w", err)
	}
	if resp.IsError() {
		return statusError("interaction callback", resp)
	}
	return nil
}

// EditOriginal edits the original interaction response after the fact
func (c *RestClient) EditOriginal(ctx context.Context, token string, edit *models.MessageEdit) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(edit).
		Patch(fmt.Sprintf("/webhooks/%s/%s/messages/@original", c.appID, token))
	if err != nil {
		return fmt.Errorf("edit of original response failed: %w", err)
	}
	if resp.IsError() {
		return statusError("edit original response", resp)
	}
	return nil
}

// CreateMessage posts a regular channel message, attaching files as a
// multipart upload when present
func (c *RestClient) CreateMessage(ctx context.Context, channelID string, payload *models.MessagePayload, files []models.FileAttachment) (*models.ChatMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	request := c.http.R().SetContext(ctx)
	if len(files) == 0 {
		request.SetHeader("Content-Type", "application/json").SetBody(payload)
	} else {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message payload: %w", err)
		}
		request.SetMultipartField("payload_json", "", "application/json", bytes.NewReader(body))
		for i, file := range files {
			request.SetMultipartField(fmt.Sprintf("files[%d]", i), file.Name, "application/octet-stream", bytes.NewReader(file.Data))
		}
	}

	resp, err := request.Post(fmt.Sprintf("/channels/%s/messages", channelID))
	if err != nil {
		return nil, fmt.Errorf("message post failed: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("message post", resp)
	}

	var message models.ChatMessage
	if err := json.Unmarshal(resp.Body(), &message); err != nil {
		return nil, fmt.Errorf("failed to decode posted message: %w", err)
	}
	return &message, nil
}

// DeleteMessage removes a channel message
func (c *RestClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID))
	if err != nil {
		return fmt.Errorf("message delete failed: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return statusError("message delete", resp)
	}
	return nil
}

// RegisterCommands overwrites the application's slash commands. With a
// scope guild configured the commands register there and appear
// immediately; global registration can take up to an hour to roll out.
func (c *RestClient) RegisterCommands(ctx context.Context, commands []models.ApplicationCommand) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	route := fmt.Sprintf("/applications/%s/commands", c.appID)
	if c.scopeID != "" {
		route = fmt.Sprintf("/applications/%s/guilds/%s/commands", c.appID, c.scopeID)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(commands).
		Put(route)
	if err != nil {
		return fmt.Errorf("command registration failed: %w", err)
	}
	if resp.IsError() {
		return statusError("command registration", resp)
	}

	c.logger.Info().Int("count", len(commands)).Bool("guild_scoped", c.scopeID != "").Msg("Slash commands registered")
	return nil
}

// statusError reports a non-2xx reply with a trimmed body excerpt
func statusError(route string, resp *resty.Response) error {
	body := strings.TrimSpace(resp.String())
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Errorf("%s returned status %d", route, resp.StatusCode())
	}
	return fmt.Errorf("%s returned status %d: %s", route, resp.StatusCode(), body)
}
