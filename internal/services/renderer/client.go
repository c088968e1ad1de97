package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/models"
)

// Failure classes. Callers branch with errors.Is; the message carries
// the detail.
var (
	// ErrUnreachable - the backend could not be reached at all
	ErrUnreachable = errors.New("renderer unreachable")
	// ErrProtocol - the backend answered with a non-2xx status
	ErrProtocol = errors.New("renderer protocol error")
	// ErrShape - the backend's body did not decode as expected
	ErrShape = errors.New("renderer response shape error")
)

const (
	pingTimeout    = 5 * time.Second
	requestTimeout = 30 * time.Second
)

// Client talks to the local image generation backend. It never
// retries; the queue runner owns retry cadence via its poll loop.
type Client struct {
	http   *resty.Client
	logger arbor.ILogger
}

// NewClient creates a renderer client for the configured backend
func NewClient(config *common.BackendConfig, logger arbor.ILogger) interfaces.RendererClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(requestTimeout)

	return &Client{
		http:   client,
		logger: logger,
	}
}

// Ping reports whether the backend answers its stats route
func (c *Client) Ping(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(pingCtx).Get("/system_stats")
	if err != nil {
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

// ObjectInfo returns the backend's node registry
func (c *Client) ObjectInfo(ctx context.Context) (map[string]*models.NodeSchema, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/object_info")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, protocolError("object_info", resp)
	}

	var registry map[string]*models.NodeSchema
	if err := json.Unmarshal(resp.Body(), &registry); err != nil {
		return nil, fmt.Errorf("%w: object_info: %v", ErrShape, err)
	}
	return registry, nil
}

type submitRequest struct {
	Prompt models.Graph `json:"prompt"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit queues a bound graph for execution
func (c *Client) Submit(ctx context.Context, graph models.Graph) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&submitRequest{Prompt: graph}).
		Post("/prompt")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", protocolError("prompt", resp)
	}

	var result submitResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("%w: prompt: %v", ErrShape, err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("%w: prompt: missing prompt_id", ErrShape)
	}

	c.logger.Debug().Str("prompt_id", result.PromptID).Msg("Graph submitted to renderer")
	return result.PromptID, nil
}

// History returns the execution record for a prompt id. The backend
// answers an empty object until the prompt finishes, which maps to
// (nil, nil) here.
func (c *Client) History(ctx context.Context, promptID string) (*models.HistoryEntry, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/history/" + promptID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, protocolError("history", resp)
	}

	var entries map[string]*models.HistoryEntry
	if err := json.Unmarshal(resp.Body(), &entries); err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrShape, err)
	}
	return entries[promptID], nil
}

// FetchImage downloads one produced image from the backend
func (c *Client) FetchImage(ctx context.Context, ref models.ImageRef) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"filename":  ref.Filename,
			"subfolder": ref.Subfolder,
			"type":      ref.Type,
		}).
		Get("/view")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, protocolError("view", resp)
	}
	return resp.Body(), nil
}

// UploadImage stores an image on the backend for use as a workflow
// input. The name the backend reports wins over the submitted one.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (*models.UploadedImage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("image", filename, bytes.NewReader(data)).
		SetFormData(map[string]string{
			"overwrite": "true",
			"type":      "input",
		}).
		Post("/upload/image")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, protocolError("upload/image", resp)
	}

	var uploaded models.UploadedImage
	if err := json.Unmarshal(resp.Body(), &uploaded); err != nil {
		return nil, fmt.Errorf("%w: upload/image: %v", ErrShape, err)
	}
	if uploaded.Name == "" {
		uploaded.Name = filename
	}
	return &uploaded, nil
}

// Metadata keys that may carry the adapter file hash, probed in order
var hashKeys = []string{"sha256", "sshs_model_hash", "modelspec.hash.sha256"}

// AdapterFileHash returns the sha256 recorded in an adapter's sidecar
// metadata, or "" when the backend has none
func (c *Client) AdapterFileHash(ctx context.Context, filename string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("filename", filename).
		Get("/view_metadata/loras")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode() != http.StatusOK {
		return "", protocolError("view_metadata/loras", resp)
	}

	var metadata map[string]any
	if err := json.Unmarshal(resp.Body(), &metadata); err != nil {
		return "", fmt.Errorf("%w: view_metadata/loras: %v", ErrShape, err)
	}

	for _, key := range hashKeys {
		if value, ok := metadata[key].(string); ok && value != "" {
			return strings.ToLower(strings.TrimPrefix(value, "0x")), nil
		}
	}
	return "", nil
}

type triggerWordsResponse struct {
	Success      bool     `json:"success"`
	TriggerWords []string `json:"trigger_words"`
}

// LocalTriggerWords asks the backend's adapter manager plugin for an
// adapter's trigger words by filename stem. Entries arriving
// comma-joined are split and trimmed; a missing plugin surfaces as
// ErrProtocol.
func (c *Client) LocalTriggerWords(ctx context.Context, filename string) ([]string, error) {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("name", stem).
		Get("/api/lm/loras/get-trigger-words")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, protocolError("get-trigger-words", resp)
	}

	var result triggerWordsResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: get-trigger-words: %v", ErrShape, err)
	}
	if !result.Success {
		return nil, nil
	}

	return SplitTriggerWords(result.TriggerWords), nil
}

// SplitTriggerWords flattens comma-joined trigger word entries into
// trimmed, non-empty words
func SplitTriggerWords(raw []string) []string {
	var words []string
	for _, entry := range raw {
		for _, word := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(word); trimmed != "" {
				words = append(words, trimmed)
			}
		}
	}
	return words
}

// protocolError builds an ErrProtocol with a trimmed body excerpt
func protocolError(route string, resp *resty.Response) error {
	body := strings.TrimSpace(resp.String())
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Errorf("%w: %s: status %d", ErrProtocol, route, resp.StatusCode())
	}
	return fmt.Errorf("%w: %s: status %d: %s", ErrProtocol, route, resp.StatusCode(), body)
}
