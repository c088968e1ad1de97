package civitai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"golang.org/x/time/rate"
)

// ErrTransient marks lookups that failed for reasons that may clear
// (network trouble, rate limiting, server errors). Transient results
// must never be cached.
var ErrTransient = errors.New("civitai lookup transient failure")

const (
	baseURL        = "https://civitai.com"
	requestTimeout = 10 * time.Second
)

// Client queries the public model registry for adapter metadata.
// A definitive miss returns (nil, nil); temporary trouble returns
// ErrTransient so callers can skip caching.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewClient creates a registry client. The API key is optional and
// only raises the registry-side rate allowance.
func NewClient(config *common.CivitaiConfig, logger arbor.ILogger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout)
	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
	}

	return &Client{
		http: client,
		// One request per second keeps the client inside the public
		// allowance even without an API key
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
	}
}

type modelVersion struct {
	TrainedWords []string `json:"trainedWords"`
}

type searchResponse struct {
	Items []struct {
		ModelVersions []modelVersion `json:"modelVersions"`
	} `json:"items"`
}

// TrainedWordsByHash looks an adapter up by file hash
func (c *Client) TrainedWordsByHash(ctx context.Context, hash string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	resp, err := c.http.R().SetContext(ctx).Get("/api/v1/model-versions/by-hash/" + hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
		var version modelVersion
		if err := json.Unmarshal(resp.Body(), &version); err != nil {
			return nil, fmt.Errorf("%w: by-hash decode: %v", ErrTransient, err)
		}
		return version.TrainedWords, nil
	case resp.StatusCode() == http.StatusNotFound:
		// The registry definitively does not know this file
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: by-hash status %d", ErrTransient, resp.StatusCode())
	}
}

// SearchTrainedWords looks an adapter up by name, taking the first
// matching model's first version
func (c *Client) SearchTrainedWords(ctx context.Context, query string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query": query,
			"types": "LORA",
			"limit": "5",
		}).
		Get("/api/v1/models")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode() == http.StatusOK:
		var result searchResponse
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, fmt.Errorf("%w: search decode: %v", ErrTransient, err)
		}
		for _, item := range result.Items {
			if len(item.ModelVersions) > 0 {
				return item.ModelVersions[0].TrainedWords, nil
			}
		}
		return nil, nil
	case resp.StatusCode() == http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: search status %d", ErrTransient, resp.StatusCode())
	}
}
