package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cfg "newsthumb/src/configuration"
)

// FallbackCaption is used whenever the caption service gives no usable answer.
const FallbackCaption = "Breaking News: Fresh Images Just In"

var errNotConfigured = errors.New("caption service is not configured")

type (
	// Captioner produces a short headline for a set of image references.
	Captioner interface {
		Caption(ctx context.Context, refs []string) string
	}

	CaptionClient struct {
		url      string
		timeout  time.Duration
		enabled  bool
		pipeline RequestPipeline
	}

	captionRequest struct {
		Images []string `json:"images"`
	}

	captionResponse struct {
		Caption string `json:"caption"`
	}
)

func NewCaptionClient(config *cfg.Properties) *CaptionClient {
	return newCaptionClient(config, &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
		Timeout: config.Caption.Timeout,
	})
}

func newCaptionClient(config *cfg.Properties, client *http.Client) *CaptionClient {
	return &CaptionClient{
		url:     config.Caption.URL,
		timeout: config.Caption.Timeout,
		enabled: config.CaptionEnabled(),
		pipeline: RequestPipeline{
			client:           client,
			parametersParser: prepareJSONBody,
			requestPrepare:   jsonPost(config.Caption.URL, config.Caption.Key),
			postProcess:      postProcCaption,
		},
	}
}

// Caption asks the service once and falls back to FallbackCaption on any failure.
func (c *CaptionClient) Caption(ctx context.Context, refs []string) string {
	caption, err := c.fetch(ctx, refs)
	if err != nil {
		if errors.Is(err, errNotConfigured) {
			slog.Debug("caption service not configured, using fallback")
		} else {
			slog.Warn("caption service failed, using fallback", "url", c.url, "error", err)
		}
		return FallbackCaption
	}
	return caption
}

func (c *CaptionClient) fetch(ctx context.Context, refs []string) (string, error) {
	if !c.enabled {
		return "", errNotConfigured
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	result, err := c.pipeline.Execute(ctx, captionRequest{Images: refs})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func postProcCaption(responseBody []byte) (any, error) {
	var resp captionResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, fmt.Errorf("can not unmarshal caption: %w", err)
	}
	caption := strings.TrimSpace(resp.Caption)
	if caption == "" {
		return nil, errors.New("empty caption in response")
	}
	return caption, nil
}
