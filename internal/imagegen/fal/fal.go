package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"neuralcraft/internal/imagegen"
	"neuralcraft/internal/logging"
)

// Client generates icons through the fal.ai queue API: submit, poll the
// status URL until completed, then fetch the result.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	size         int
	pollInterval time.Duration
	timeout      time.Duration
	client       *http.Client
	log          *zap.Logger
}

// Config configures the fal.ai client.
type Config struct {
	BaseURL      string
	APIKeyEnv    string
	Model        string
	Size         int
	PollInterval time.Duration
	Timeout      time.Duration
}

type imageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type submitRequest struct {
	Prompt    string    `json:"prompt"`
	ImageSize imageSize `json:"image_size"`
	NumImages int       `json:"num_images"`
}

type queueStatus struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type result struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://queue.fal.run"
	}
	if cfg.Model == "" {
		cfg.Model = "fal-ai/z-image/turbo"
	}
	if cfg.Size == 0 {
		cfg.Size = 256
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       key,
		model:        cfg.Model,
		size:         cfg.Size,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          logging.OrNop(log),
	}, nil
}

// GenerateIcon returns the provider URL of the first generated image.
func (c *Client) GenerateIcon(ctx context.Context, concept string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var submitted queueStatus
	body := submitRequest{
		Prompt:    imagegen.Prompt(concept),
		ImageSize: imageSize{Width: c.size, Height: c.size},
		NumImages: 1,
	}
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/"+c.model, body, &submitted); err != nil {
		return "", fmt.Errorf("fal submit: %w", err)
	}
	statusURL := submitted.StatusURL
	responseURL := submitted.ResponseURL
	if submitted.RequestID != "" {
		if statusURL == "" {
			statusURL = fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, c.model, submitted.RequestID)
		}
		if responseURL == "" {
			responseURL = fmt.Sprintf("%s/%s/requests/%s", c.baseURL, c.model, submitted.RequestID)
		}
	}
	if statusURL == "" || responseURL == "" {
		return "", fmt.Errorf("fal submit: response has no request id")
	}

	status := submitted.Status
	for status != "COMPLETED" {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("fal poll: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
		var st queueStatus
		if err := c.call(ctx, http.MethodGet, statusURL, nil, &st); err != nil {
			return "", fmt.Errorf("fal status: %w", err)
		}
		if st.Status != status {
			c.log.Debug("fal request status", zap.String("request_id", submitted.RequestID), zap.String("status", st.Status))
		}
		status = st.Status
	}

	var out result
	if err := c.call(ctx, http.MethodGet, responseURL, nil, &out); err != nil {
		return "", fmt.Errorf("fal result: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		return "", imagegen.ErrNoImage
	}
	return out.Images[0].URL, nil
}

func (c *Client) call(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
