package openai

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

	"neuralcraft/internal/domain"
	"neuralcraft/internal/oracle"
)

// Client asks an OpenAI-compatible Chat Completions endpoint (Groq by
// default) to synthesize combinations.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	prompt      string
	client      *http.Client
	maxRetries  int
}

// Config configures the chat completions oracle.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Prompt      string
	Timeout     time.Duration
	MaxRetries  int
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// NewClient creates a chat completions oracle.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-8b-instant"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = oracle.DefaultPrompt()
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		prompt:      cfg.Prompt,
		client:      &http.Client{Timeout: t},
		maxRetries:  max(cfg.MaxRetries, 0),
	}, nil
}

// Name returns the identifier of this oracle.
func (c *Client) Name() string { return "openai:" + c.model }

// Synthesize asks the model for the combination of first and second.
func (c *Client) Synthesize(ctx context.Context, first, second string) (domain.Synthesis, error) {
	data, err := json.Marshal(c.request(first, second))
	if err != nil {
		return domain.Synthesis{}, err
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt-1)); err != nil {
				return domain.Synthesis{}, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
			}
		}
		content, retry, err := c.complete(ctx, data)
		if err == nil {
			return oracle.ParseReply(content)
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return domain.Synthesis{}, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, lastErr)
}

func (c *Client) request(first, second string) chatRequest {
	return chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: oracle.UserMessage(first, second)},
		},
		Temperature:    c.temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
}

// complete performs one HTTP exchange and reports whether a failure is worth retrying.
func (c *Client) complete(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("chat completions failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("chat completions failed: %s", resp.Status)
	}
	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", false, fmt.Errorf("decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", false, fmt.Errorf("chat completion has no choices")
	}
	return out.Choices[0].Message.Content, false, nil
}

func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
