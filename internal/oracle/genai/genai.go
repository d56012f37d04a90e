package genai

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"neuralcraft/internal/domain"
	"neuralcraft/internal/oracle"
)

// Oracle synthesizes combinations with a Gemini model.
type Oracle struct {
	client      *genai.Client
	model       string
	prompt      string
	temperature float32
}

// Config configures the Gemini oracle.
type Config struct {
	APIKeyEnv   string
	Model       string
	Temperature float32
	Prompt      string
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
}

// New creates a Gemini oracle.
func New(ctx context.Context, cfg Config) (*Oracle, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = oracle.DefaultPrompt()
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Oracle{
		client:      client,
		model:       cfg.Model,
		prompt:      cfg.Prompt,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the oracle name.
func (o *Oracle) Name() string { return "genai:" + o.model }

// Synthesize asks the model for the combination of first and second.
func (o *Oracle) Synthesize(ctx context.Context, first, second string) (domain.Synthesis, error) {
	resp, err := o.client.Models.GenerateContent(ctx,
		o.model,
		genai.Text(oracle.UserMessage(first, second)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(o.prompt, genai.RoleUser),
			Temperature:       genai.Ptr(o.temperature),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return domain.Synthesis{}, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	text := resp.Text()
	if text == "" {
		return domain.Synthesis{}, fmt.Errorf("%w: empty response", domain.ErrOracleUnavailable)
	}
	return oracle.ParseReply(text)
}
