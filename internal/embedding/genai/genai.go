package genai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"neuralcraft/internal/embedding"
)

// Engine generates embeddings using Google's Gemini API.
type Engine struct {
	client   *genai.Client
	model    string
	taskType string
}

// Config configures the Gemini embedder.
type Config struct {
	APIKeyEnv string
	Model     string
	TaskType  string
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
}

// NewEngine creates a new GenAI embedding engine.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
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

	return &Engine{
		client:   client,
		model:    cfg.Model,
		taskType: taskType(cfg.TaskType),
	}, nil
}

// taskType validates the configured task type. Unknown values fall back to
// semantic similarity, which is what duplicate detection needs.
func taskType(s string) string {
	switch t := strings.ToUpper(strings.TrimSpace(s)); t {
	case "SEMANTIC_SIMILARITY", "CLASSIFICATION", "CLUSTERING",
		"RETRIEVAL_DOCUMENT", "RETRIEVAL_QUERY", "QUESTION_ANSWERING", "FACT_VERIFICATION":
		return t
	default:
		return "SEMANTIC_SIMILARITY"
	}
}

// Embed generates an embedding for a single text.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: e.taskType,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, embedding.ErrEmptyVector
	}

	return result.Embeddings[0].Values, nil
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
