package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host             string   `yaml:"host" env:"NEURALCRAFT_HOST"`
	Port             int      `yaml:"port" env:"PORT"`
	BasePath         string   `yaml:"base_path" env:"NEURALCRAFT_BASE_PATH"`
	PublicURL        string   `yaml:"public_url" env:"NEURALCRAFT_PUBLIC_URL"`
	CORSOrigins      []string `yaml:"cors_origins" env:"NEURALCRAFT_CORS_ORIGINS" envSeparator:","`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"NEURALCRAFT_SQLITE_PATH"`
}

// PostgresConfig holds the Postgres connection string.
type PostgresConfig struct {
	DSN      string `yaml:"dsn" env:"DATABASE_URL"`
	MaxConns int32  `yaml:"max_conns"`
}

// StorageConfig selects the catalog/inventory backend.
type StorageConfig struct {
	Type     string         `yaml:"type" env:"NEURALCRAFT_STORAGE"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// QdrantConfig contains connection details for a Qdrant vector index.
type QdrantConfig struct {
	URL         string `yaml:"url" env:"QDRANT_URL"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorIndexConfig selects where nearest-neighbour queries run. "catalog"
// queries the storage backend directly.
type VectorIndexConfig struct {
	Type   string       `yaml:"type" env:"NEURALCRAFT_VECTOR_INDEX"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// SimilarityConfig tunes duplicate detection.
type SimilarityConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// HuggingFaceEmbedderConfig configures the Hugging Face feature-extraction embedder.
type HuggingFaceEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// GenAIConfig configures a Google GenAI client.
type GenAIConfig struct {
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	TaskType    string  `yaml:"task_type,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                    `yaml:"type" env:"NEURALCRAFT_EMBEDDER"`
	HuggingFace HuggingFaceEmbedderConfig `yaml:"huggingface"`
	OpenAI      OpenAIEmbedderConfig      `yaml:"openai"`
	GenAI       GenAIConfig               `yaml:"genai"`
}

// OpenAIOracleConfig configures an OpenAI-compatible chat completions oracle.
type OpenAIOracleConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries"`
}

// OracleConfig selects and configures the synthesis model.
type OracleConfig struct {
	Type       string             `yaml:"type" env:"NEURALCRAFT_ORACLE"`
	PromptFile string             `yaml:"prompt_file"`
	OpenAI     OpenAIOracleConfig `yaml:"openai"`
	GenAI      GenAIConfig        `yaml:"genai"`
}

// FalConfig configures the fal.ai queue client.
type FalConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	Size           int    `yaml:"size"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	TimeoutSecs    int    `yaml:"timeout_secs"`
}

// ImagesConfig selects the icon generator.
type ImagesConfig struct {
	Type string    `yaml:"type" env:"NEURALCRAFT_IMAGES"`
	Fal  FalConfig `yaml:"fal"`
}

// LocalAssetsConfig stores icons on local disk, served by the API.
type LocalAssetsConfig struct {
	Dir string `yaml:"dir" env:"NEURALCRAFT_ASSETS_DIR"`
}

// SupabaseAssetsConfig stores icons in a Supabase Storage bucket.
type SupabaseAssetsConfig struct {
	URL           string `yaml:"url" env:"SUPABASE_URL"`
	ServiceKeyEnv string `yaml:"service_key_env"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
}

// AssetsConfig selects where generated icons are relocated to.
type AssetsConfig struct {
	Type         string               `yaml:"type" env:"NEURALCRAFT_ASSETS"`
	MaxBytes     int64                `yaml:"max_bytes"`
	Local        LocalAssetsConfig    `yaml:"local"`
	Supabase     SupabaseAssetsConfig `yaml:"supabase"`
	DownloadSecs int                  `yaml:"download_timeout_secs"`
}

// StarterConfig names the base elements every new inventory receives.
type StarterConfig struct {
	Elements []string `yaml:"elements"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"NEURALCRAFT_LOG_LEVEL"`
	Format string `yaml:"format" env:"NEURALCRAFT_LOG_FORMAT"`
}

// TelemetryConfig configures OpenTelemetry tracing. Tracing is off when
// Endpoint is empty.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Similarity  SimilarityConfig  `yaml:"similarity"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Images      ImagesConfig      `yaml:"images"`
	Assets      AssetsConfig      `yaml:"assets"`
	Starter     StarterConfig     `yaml:"starter"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment variables override values from the file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return finish(defaultConfig())
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadDefault tries ./config.yaml first, then ~/.config/neuralcraft/config.yaml.
// If neither exists, it writes defaults to ~/.config/neuralcraft/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := finish(defaultConfig())
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// finish applies environment overrides and then fills remaining defaults.
func finish(cfg *AppConfig) (*AppConfig, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "neuralcraft", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Server: ServerConfig{
			Port:             3000,
			BasePath:         "/api",
			CORSOrigins:      []string{"*"},
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 120,
		},
		Storage:     StorageConfig{Type: "sqlite", SQLite: SQLiteConfig{Path: "neuralcraft.db"}},
		VectorIndex: VectorIndexConfig{Type: "catalog"},
		Similarity:  SimilarityConfig{Threshold: 0.80},
		Embedder:    EmbedderConfig{Type: "huggingface"},
		Oracle:      OracleConfig{Type: "openai"},
		Images:      ImagesConfig{Type: "none"},
		Assets:      AssetsConfig{Type: "none"},
		Starter:     StarterConfig{Elements: []string{"Fire", "Water", "Air", "Earth"}},
		Logging:     LoggingConfig{Level: "info", Format: "console"},
		Telemetry:   TelemetryConfig{ServiceName: "neuralcraft"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = 15
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = 120
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "sqlite"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "neuralcraft.db"
	}
	if cfg.VectorIndex.Type == "" {
		cfg.VectorIndex.Type = "catalog"
	}
	if cfg.VectorIndex.Type == "qdrant" {
		q := &cfg.VectorIndex.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "elements"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if cfg.Similarity.Threshold == 0 {
		cfg.Similarity.Threshold = 0.80
	}

	hf := &cfg.Embedder.HuggingFace
	if hf.BaseURL == "" {
		hf.BaseURL = "https://router.huggingface.co/hf-inference/models"
	}
	if hf.APIKeyEnv == "" {
		hf.APIKeyEnv = "HF_API_KEY"
	}
	if hf.Model == "" {
		hf.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if hf.TimeoutSecs == 0 {
		hf.TimeoutSecs = 30
	}
	if cfg.Embedder.Type == "openai" {
		oa := &cfg.Embedder.OpenAI
		if oa.BaseURL == "" {
			oa.BaseURL = "https://api.openai.com/v1"
		}
		if oa.APIKeyEnv == "" {
			oa.APIKeyEnv = "OPENAI_API_KEY"
		}
		if oa.Model == "" {
			oa.Model = "text-embedding-3-small"
		}
		if oa.TimeoutSecs == 0 {
			oa.TimeoutSecs = 30
		}
	}
	if cfg.Embedder.Type == "genai" {
		g := &cfg.Embedder.GenAI
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "GEMINI_API_KEY"
		}
		if g.Model == "" {
			g.Model = "gemini-embedding-001"
		}
		if g.TaskType == "" {
			g.TaskType = "SEMANTIC_SIMILARITY"
		}
	}

	if cfg.Oracle.Type == "" {
		cfg.Oracle.Type = "openai"
	}
	oo := &cfg.Oracle.OpenAI
	if oo.BaseURL == "" {
		oo.BaseURL = "https://api.groq.com/openai/v1"
	}
	if oo.APIKeyEnv == "" {
		oo.APIKeyEnv = "GROQ_API_KEY"
	}
	if oo.Model == "" {
		oo.Model = "llama-3.1-8b-instant"
	}
	if oo.Temperature == 0 {
		oo.Temperature = 0.5
	}
	if oo.TimeoutSecs == 0 {
		oo.TimeoutSecs = 30
	}
	if cfg.Oracle.Type == "genai" {
		g := &cfg.Oracle.GenAI
		if g.APIKeyEnv == "" {
			g.APIKeyEnv = "GEMINI_API_KEY"
		}
		if g.Model == "" {
			g.Model = "gemini-2.0-flash"
		}
		if g.Temperature == 0 {
			g.Temperature = 0.5
		}
	}

	if cfg.Images.Type == "" {
		cfg.Images.Type = "none"
	}
	if cfg.Images.Type == "fal" {
		f := &cfg.Images.Fal
		if f.BaseURL == "" {
			f.BaseURL = "https://queue.fal.run"
		}
		if f.APIKeyEnv == "" {
			f.APIKeyEnv = "FAL_KEY"
		}
		if f.Model == "" {
			f.Model = "fal-ai/z-image/turbo"
		}
		if f.Size == 0 {
			f.Size = 256
		}
		if f.PollIntervalMs == 0 {
			f.PollIntervalMs = 500
		}
		if f.TimeoutSecs == 0 {
			f.TimeoutSecs = 60
		}
	}

	if cfg.Assets.Type == "" {
		cfg.Assets.Type = "none"
	}
	if cfg.Assets.MaxBytes == 0 {
		cfg.Assets.MaxBytes = 10 << 20
	}
	if cfg.Assets.DownloadSecs == 0 {
		cfg.Assets.DownloadSecs = 30
	}
	if cfg.Assets.Local.Dir == "" {
		cfg.Assets.Local.Dir = "assets"
	}
	sb := &cfg.Assets.Supabase
	if sb.ServiceKeyEnv == "" {
		sb.ServiceKeyEnv = "SUPABASE_SERVICE_KEY"
	}
	if sb.Bucket == "" {
		sb.Bucket = "icons"
	}
	if sb.Prefix == "" {
		sb.Prefix = "public"
	}
	if sb.TimeoutSecs == 0 {
		sb.TimeoutSecs = 30
	}

	if len(cfg.Starter.Elements) == 0 {
		cfg.Starter.Elements = []string{"Fire", "Water", "Air", "Earth"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "neuralcraft"
	}
}
