package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"neuralcraft/internal/assets"
	"neuralcraft/internal/assets/local"
	"neuralcraft/internal/assets/supabase"
	"neuralcraft/internal/config"
	"neuralcraft/internal/domain"
	embgenai "neuralcraft/internal/embedding/genai"
	"neuralcraft/internal/embedding/huggingface"
	embopenai "neuralcraft/internal/embedding/openai"
	"neuralcraft/internal/imagegen/fal"
	"neuralcraft/internal/logging"
	"neuralcraft/internal/oracle"
	oraclegenai "neuralcraft/internal/oracle/genai"
	oracleopenai "neuralcraft/internal/oracle/openai"
	"neuralcraft/internal/service"
	"neuralcraft/internal/similarity"
	"neuralcraft/internal/storage/postgres"
	"neuralcraft/internal/storage/sqlite"
	"neuralcraft/internal/vectorstore/memory"
	"neuralcraft/internal/vectorstore/qdrant"
)

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// app holds the assembled components for one command run.
type app struct {
	cfg   *config.AppConfig
	log   *zap.Logger
	store domain.Store
	svc   *service.CraftService
	index indexKind
	// qdrant is set when the secondary index is Qdrant.
	qdrant *qdrant.Storage
	// clearable is the secondary index, when it can be emptied.
	clearable interface {
		Clear(ctx context.Context) error
	}
	// assetsDir is served by the API when icons are stored locally.
	assetsDir string
}

type indexKind int

const (
	indexCatalog indexKind = iota
	indexMemory
	indexQdrant
)

func (a *app) Close() error { return a.store.Close() }

// prepareIndex brings the secondary index in line with the catalog.
func (a *app) prepareIndex(ctx context.Context) error {
	switch a.index {
	case indexMemory:
		n, err := a.svc.Reindex(ctx)
		if err != nil {
			return err
		}
		a.log.Info("memory index loaded", zap.Int("elements", n))
	case indexQdrant:
		dim, err := catalogDimension(ctx, a.store)
		if err != nil {
			return err
		}
		if dim > 0 {
			if err := a.qdrant.Init(ctx, dim); err != nil {
				return err
			}
		}
	}
	return nil
}

var errStopIteration = errors.New("stop")

func catalogDimension(ctx context.Context, store domain.Catalog) (int, error) {
	dim := 0
	err := store.EachElement(ctx, func(el domain.Element) error {
		dim = len(el.Embedding)
		return errStopIteration
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return 0, fmt.Errorf("read catalog dimension: %w", err)
	}
	return dim, nil
}

// build assembles every component selected by cfg.
func build(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a, err := assemble(ctx, cfg, log, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func assemble(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, store domain.Store) (*app, error) {
	emb, err := newEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	orc, err := newOracle(ctx, cfg.Oracle)
	if err != nil {
		return nil, err
	}
	images, err := newImages(cfg.Images, logging.For(log, logging.CategoryImages))
	if err != nil {
		return nil, err
	}
	relocator, assetsDir, err := newAssets(cfg.Assets, cfg.Server)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logging.For(log, logging.CategoryBoot), store: store, assetsDir: assetsDir}
	var lookup, secondary domain.VectorIndex
	switch cfg.VectorIndex.Type {
	case "catalog", "":
		lookup = store
	case "memory":
		m := memory.NewStorage()
		lookup, secondary, a.index = m, m, indexMemory
		a.clearable = m
	case "qdrant":
		q := cfg.VectorIndex.Qdrant
		apiKey := ""
		if q.APIKeyEnv != "" {
			apiKey = os.Getenv(q.APIKeyEnv)
		}
		a.qdrant = qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     apiKey,
			Collection: q.Collection,
			Timeout:    secs(q.TimeoutSecs),
		})
		lookup, secondary, a.index = a.qdrant, a.qdrant, indexQdrant
		a.clearable = a.qdrant
	default:
		return nil, fmt.Errorf("unknown vector index: %s", cfg.VectorIndex.Type)
	}

	resolver := similarity.NewResolver(emb, lookup, cfg.Similarity.Threshold, logging.For(log, logging.CategorySimilarity))
	deps := service.Deps{
		Store:    store,
		Oracle:   orc,
		Embedder: emb,
		Resolver: resolver,
		Index:    secondary,
		Starter:  cfg.Starter.Elements,
		Logger:   logging.For(log, logging.CategoryCraft),
	}
	if images != nil {
		deps.Images = images
	}
	if relocator != nil {
		deps.Assets = relocator
	}
	a.svc = service.NewCraftService(deps)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (domain.Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	case "postgres":
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return nil, fmt.Errorf("postgres dsn missing (set storage.postgres.dsn or DATABASE_URL)")
		}
		s, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Type)
	}
}

func newEmbedder(ctx context.Context, cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "huggingface", "":
		c, err := huggingface.NewClient(huggingface.Config{
			BaseURL:   cfg.HuggingFace.BaseURL,
			APIKeyEnv: cfg.HuggingFace.APIKeyEnv,
			Model:     cfg.HuggingFace.Model,
			Timeout:   secs(cfg.HuggingFace.TimeoutSecs),
		})
		if err != nil {
			return nil, fmt.Errorf("huggingface embedder init failed: %w", err)
		}
		return c, nil
	case "openai":
		c, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    secs(cfg.OpenAI.TimeoutSecs),
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return c, nil
	case "genai":
		e, err := embgenai.NewEngine(ctx, embgenai.Config{
			APIKeyEnv: cfg.GenAI.APIKeyEnv,
			Model:     cfg.GenAI.Model,
			TaskType:  cfg.GenAI.TaskType,
		})
		if err != nil {
			return nil, fmt.Errorf("genai embedder init failed: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func newOracle(ctx context.Context, cfg config.OracleConfig) (domain.Oracle, error) {
	prompt, err := oracle.LoadPrompt(cfg.PromptFile)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "openai", "":
		c, err := oracleopenai.NewClient(oracleopenai.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Prompt:      prompt,
			Timeout:     secs(cfg.OpenAI.TimeoutSecs),
			MaxRetries:  cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai oracle init failed: %w", err)
		}
		return c, nil
	case "genai":
		o, err := oraclegenai.New(ctx, oraclegenai.Config{
			APIKeyEnv:   cfg.GenAI.APIKeyEnv,
			Model:       cfg.GenAI.Model,
			Temperature: cfg.GenAI.Temperature,
			Prompt:      prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("genai oracle init failed: %w", err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown oracle: %s", cfg.Type)
	}
}

// newImages returns nil when icon generation is disabled.
func newImages(cfg config.ImagesConfig, log *zap.Logger) (*fal.Client, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "fal":
		c, err := fal.NewClient(fal.Config{
			BaseURL:      cfg.Fal.BaseURL,
			APIKeyEnv:    cfg.Fal.APIKeyEnv,
			Model:        cfg.Fal.Model,
			Size:         cfg.Fal.Size,
			PollInterval: time.Duration(cfg.Fal.PollIntervalMs) * time.Millisecond,
			Timeout:      secs(cfg.Fal.TimeoutSecs),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("fal init failed: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown image generator: %s", cfg.Type)
	}
}

// newAssets returns a nil relocator when icons keep their provider URL. dir is
// set when icons are stored on local disk.
func newAssets(cfg config.AssetsConfig, server config.ServerConfig) (relocator domain.AssetRelocator, dir string, err error) {
	fetcher := assets.NewFetcher(secs(cfg.DownloadSecs), cfg.MaxBytes)
	switch cfg.Type {
	case "none", "":
		return nil, "", nil
	case "local":
		s, err := local.NewStore(cfg.Local.Dir, strings.TrimRight(server.PublicURL, "/")+"/assets", fetcher)
		if err != nil {
			return nil, "", err
		}
		return s, s.Dir(), nil
	case "supabase":
		s, err := supabase.NewStore(supabase.Config{
			URL:           cfg.Supabase.URL,
			ServiceKeyEnv: cfg.Supabase.ServiceKeyEnv,
			Bucket:        cfg.Supabase.Bucket,
			Prefix:        cfg.Supabase.Prefix,
			Timeout:       secs(cfg.Supabase.TimeoutSecs),
		}, fetcher)
		if err != nil {
			return nil, "", fmt.Errorf("supabase assets init failed: %w", err)
		}
		return s, "", nil
	default:
		return nil, "", fmt.Errorf("unknown assets backend: %s", cfg.Type)
	}
}
