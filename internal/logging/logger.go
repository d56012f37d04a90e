// Package logging builds the zap logger shared by every component. Each
// subsystem logs through a child logger named after its category.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"neuralcraft/internal/config"
)

// Category names a subsystem in log output.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, wiring, shutdown
	CategoryHTTP       Category = "http"       // Request handling
	CategoryCraft      Category = "craft"      // Combination pipeline
	CategoryOracle     Category = "oracle"     // LLM synthesis calls
	CategoryEmbedding  Category = "embedding"  // Embedding calls
	CategorySimilarity Category = "similarity" // Duplicate detection
	CategoryImages     Category = "images"     // Icon generation
	CategoryAssets     Category = "assets"     // Icon relocation
	CategoryStore      Category = "store"      // Relational storage
	CategoryIndex      Category = "index"      // Secondary vector indexes
)

// New builds the root logger from configuration.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.Development = false
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = level > zapcore.DebugLevel
	return zc.Build()
}

// For returns the child logger for a category. A nil base yields a no-op logger.
func For(base *zap.Logger, category Category) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(string(category))
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
