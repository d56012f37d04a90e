// Package cli defines the neuralcraft command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"neuralcraft/internal/config"
	"neuralcraft/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "neuralcraft",
		Short: "Infinite crafting game server",
		Long: `neuralcraft combines elements with a language model and remembers every
discovery in a shared catalog.

Run "neuralcraft serve" to start the API and "neuralcraft play" to open the
terminal client against it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config file (default ./config.yaml, then ~/.config/neuralcraft/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level")

	root.AddCommand(
		newServeCommand(opts),
		newSeedCommand(opts),
		newReindexCommand(opts),
		newPlayCommand(opts),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (o *rootOptions) load() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if o.configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(o.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// setup loads config and the root logger.
func (o *rootOptions) setup() (*config.AppConfig, *zap.Logger, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
