package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"neuralcraft/internal/httpapi"
	"neuralcraft/internal/logging"
	"neuralcraft/internal/telemetry"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Warn("telemetry shutdown failed", zap.Error(err))
				}
			}()

			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.svc.SeedStarterSet(ctx); err != nil {
				a.log.Warn("starter seeding failed, new players get errors until it succeeds", zap.Error(err))
			}
			if err := a.prepareIndex(ctx); err != nil {
				return err
			}

			h := httpapi.NewHandler(a.svc, httpapi.Options{
				BasePath:    cfg.Server.BasePath,
				CORSOrigins: cfg.Server.CORSOrigins,
				AssetsDir:   a.assetsDir,
				Logger:      logging.For(log, logging.CategoryHTTP),
			})
			a.log.Info("starting",
				zap.String("addr", cfg.Server.Addr()),
				zap.String("storage", cfg.Storage.Type),
				zap.String("vector_index", cfg.VectorIndex.Type),
				zap.String("embedder", cfg.Embedder.Type),
				zap.String("oracle", cfg.Oracle.Type),
				zap.String("images", cfg.Images.Type),
				zap.String("assets", cfg.Assets.Type),
			)
			return httpapi.NewServer(cfg.Server, h, logging.For(log, logging.CategoryHTTP)).Run(ctx)
		},
	}
}
