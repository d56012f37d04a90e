package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the starter elements into the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			seeded, err := a.svc.SeedStarterSet(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.prepareIndex(cmd.Context()); err != nil {
				return err
			}
			for _, el := range seeded {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", el.ID, el.Name)
			}
			return nil
		},
	}
}

func newReindexCommand(opts *rootOptions) *cobra.Command {
	var wipe bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Copy catalog embeddings into the configured vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.reindex(cmd.Context(), wipe, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&wipe, "clear", false, "drop the vector index before rebuilding it")
	return cmd
}

func (a *app) reindex(ctx context.Context, wipe bool, out io.Writer) error {
	if a.index == indexCatalog {
		fmt.Fprintln(out, "vector index is the catalog, nothing to do")
		return nil
	}
	if wipe && a.clearable != nil {
		if err := a.clearable.Clear(ctx); err != nil {
			return fmt.Errorf("clear vector index: %w", err)
		}
		a.log.Info("vector index cleared")
		fmt.Fprintln(out, "cleared vector index")
	}
	if a.index == indexQdrant {
		if err := a.prepareIndex(ctx); err != nil {
			return err
		}
	}
	n, err := a.svc.Reindex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "indexed %d elements\n", n)
	return nil
}
