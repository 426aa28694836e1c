package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

func newTaxonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Manage the category taxonomy discovery falls back to",
	}
	cmd.AddCommand(newTaxonomySeedCmd(), newTaxonomyListCmd())
	return cmd
}

func newTaxonomySeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the configured discovery targets into the taxonomy table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			entries := catalog.TaxonomyFromTargets(rt.cfg.Discovery.Targets, time.Now().UTC())
			if len(entries) == 0 {
				return errors.New("discovery.targets is empty; nothing to seed")
			}
			return runWithApp(cmd, nil, func(ctx context.Context, a App) error {
				if err := a.Store().UpsertTaxonomy(ctx, entries); err != nil {
					return fmt.Errorf("seed taxonomy: %w", err)
				}
				a.Logger().Info("taxonomy seeded", zap.Int("entries", len(entries)))
				return printJSON(cmd.OutOrStdout(), map[string]int{"entries": len(entries)})
			})
		},
	}
}

func newTaxonomyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the stored taxonomy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, nil, func(ctx context.Context, a App) error {
				entries, err := a.Store().ListTaxonomy(ctx)
				if err != nil {
					return fmt.Errorf("list taxonomy: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
}
