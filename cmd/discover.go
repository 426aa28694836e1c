package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/config"
)

func newDiscoverCmd() *cobra.Command {
	var (
		category string
		maxItems int
		maxPages int
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery sweep over the search endpoint",
		Long: `Walks every configured (category, subcategory, sort, keyword) query, pages through
the results, records each item and its provenance, and queues new items for enrichment.
The run is recorded as completed or failed before the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			adjust := func(cfg *config.Config) {
				if cmd.Flags().Changed("category") {
					cfg.Discovery.TargetCategory = category
				}
				if cmd.Flags().Changed("max-items") {
					cfg.Discovery.MaxItems = maxItems
				}
				if cmd.Flags().Changed("max-pages") {
					cfg.Discovery.MaxPages = maxPages
				}
			}
			return runWithApp(cmd, adjust, func(ctx context.Context, a App) error {
				summary, err := a.Discovery().Run(ctx)
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
				if err != nil {
					return fmt.Errorf("discovery run %s: %w", summary.RunID, err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only sweep this category")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after this many items (0 = unlimited)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 = unlimited)")
	return cmd
}
