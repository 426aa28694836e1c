package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/config"
)

func newEnrichCmd() *cobra.Command {
	var (
		follow   bool
		maxItems int
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Drain the refresh queue against the detail endpoint",
		Long: `Claims due queue entries in batches, fetches each item's authoritative detail
through a bounded pool, and reschedules every entry by outcome. Without --follow the
command exits once nothing is due; with it, the queue is polled until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			adjust := func(cfg *config.Config) {
				if cmd.Flags().Changed("max-items") {
					cfg.Enrichment.MaxItems = maxItems
				}
			}
			return runWithApp(cmd, adjust, func(ctx context.Context, a App) error {
				summary, err := a.Enrichment(follow).Run(ctx)
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
				if err != nil {
					return fmt.Errorf("enrichment: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling for due items until interrupted")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after this many items (0 = unlimited)")
	return cmd
}
