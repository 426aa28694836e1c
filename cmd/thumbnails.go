package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newThumbnailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thumbnails <item-id>...",
		Short: "Resolve and store thumbnail URLs for the given items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runWithApp(cmd, nil, func(ctx context.Context, a App) error {
				summary, err := a.Thumbnails().Fetch(ctx, ids)
				if err != nil {
					return fmt.Errorf("fetch thumbnails: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
