package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations for the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			applied, version, err := app.Migrate(cmd.Context(), rt.cfg)
			if err != nil {
				return err
			}
			rt.logger.Info("migrations applied",
				zap.String("driver", rt.cfg.DB.Driver),
				zap.Int("applied", applied),
				zap.Int64("version", version),
			)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"driver":  rt.cfg.DB.Driver,
				"applied": applied,
				"version": version,
			})
		},
	}
}
