// Package cmd defines the catalogd command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/discovery"
	"github.com/JakeFAU/catalog-crawler/internal/enrichment"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/store"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
	"github.com/JakeFAU/catalog-crawler/internal/thumbnail"
)

// App is the service surface commands use. Tests swap the factory below.
type App interface {
	Logger() *zap.Logger
	Store() store.CatalogStore
	Discovery() *discovery.Crawler
	Enrichment(follow bool) *enrichment.Worker
	Thumbnails() *thumbnail.Fetcher
	ServeStatus(ctx context.Context)
	Close() error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// runtime is what the root pre-run hook prepares for every subcommand.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	shutdown telemetry.ShutdownFunc
}

type runtimeKey struct{}

type rootOptions struct {
	cfgFile string
	dryRun  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "catalogd",
		Short: "Discovers and enriches a marketplace item catalog.",
		Long: `catalogd sweeps the marketplace search endpoint to discover items, keeps a refresh
queue of everything it has seen, and drains that queue against the detail endpoint while
adapting to upstream rate limits.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			if opts.dryRun {
				cfg.DryRun = true
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: logger, shutdown: shutdown}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime)
			if !ok {
				return
			}
			if err := rt.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				rt.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
			_ = rt.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default searches ./catalogd.yaml, /etc/catalogd, $HOME/.catalogd)")
	cmd.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "use the in-memory store; nothing is persisted")

	cmd.AddCommand(
		newDiscoverCmd(),
		newEnrichCmd(),
		newThumbnailsCmd(),
		newMigrateCmd(),
		newTaxonomyCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// runWithApp builds the application after adjust has applied command flags, starts the status server, runs
// fn, and closes the application.
func runWithApp(cmd *cobra.Command, adjust func(*config.Config), fn func(ctx context.Context, a App) error) error {
	ctx := cmd.Context()
	rt, err := runtimeFrom(ctx)
	if err != nil {
		return err
	}
	cfg := rt.cfg
	if adjust != nil {
		adjust(&cfg)
	}
	a, err := newApp(ctx, cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			rt.logger.Warn("close application services", zap.Error(cerr))
		}
	}()
	statusCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ServeStatus(statusCtx)
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
