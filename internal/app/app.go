// Package app builds the long-lived services a command needs from configuration. It owns every resource it
// opens and releases them in Close.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose migrations.
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/discovery"
	"github.com/JakeFAU/catalog-crawler/internal/enrichment"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/policy/retry"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-crawler/internal/store"
	"github.com/JakeFAU/catalog-crawler/internal/thumbnail"
	"github.com/JakeFAU/catalog-crawler/internal/upstream"
	"github.com/JakeFAU/catalog-crawler/migrations"
)

// Host classes, one rate controller each.
const (
	HostSearch    = "search"
	HostDetail    = "detail"
	HostThumbnail = "thumbnail"
)

// App holds the shared services for one command invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	store     store.CatalogStore
	archive   catalog.ArchiveStore
	publisher catalog.Publisher

	searchCtl *ratelimit.Controller
	detailCtl *ratelimit.Controller
	thumbCtl  *ratelimit.Controller

	search *upstream.SearchClient
	detail *upstream.DetailClient
	thumbs *upstream.ThumbnailClient

	closers []func() error
}

// Option customizes New; tests use it to inject backends.
type Option func(*App)

// WithStore replaces the configured store.
func WithStore(st store.CatalogStore) Option {
	return func(a *App) {
		a.store = st
	}
}

// WithPublisher replaces the configured event publisher.
func WithPublisher(p catalog.Publisher) Option {
	return func(a *App) {
		a.publisher = p
	}
}

// New opens the store, archive, and publisher and builds one controller and client per host class.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		st, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	a.closers = append(a.closers, a.store.Close)

	if err := a.openArchive(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if err := a.openPublisher(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}

	a.buildUpstream()
	logger.Info("application services initialized",
		zap.String("store", cfg.StoreDriver()),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("events", a.publisher != nil),
		zap.Bool("dry_run", cfg.DryRun),
	)
	return a, nil
}

// OpenStore opens the catalog store for cfg.StoreDriver().
func OpenStore(ctx context.Context, cfg config.Config) (store.CatalogStore, error) {
	switch cfg.StoreDriver() {
	case config.DriverPostgres:
		st, err := pgstore.NewCatalogStore(ctx, pgstore.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlitestore.Open(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.DriverMemory:
		return memorystorage.NewCatalogStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver())
	}
}

// Migrate applies pending schema migrations for the configured driver and returns how many ran and the
// resulting version. The memory store has no schema.
func Migrate(ctx context.Context, cfg config.Config) (int, int64, error) {
	var driverName string
	var dialect migrations.Dialect
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		driverName, dialect = "pgx", migrations.Postgres
	case config.DriverSQLite:
		driverName, dialect = "sqlite", migrations.SQLite
	case config.DriverMemory:
		return 0, 0, nil
	default:
		return 0, 0, fmt.Errorf("unknown store driver %q", cfg.DB.Driver)
	}
	db, err := sql.Open(driverName, cfg.DB.DSN)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", cfg.DB.Driver, err)
	}
	defer db.Close() //nolint:errcheck // read-only handle

	applied, err := migrations.Up(ctx, db, dialect)
	if err != nil {
		return applied, 0, err
	}
	version, err := migrations.Version(ctx, db, dialect)
	if err != nil {
		return applied, 0, err
	}
	return applied, version, nil
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case "", config.ArchiveNone:
		return nil
	case config.ArchiveMemory:
		a.archive = memorystorage.NewBlobStore()
	case config.ArchiveLocal:
		bs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("open local archive: %w", err)
		}
		a.archive = bs
	case config.ArchiveGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		// The object prefix is applied by discovery, so the bucket store gets none.
		bs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("open gcs archive: %w", err)
		}
		a.archive = bs
	default:
		return fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	if a.publisher != nil || a.cfg.Events.Topic == "" {
		return nil
	}
	pub, err := gcppublisher.Connect(ctx, a.cfg.Events.ProjectID, a.cfg.Events.Topic)
	if err != nil {
		return fmt.Errorf("connect event publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.publisher = pub
	return nil
}

func (a *App) buildUpstream() {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Upstream.UserAgent,
		Timeout:   a.cfg.Upstream.Timeout,
	})
	policy := retry.New(a.cfg.Retry, nil)
	a.searchCtl = ratelimit.New(HostSearch, a.cfg.RateLimit.Search, a.clock, a.clock, a.logger)
	a.detailCtl = ratelimit.New(HostDetail, a.cfg.RateLimit.Detail, a.clock, a.clock, a.logger)
	a.thumbCtl = ratelimit.New(HostThumbnail, a.cfg.RateLimit.Thumbnail, a.clock, a.clock, a.logger)

	// Discovery owns its 429 loop, so the search caller hands rate limits straight back.
	searchCaller := upstream.NewCaller(HostSearch, fetcher, a.searchCtl, policy, a.clock, a.clock, a.logger,
		upstream.WithRateLimitPassthrough())
	detailCaller := upstream.NewCaller(HostDetail, fetcher, a.detailCtl, policy, a.clock, a.clock, a.logger)
	thumbCaller := upstream.NewCaller(HostThumbnail, fetcher, a.thumbCtl, policy, a.clock, a.clock, a.logger)

	a.search = upstream.NewSearchClient(a.cfg.Upstream.SearchBaseURL, searchCaller, a.clock)
	a.detail = upstream.NewDetailClient(a.cfg.Upstream.DetailBaseURL, detailCaller)
	a.thumbs = upstream.NewThumbnailClient(a.cfg.Upstream.ThumbnailBaseURL, thumbCaller)
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the catalog store.
func (a *App) Store() store.CatalogStore {
	return a.store
}

// Controllers returns the rate controllers in search, detail, thumbnail order.
func (a *App) Controllers() []*ratelimit.Controller {
	return []*ratelimit.Controller{a.searchCtl, a.detailCtl, a.thumbCtl}
}

// Discovery builds a crawler over the configured search client.
func (a *App) Discovery() *discovery.Crawler {
	var opts []discovery.Option
	if a.archive != nil {
		opts = append(opts, discovery.WithArchive(a.archive, a.cfg.Archive.Prefix))
	}
	return discovery.New(a.cfg.Discovery, a.search, a.store, uuid.New(), a.clock, a.clock, a.logger, opts...)
}

// Thumbnails builds the thumbnail fetcher.
func (a *App) Thumbnails() *thumbnail.Fetcher {
	return thumbnail.New(a.cfg.Thumbnails, a.thumbs, a.store, a.clock, a.logger)
}

// Enrichment builds a worker reading safe mode from the detail controller. follow overrides the configured
// follow flag when true.
func (a *App) Enrichment(follow bool) *enrichment.Worker {
	cfg := a.cfg.Enrichment
	if follow {
		cfg.Follow = true
	}
	var opts []enrichment.Option
	if a.cfg.Thumbnails.Enabled {
		opts = append(opts, enrichment.WithThumbnails(a.Thumbnails()))
	}
	if a.publisher != nil {
		opts = append(opts, enrichment.WithEvents(a.publisher, a.cfg.Events.Topic))
	}
	return enrichment.New(cfg, a.store, a.detail, a.detailCtl, a.clock, a.clock, a.logger, opts...)
}

// StatusServer builds the chi status server over the store and controllers.
func (a *App) StatusServer() *api.Server {
	snaps := make([]api.Snapshotter, 0, 3)
	for _, c := range a.Controllers() {
		snaps = append(snaps, c)
	}
	return api.NewServer(a.store, snaps, a.clock, a.logger)
}

// ServeStatus runs the status server in the background when metrics.addr is set. It stops when ctx ends.
func (a *App) ServeStatus(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	srv := a.StatusServer()
	go func() {
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			a.logger.Error("status server stopped", zap.Error(err))
		}
	}()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
