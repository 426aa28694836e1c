// Package discovery enumerates the search query space and records every item it finds. Discovery is strictly
// sequential: one query, one page at a time, each page persisted before the next is requested.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/store"
	"github.com/JakeFAU/catalog-crawler/internal/upstream"
)

var tracer = otel.Tracer("github.com/JakeFAU/catalog-crawler/internal/discovery")

// Config controls one discovery run.
type Config struct {
	Strategy          string           `mapstructure:"strategy"`
	TargetCategory    string           `mapstructure:"target_category"`
	PageSize          int              `mapstructure:"page_size"`
	MaxItems          int              `mapstructure:"max_items"`
	MaxPages          int              `mapstructure:"max_pages"`
	RateLimitRetries  int              `mapstructure:"rate_limit_retries"`
	RateLimitCooldown time.Duration    `mapstructure:"rate_limit_cooldown"`
	SortTypes         []string         `mapstructure:"sort_types"`
	Keywords          []string         `mapstructure:"keywords"`
	Targets           []catalog.Target `mapstructure:"targets"`
}

// Searcher fetches one page of search results.
type Searcher interface {
	Page(ctx context.Context, q catalog.Query, cursor string) (upstream.SearchPage, error)
}

// RunIDs mints discovery run identifiers.
type RunIDs interface {
	NewRunID() (uuid.UUID, error)
}

// Store is the persistence surface discovery writes to.
type Store interface {
	store.DiscoveryStore
	ListTaxonomy(ctx context.Context) ([]catalog.TaxonomyEntry, error)
}

// RunSummary reports what one run did.
type RunSummary struct {
	RunID            uuid.UUID         `json:"run_id"`
	Status           catalog.RunStatus `json:"status"`
	QueriesPlanned   int               `json:"queries_planned"`
	QueriesIssued    int               `json:"queries_issued"`
	QueriesDuplicate int               `json:"queries_duplicate"`
	QueriesExhausted int               `json:"queries_exhausted"`
	QueriesAborted   int               `json:"queries_aborted"`
	PagesFetched     int               `json:"pages_fetched"`
	ItemsSeen        int               `json:"items_seen"`
	HitsInserted     int               `json:"hits_inserted"`
	Enqueued         int               `json:"enqueued"`
	CapReached       bool              `json:"cap_reached"`
	Duration         time.Duration     `json:"duration"`
}

// errRateLimitBudget marks a page that stayed rate limited for every allowed retry.
var errRateLimitBudget = errors.New("rate limit retry budget spent")

// Option customizes a Crawler.
type Option func(*Crawler)

// WithArchive stores each raw search page under prefix. Archive failures are logged and ignored.
func WithArchive(archive catalog.ArchiveStore, prefix string) Option {
	return func(c *Crawler) {
		c.archive = archive
		c.archivePrefix = prefix
	}
}

// Crawler walks the query space for one run.
type Crawler struct {
	cfg      Config
	searcher Searcher
	store    Store
	ids      RunIDs
	clock    catalog.Clock
	sleeper  catalog.Sleeper
	logger   *zap.Logger

	archive       catalog.ArchiveStore
	archivePrefix string
}

// New constructs a Crawler.
func New(
	cfg Config,
	searcher Searcher,
	st Store,
	ids RunIDs,
	clock catalog.Clock,
	sleeper catalog.Sleeper,
	logger *zap.Logger,
	opts ...Option,
) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "category_sweep"
	}
	if cfg.RateLimitRetries < 0 {
		cfg.RateLimitRetries = 0
	}
	c := &Crawler{
		cfg:      cfg,
		searcher: searcher,
		store:    st,
		ids:      ids,
		clock:    clock,
		sleeper:  sleeper,
		logger:   logger.Named("discovery"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one discovery run. The run row is always finished: completed on success, failed with the
// error text otherwise. The returned error is the crawl error, if any.
func (c *Crawler) Run(ctx context.Context) (RunSummary, error) {
	runID, err := c.ids.NewRunID()
	if err != nil {
		return RunSummary{}, err
	}
	ctx, span := tracer.Start(ctx, "discovery.run", trace.WithAttributes(
		attribute.String("run_id", runID.String()),
		attribute.String("strategy", c.cfg.Strategy),
	))
	defer span.End()
	started := c.clock.Now()
	run := catalog.DiscoveryRun{
		ID:             runID,
		Strategy:       c.cfg.Strategy,
		TargetCategory: c.cfg.TargetCategory,
		Status:         catalog.RunStatusRunning,
		StartedAt:      started,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return RunSummary{}, fmt.Errorf("create discovery run: %w", err)
	}
	logger := c.logger.With(zap.String("run_id", runID.String()))
	logger.Info("discovery run started",
		zap.String("strategy", run.Strategy),
		zap.String("target_category", run.TargetCategory),
	)

	summary := RunSummary{RunID: runID}
	crawlErr := c.crawl(ctx, runID, &summary, logger)

	finished := c.clock.Now()
	summary.Duration = finished.Sub(started)
	run.FinishedAt = &finished
	run.QueriesIssued = summary.QueriesIssued
	run.PagesFetched = summary.PagesFetched
	run.ItemsSeen = summary.ItemsSeen
	run.Status = catalog.RunStatusCompleted
	if crawlErr != nil {
		run.Status = catalog.RunStatusFailed
		run.Notes = crawlErr.Error()
		span.RecordError(crawlErr)
		span.SetStatus(codes.Error, "discovery run failed")
	}
	span.SetAttributes(
		attribute.Int("pages_fetched", summary.PagesFetched),
		attribute.Int("items_seen", summary.ItemsSeen),
	)
	summary.Status = run.Status

	// A canceled run must still be recorded as failed.
	if err := c.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		finishErr := fmt.Errorf("finish discovery run: %w", err)
		if crawlErr == nil {
			return summary, finishErr
		}
		return summary, errors.Join(crawlErr, finishErr)
	}

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("queries_issued", summary.QueriesIssued),
		zap.Int("queries_duplicate", summary.QueriesDuplicate),
		zap.Int("queries_aborted", summary.QueriesAborted),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("items_seen", summary.ItemsSeen),
		zap.Int("enqueued", summary.Enqueued),
		zap.Bool("cap_reached", summary.CapReached),
		zap.Duration("duration", summary.Duration),
	}
	if crawlErr != nil {
		logger.Error("discovery run failed", append(fields, zap.Error(crawlErr))...)
		return summary, crawlErr
	}
	logger.Info("discovery run finished", fields...)
	return summary, nil
}

func (c *Crawler) crawl(ctx context.Context, runID uuid.UUID, summary *RunSummary, logger *zap.Logger) error {
	targets, err := c.targets(ctx)
	if err != nil {
		return err
	}
	queries := Queries(targets, c.cfg.SortTypes, c.cfg.Keywords, c.cfg.PageSize)
	summary.QueriesPlanned = len(queries)
	if len(queries) == 0 {
		logger.Warn("no discovery targets configured")
		return nil
	}

	seen := catalog.NewFingerprintSet()
	for _, q := range queries {
		if c.capReached(summary) {
			summary.CapReached = true
			logger.Info("discovery cap reached",
				zap.Int("pages_fetched", summary.PagesFetched),
				zap.Int("items_seen", summary.ItemsSeen),
			)
			return nil
		}
		fp := q.Fingerprint()
		if !seen.MarkIfNew(fp) {
			summary.QueriesDuplicate++
			metrics.ObserveQuery("duplicate")
			continue
		}
		summary.QueriesIssued++
		if err := c.walk(ctx, runID, q, fp, summary, logger); err != nil {
			return err
		}
	}
	return nil
}

func (c *Crawler) targets(ctx context.Context) ([]catalog.Target, error) {
	targets := c.cfg.Targets
	if len(targets) == 0 {
		entries, err := c.store.ListTaxonomy(ctx)
		if err != nil {
			return nil, fmt.Errorf("load taxonomy: %w", err)
		}
		targets = catalog.TargetsFromTaxonomy(entries)
	}
	return filterTargets(targets, c.cfg.TargetCategory), nil
}

func (c *Crawler) capReached(summary *RunSummary) bool {
	if c.cfg.MaxPages > 0 && summary.PagesFetched >= c.cfg.MaxPages {
		return true
	}
	return c.cfg.MaxItems > 0 && summary.ItemsSeen >= c.cfg.MaxItems
}

// walk pages through one query until it is exhausted or aborted. Only persistence failures and
// cancellation are returned as errors.
func (c *Crawler) walk(
	ctx context.Context,
	runID uuid.UUID,
	q catalog.Query,
	fp string,
	summary *RunSummary,
	logger *zap.Logger,
) error {
	logger = logger.With(
		zap.String("fingerprint", fp),
		zap.String("category", q.Category),
		zap.String("subcategory", q.Subcategory),
		zap.String("sort_type", q.SortType),
		zap.String("keyword", q.Keyword),
	)
	state := StatePaging
	reason := ""
	cursor := ""
	cursors := map[string]struct{}{}
	pages, items := 0, 0

	for state == StatePaging {
		if c.capReached(summary) {
			summary.CapReached = true
			state, reason = StateAborted, "cap reached"
			break
		}
		page, err := c.fetchPage(ctx, q, cursor, logger)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("query %s: %w", fp, ctxErr)
			}
			if errors.Is(err, errRateLimitBudget) {
				state, reason = StateAborted, err.Error()
			} else {
				state, reason = StateExhausted, err.Error()
			}
			break
		}
		pages++
		summary.PagesFetched++
		if len(page.Items) == 0 {
			state, reason = StateExhausted, "empty page"
			break
		}
		written, err := c.persistPage(ctx, runID, q, fp, pages, page)
		if err != nil {
			return err
		}
		items += len(page.Items)
		summary.ItemsSeen += len(page.Items)
		summary.HitsInserted += written.hits
		summary.Enqueued += written.enqueued
		metrics.ObserveDiscoveredItems(len(page.Items))

		next := page.NextCursor
		if next == "" {
			state, reason = StateExhausted, "last page"
			break
		}
		if _, repeated := cursors[next]; repeated || next == cursor {
			state, reason = StateAborted, "cursor repeated"
			break
		}
		cursors[cursor] = struct{}{}
		cursor = next
	}

	if state == StateAborted {
		summary.QueriesAborted++
	} else {
		summary.QueriesExhausted++
	}
	metrics.ObserveQuery(string(state))
	logger.Info("query finished",
		zap.String("state", string(state)),
		zap.String("reason", reason),
		zap.Int("pages", pages),
		zap.Int("items", items),
	)
	return nil
}

// fetchPage requests one page, sitting out rate limits for a fixed cooldown up to RateLimitRetries times.
func (c *Crawler) fetchPage(ctx context.Context, q catalog.Query, cursor string, logger *zap.Logger) (upstream.SearchPage, error) {
	for attempt := 0; ; attempt++ {
		page, err := c.searcher.Page(ctx, q, cursor)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, upstream.ErrRateLimited) {
			return upstream.SearchPage{}, err
		}
		if attempt >= c.cfg.RateLimitRetries {
			return upstream.SearchPage{}, fmt.Errorf("%w after %d retries: %w", errRateLimitBudget, attempt, err)
		}
		logger.Warn("search rate limited",
			zap.Int("attempt", attempt+1),
			zap.Duration("cooldown", c.cfg.RateLimitCooldown),
		)
		if err := c.sleeper.Sleep(ctx, c.cfg.RateLimitCooldown); err != nil {
			return upstream.SearchPage{}, err
		}
	}
}

type pageWrite struct {
	hits     int
	enqueued int
}

func (c *Crawler) persistPage(
	ctx context.Context,
	runID uuid.UUID,
	q catalog.Query,
	fp string,
	pageNo int,
	page upstream.SearchPage,
) (pageWrite, error) {
	now := c.clock.Now()
	seen := make([]catalog.DiscoveredItem, len(page.Items))
	for i, it := range page.Items {
		it.SeenAt = now
		seen[i] = it
	}
	if err := c.store.UpsertDiscovered(ctx, seen); err != nil {
		return pageWrite{}, fmt.Errorf("persist page %d of %s: %w", pageNo, fp, err)
	}
	hits := make([]catalog.DiscoveryHit, 0, len(page.Items))
	ids := make([]int64, 0, len(page.Items))
	for _, it := range page.Items {
		hits = append(hits, catalog.DiscoveryHit{
			RunID:       runID,
			ItemID:      it.ID,
			Fingerprint: fp,
			Category:    q.Category,
			Subcategory: q.Subcategory,
			Keyword:     q.Keyword,
			SortType:    q.SortType,
			Page:        pageNo,
			SeenAt:      now,
		})
		ids = append(ids, it.ID)
	}
	hitCount, err := c.store.InsertHits(ctx, hits)
	if err != nil {
		return pageWrite{}, fmt.Errorf("record hits for page %d of %s: %w", pageNo, fp, err)
	}
	enqueued, err := c.store.EnqueueNew(ctx, ids, now)
	if err != nil {
		return pageWrite{}, fmt.Errorf("enqueue page %d of %s: %w", pageNo, fp, err)
	}
	c.archivePage(ctx, runID, fp, pageNo, page.Raw)
	return pageWrite{hits: hitCount, enqueued: enqueued}, nil
}

// ArchivePath is the blob path of one raw search page.
func ArchivePath(prefix string, runID uuid.UUID, fp string, pageNo int) string {
	return path.Join(prefix, "search", runID.String(), fp, "page-"+strconv.Itoa(pageNo)+".json")
}

func (c *Crawler) archivePage(ctx context.Context, runID uuid.UUID, fp string, pageNo int, raw []byte) {
	if c.archive == nil || len(raw) == 0 {
		return
	}
	p := ArchivePath(c.archivePrefix, runID, fp, pageNo)
	if _, err := c.archive.PutObject(ctx, p, "application/json", bytes.NewReader(raw)); err != nil {
		c.logger.Warn("archive search page failed", zap.String("path", p), zap.Error(err))
	}
}
