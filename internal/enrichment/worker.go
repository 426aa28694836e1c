// Package enrichment drains the refresh queue: it claims due items, fetches their authoritative detail
// through a bounded pool, and writes the outcome back as item updates plus queue reschedules.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/store"
	"github.com/JakeFAU/catalog-crawler/internal/thumbnail"
	"github.com/JakeFAU/catalog-crawler/internal/upstream"
)

var tracer = otel.Tracer("github.com/JakeFAU/catalog-crawler/internal/enrichment")

// Config controls the worker loop.
type Config struct {
	BatchLimit          int           `mapstructure:"batch_limit"`
	Concurrency         int           `mapstructure:"concurrency"`
	BatchDelay          time.Duration `mapstructure:"batch_delay"`
	MaxItems            int           `mapstructure:"max_items"`
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"`
	DeleteRetryInterval time.Duration `mapstructure:"delete_retry_interval"`
	RateLimitRequeue    time.Duration `mapstructure:"rate_limit_requeue"`
	BaseRetry           time.Duration `mapstructure:"base_retry"`
	MaxRetryCeiling     time.Duration `mapstructure:"max_retry_ceiling"`
	SafeModeConcurrency int           `mapstructure:"safe_mode_concurrency"`
	SafeModeBatchLimit  int           `mapstructure:"safe_mode_batch_limit"`
	UpsertChunkSize     int           `mapstructure:"upsert_chunk_size"`
	ClaimLease          time.Duration `mapstructure:"claim_lease"`
	ErrorSamples        int           `mapstructure:"error_samples"`
	Follow              bool          `mapstructure:"follow"`
	IdlePoll            time.Duration `mapstructure:"idle_poll"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchLimit:          200,
		Concurrency:         8,
		BatchDelay:          2 * time.Second,
		RefreshInterval:     7 * 24 * time.Hour,
		DeleteRetryInterval: 30 * 24 * time.Hour,
		RateLimitRequeue:    15 * time.Minute,
		BaseRetry:           time.Minute,
		MaxRetryCeiling:     24 * time.Hour,
		SafeModeConcurrency: 2,
		SafeModeBatchLimit:  50,
		UpsertChunkSize:     500,
		ClaimLease:          10 * time.Minute,
		ErrorSamples:        5,
		IdlePoll:            30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchLimit <= 0 {
		c.BatchLimit = def.BatchLimit
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MaxItems < 0 {
		c.MaxItems = 0
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.DeleteRetryInterval <= 0 {
		c.DeleteRetryInterval = def.DeleteRetryInterval
	}
	if c.RateLimitRequeue <= 0 {
		c.RateLimitRequeue = def.RateLimitRequeue
	}
	if c.BaseRetry <= 0 {
		c.BaseRetry = def.BaseRetry
	}
	if c.MaxRetryCeiling < c.BaseRetry {
		c.MaxRetryCeiling = max(c.BaseRetry, def.MaxRetryCeiling)
	}
	if c.SafeModeConcurrency <= 0 {
		c.SafeModeConcurrency = min(def.SafeModeConcurrency, c.Concurrency)
	}
	if c.SafeModeBatchLimit <= 0 {
		c.SafeModeBatchLimit = min(def.SafeModeBatchLimit, c.BatchLimit)
	}
	if c.UpsertChunkSize <= 0 {
		c.UpsertChunkSize = def.UpsertChunkSize
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = def.ClaimLease
	}
	if c.ErrorSamples < 0 {
		c.ErrorSamples = 0
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = def.IdlePoll
	}
	return c
}

// Outcome classifies one enrichment attempt.
type Outcome string

// Enrichment outcomes.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailure     Outcome = "failure"
)

// Classify maps a detail call error to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, upstream.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, upstream.ErrRateLimited):
		return OutcomeRateLimited
	default:
		return OutcomeFailure
	}
}

// RetryDelay is the generic failure backoff: BaseRetry doubled per prior attempt, capped at ceiling.
// attempts counts the failure being scheduled, so the first failure waits base.
func RetryDelay(base, ceiling time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		if delay >= ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return min(delay, ceiling)
}

// Detailer fetches one item's authoritative record.
type Detailer interface {
	Item(ctx context.Context, id int64) (catalog.ItemDetail, error)
}

// SafeModeReporter exposes the detail controller's degraded flag.
type SafeModeReporter interface {
	SafeMode() bool
}

// Thumbnailer resolves images for freshly enriched items.
type Thumbnailer interface {
	Fetch(ctx context.Context, ids []int64) (thumbnail.Summary, error)
}

// BatchSummary reports one claimed batch.
type BatchSummary struct {
	Claimed      int      `json:"claimed"`
	Processed    int      `json:"processed"`
	Updated      int      `json:"updated"`
	Deleted      int      `json:"deleted"`
	RateLimited  int      `json:"rate_limited"`
	Failed       int      `json:"failed"`
	Abandoned    int      `json:"abandoned"`
	Concurrency  int      `json:"concurrency"`
	SafeMode     bool     `json:"safe_mode"`
	ErrorSamples []string `json:"error_samples,omitempty"`
}

// Summary aggregates every batch of one Run.
type Summary struct {
	Batches     int `json:"batches"`
	Processed   int `json:"processed"`
	Updated     int `json:"updated"`
	Deleted     int `json:"deleted"`
	RateLimited int `json:"rate_limited"`
	Failed      int `json:"failed"`
}

func (s *Summary) add(b BatchSummary) {
	if b.Claimed > 0 {
		s.Batches++
	}
	s.Processed += b.Processed
	s.Updated += b.Updated
	s.Deleted += b.Deleted
	s.RateLimited += b.RateLimited
	s.Failed += b.Failed
}

// Option customizes a Worker.
type Option func(*Worker)

// WithThumbnails runs the thumbnail fetcher over each batch's successful ids.
func WithThumbnails(t Thumbnailer) Option {
	return func(w *Worker) {
		w.thumbs = t
	}
}

// WithEvents publishes item.enriched and item.deleted events to topic.
func WithEvents(publisher catalog.Publisher, topic string) Option {
	return func(w *Worker) {
		w.publisher = publisher
		w.topic = topic
	}
}

// Worker is the enrichment loop.
type Worker struct {
	cfg      Config
	store    store.QueueStore
	detailer Detailer
	safeMode SafeModeReporter
	clock    catalog.Clock
	sleeper  catalog.Sleeper
	logger   *zap.Logger

	thumbs    Thumbnailer
	publisher catalog.Publisher
	topic     string

	warnSampler *rate.Sometimes
}

// New constructs a Worker. safeMode may be nil, in which case the normal profile is always used.
func New(
	cfg Config,
	st store.QueueStore,
	detailer Detailer,
	safeMode SafeModeReporter,
	clock catalog.Clock,
	sleeper catalog.Sleeper,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		cfg:         cfg.withDefaults(),
		store:       st,
		detailer:    detailer,
		safeMode:    safeMode,
		clock:       clock,
		sleeper:     sleeper,
		logger:      logger.Named("enrichment"),
		warnSampler: &rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes batches until the queue has nothing due or MaxItems is reached. With Follow it keeps polling
// every IdlePoll until ctx ends, which is then a clean stop.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	var total Summary
	for {
		if w.cfg.MaxItems > 0 && total.Processed >= w.cfg.MaxItems {
			w.logger.Info("enrichment item cap reached", zap.Int("processed", total.Processed))
			return total, nil
		}
		remaining := 0
		if w.cfg.MaxItems > 0 {
			remaining = w.cfg.MaxItems - total.Processed
		}
		batch, err := w.RunBatch(ctx, remaining)
		total.add(batch)
		if err != nil {
			if w.cfg.Follow && ctx.Err() != nil {
				return total, nil
			}
			return total, err
		}

		delay := w.cfg.BatchDelay
		if batch.Claimed == 0 {
			if !w.cfg.Follow {
				w.logger.Info("refresh queue drained",
					zap.Int("processed", total.Processed),
					zap.Int("updated", total.Updated),
					zap.Int("deleted", total.Deleted),
					zap.Int("rate_limited", total.RateLimited),
					zap.Int("failed", total.Failed),
				)
				return total, nil
			}
			delay = w.cfg.IdlePoll
		}
		if err := w.sleeper.Sleep(ctx, delay); err != nil {
			if w.cfg.Follow {
				return total, nil
			}
			return total, fmt.Errorf("enrichment interrupted: %w", err)
		}
	}
}

type result struct {
	entry  catalog.QueueEntry
	detail catalog.ItemDetail
	err    error
}

// RunBatch claims and processes one batch. limit caps the claim size when positive.
func (w *Worker) RunBatch(ctx context.Context, limit int) (BatchSummary, error) {
	ctx, span := tracer.Start(ctx, "enrichment.batch")
	defer span.End()
	summary, err := w.runBatch(ctx, limit)
	span.SetAttributes(
		attribute.Int("claimed", summary.Claimed),
		attribute.Int("updated", summary.Updated),
		attribute.Int("failed", summary.Failed),
		attribute.Bool("safe_mode", summary.SafeMode),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrichment batch failed")
	}
	return summary, err
}

func (w *Worker) runBatch(ctx context.Context, limit int) (BatchSummary, error) {
	safe := w.safeMode != nil && w.safeMode.SafeMode()
	concurrency, batchLimit := w.cfg.Concurrency, w.cfg.BatchLimit
	if safe {
		concurrency, batchLimit = w.cfg.SafeModeConcurrency, w.cfg.SafeModeBatchLimit
	}
	if limit > 0 && limit < batchLimit {
		batchLimit = limit
	}
	summary := BatchSummary{Concurrency: concurrency, SafeMode: safe}

	entries, err := w.store.ClaimDue(ctx, w.clock.Now(), batchLimit, w.cfg.ClaimLease)
	if err != nil {
		return summary, fmt.Errorf("claim due items: %w", err)
	}
	summary.Claimed = len(entries)
	if len(entries) == 0 {
		return summary, nil
	}

	results := w.process(ctx, entries, concurrency)

	// Items cut off by cancellation keep their lease and are re-offered later; everything that finished is
	// written even if ctx has ended.
	writeCtx := context.WithoutCancel(ctx)
	at := w.clock.Now()
	items := make([]catalog.ItemUpdate, 0, len(results))
	queue := make([]catalog.QueueUpdate, 0, len(results))
	var enriched, deleted []int64
	for _, r := range results {
		if r.err != nil && ctx.Err() != nil && isContextErr(r.err) {
			summary.Abandoned++
			continue
		}
		summary.Processed++
		outcome := Classify(r.err)
		metrics.ObserveEnrichment(string(outcome))
		id := r.entry.ItemID
		switch outcome {
		case OutcomeSuccess:
			summary.Updated++
			detail := r.detail
			items = append(items, catalog.ItemUpdate{ItemID: id, Detail: &detail, EnrichedAt: at})
			queue = append(queue, catalog.QueueUpdate{
				ItemID:        id,
				Priority:      catalog.PriorityRefresh,
				LastAttemptAt: at,
				NextRunAt:     at.Add(w.cfg.RefreshInterval),
			})
			enriched = append(enriched, id)
		case OutcomeNotFound:
			summary.Deleted++
			items = append(items, catalog.ItemUpdate{ItemID: id, Deleted: true, EnrichedAt: at})
			queue = append(queue, catalog.QueueUpdate{
				ItemID:        id,
				Priority:      catalog.PriorityDeleted,
				LastAttemptAt: at,
				LastError:     "not found",
				NextRunAt:     at.Add(w.cfg.DeleteRetryInterval),
			})
			deleted = append(deleted, id)
		case OutcomeRateLimited:
			summary.RateLimited++
			queue = append(queue, catalog.QueueUpdate{
				ItemID:        id,
				Priority:      r.entry.Priority,
				Attempts:      r.entry.Attempts,
				LastAttemptAt: at,
				LastError:     r.err.Error(),
				NextRunAt:     at.Add(w.cfg.RateLimitRequeue),
			})
		default:
			summary.Failed++
			attempts := r.entry.Attempts + 1
			queue = append(queue, catalog.QueueUpdate{
				ItemID:        id,
				Priority:      catalog.PriorityRetry,
				Attempts:      attempts,
				LastAttemptAt: at,
				LastError:     r.err.Error(),
				NextRunAt:     at.Add(RetryDelay(w.cfg.BaseRetry, w.cfg.MaxRetryCeiling, attempts)),
			})
		}
		if r.err != nil && outcome != OutcomeNotFound {
			w.noteError(&summary, id, outcome, r.err)
		}
	}

	if err := w.write(writeCtx, items, queue); err != nil {
		return summary, err
	}
	w.logBatch(summary)

	if ctx.Err() == nil {
		w.afterBatch(ctx, enriched, deleted, at)
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("enrichment batch: %w", err)
	}
	return summary, nil
}

// process runs every entry through the detail client with at most concurrency calls in flight. A new item is
// admitted as soon as any running one completes.
func (w *Worker) process(ctx context.Context, entries []catalog.QueueEntry, concurrency int) []result {
	results := make([]result, len(entries))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			metrics.IncInflight()
			defer metrics.DecInflight()
			detail, err := w.detailer.Item(ctx, entry.ItemID)
			results[i] = result{entry: entry, detail: detail, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// write persists item rows before queue rows, each in UpsertChunkSize chunks.
func (w *Worker) write(ctx context.Context, items []catalog.ItemUpdate, queue []catalog.QueueUpdate) error {
	size := w.cfg.UpsertChunkSize
	for start := 0; start < len(items); start += size {
		if err := w.store.ApplyItemUpdates(ctx, items[start:min(start+size, len(items))]); err != nil {
			return fmt.Errorf("write item updates: %w", err)
		}
	}
	for start := 0; start < len(queue); start += size {
		if err := w.store.RescheduleQueue(ctx, queue[start:min(start+size, len(queue))]); err != nil {
			return fmt.Errorf("reschedule queue: %w", err)
		}
	}
	return nil
}

func (w *Worker) noteError(summary *BatchSummary, id int64, outcome Outcome, err error) {
	if len(summary.ErrorSamples) < w.cfg.ErrorSamples {
		summary.ErrorSamples = append(summary.ErrorSamples, fmt.Sprintf("item %d: %v", id, err))
	}
	w.warnSampler.Do(func() {
		w.logger.Warn("enrichment attempt failed",
			zap.Int64("item_id", id),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	})
}

func (w *Worker) logBatch(summary BatchSummary) {
	w.logger.Info("enrichment batch finished",
		zap.Int("claimed", summary.Claimed),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("deleted", summary.Deleted),
		zap.Int("rate_limited", summary.RateLimited),
		zap.Int("failed", summary.Failed),
		zap.Int("abandoned", summary.Abandoned),
		zap.Int("concurrency", summary.Concurrency),
		zap.Bool("safe_mode", summary.SafeMode),
		zap.Strings("error_samples", summary.ErrorSamples),
	)
}

// afterBatch runs the best-effort follow-ups: thumbnails and change events.
func (w *Worker) afterBatch(ctx context.Context, enriched, deleted []int64, at time.Time) {
	if w.thumbs != nil && len(enriched) > 0 {
		if summary, err := w.thumbs.Fetch(ctx, enriched); err != nil {
			w.logger.Warn("thumbnail fetch failed", zap.Int("ids", len(enriched)), zap.Error(err))
		} else {
			w.logger.Debug("thumbnails stored", zap.Int("rows", summary.Rows), zap.Int("failed_chunks", summary.FailedChunks))
		}
	}
	if w.publisher == nil || w.topic == "" {
		return
	}
	publish := func(eventType string, ids []int64) {
		for _, id := range ids {
			event := Event{Type: eventType, ItemID: id, At: at}
			if _, err := w.publisher.Publish(ctx, w.topic, event); err != nil {
				w.warnSampler.Do(func() {
					w.logger.Warn("publish event failed", zap.String("type", eventType), zap.Int64("item_id", id), zap.Error(err))
				})
			}
		}
	}
	publish(EventItemEnriched, enriched)
	publish(EventItemDeleted, deleted)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
