package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("catalog record not found")

// RunStore records discovery run bookkeeping.
type RunStore interface {
	// CreateRun inserts a new run in the running state.
	CreateRun(ctx context.Context, run catalog.DiscoveryRun) error
	// FinishRun writes the terminal status, finish time, notes, and counters.
	FinishRun(ctx context.Context, run catalog.DiscoveryRun) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (catalog.DiscoveryRun, error)
}

// DiscoveryStore persists what one search page produced.
type DiscoveryStore interface {
	RunStore
	// UpsertDiscovered writes the discovery field group keyed by item id. Enrichment fields are untouched and
	// first_seen_at is kept on conflict.
	UpsertDiscovered(ctx context.Context, items []catalog.DiscoveredItem) error
	// InsertHits appends provenance rows, ignoring (run_id, item_id) duplicates. It returns the rows written.
	InsertHits(ctx context.Context, hits []catalog.DiscoveryHit) (int, error)
	// EnqueueNew inserts queue entries due at `at` with priority new. Existing entries keep their schedule.
	EnqueueNew(ctx context.Context, itemIDs []int64, at time.Time) (int, error)
}

// QueueStore is the enrichment side of the refresh queue.
type QueueStore interface {
	// ClaimDue returns up to limit entries with next_run_at <= now, oldest first, and pushes their
	// next_run_at to now+lease so concurrent or crashed workers do not double-process them.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]catalog.QueueEntry, error)
	// ApplyItemUpdates writes enrichment results (authoritative fields or a soft delete).
	ApplyItemUpdates(ctx context.Context, updates []catalog.ItemUpdate) error
	// RescheduleQueue overwrites attempts, errors, and next_run_at for each entry.
	RescheduleQueue(ctx context.Context, updates []catalog.QueueUpdate) error
}

// ImageStore persists thumbnail rows keyed by (item_id, size, format).
type ImageStore interface {
	UpsertImages(ctx context.Context, images []catalog.ItemImage) error
}

// TaxonomyStore reads and seeds the taxonomy side table.
type TaxonomyStore interface {
	ListTaxonomy(ctx context.Context) ([]catalog.TaxonomyEntry, error)
	UpsertTaxonomy(ctx context.Context, entries []catalog.TaxonomyEntry) error
}

// Stats summarizes table sizes for the status endpoint and operators.
type Stats struct {
	Items      int64 `json:"items"`
	Enriched   int64 `json:"enriched"`
	Deleted    int64 `json:"deleted"`
	QueueTotal int64 `json:"queue_total"`
	QueueDue   int64 `json:"queue_due"`
	Runs       int64 `json:"runs"`
}

// Reader exposes read paths used by presentation layers, the status server, and tests.
type Reader interface {
	// GetItem loads one item or returns ErrNotFound.
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
	// GetQueueEntry loads one queue row or returns ErrNotFound.
	GetQueueEntry(ctx context.Context, id int64) (catalog.QueueEntry, error)
	// ListHits returns the provenance rows for one run ordered by page then item id.
	ListHits(ctx context.Context, runID uuid.UUID) ([]catalog.DiscoveryHit, error)
	// ListImages returns thumbnail rows for one item.
	ListImages(ctx context.Context, itemID int64) ([]catalog.ItemImage, error)
	// Stats counts rows; QueueDue is evaluated against now.
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// CatalogStore is the full persistence boundary implemented by every backend.
type CatalogStore interface {
	DiscoveryStore
	QueueStore
	ImageStore
	TaxonomyStore
	Reader
	Close() error
}
