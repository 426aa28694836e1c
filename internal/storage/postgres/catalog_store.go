// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// CatalogStore implements store.CatalogStore on Postgres. Bulk writes pass column arrays through unnest so
// each chunk is a single round trip.
type CatalogStore struct {
	pool pool
}

var _ store.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore connects a pool using cfg.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CatalogStore{pool: p}, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(p pool) (*CatalogStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// CreateRun inserts a running discovery run.
func (s *CatalogStore) CreateRun(ctx context.Context, run catalog.DiscoveryRun) error {
	const query = `
INSERT INTO discovery_runs (id, strategy, target_category, status, started_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.Strategy, run.TargetCategory, string(run.Status), run.StartedAt); err != nil {
		return fmt.Errorf("insert discovery run: %w", err)
	}
	return nil
}

// FinishRun writes the terminal state of a run.
func (s *CatalogStore) FinishRun(ctx context.Context, run catalog.DiscoveryRun) error {
	const query = `
UPDATE discovery_runs
SET status = $2, finished_at = $3, notes = $4, queries_issued = $5, pages_fetched = $6, items_seen = $7
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		run.ID,
		string(run.Status),
		run.FinishedAt,
		run.Notes,
		run.QueriesIssued,
		run.PagesFetched,
		run.ItemsSeen,
	)
	if err != nil {
		return fmt.Errorf("finish discovery run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish discovery run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

// GetRun loads a run by id.
func (s *CatalogStore) GetRun(ctx context.Context, id uuid.UUID) (catalog.DiscoveryRun, error) {
	const query = `
SELECT id, strategy, target_category, status, started_at, finished_at, notes, queries_issued, pages_fetched, items_seen
FROM discovery_runs WHERE id = $1`
	var (
		run    catalog.DiscoveryRun
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Strategy,
		&run.TargetCategory,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Notes,
		&run.QueriesIssued,
		&run.PagesFetched,
		&run.ItemsSeen,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.DiscoveryRun{}, store.ErrNotFound
		}
		return catalog.DiscoveryRun{}, fmt.Errorf("get discovery run: %w", err)
	}
	run.Status = catalog.RunStatus(status)
	return run, nil
}

// UpsertDiscovered writes the discovery field group. Duplicate ids in one call collapse to the last one.
func (s *CatalogStore) UpsertDiscovered(ctx context.Context, items []catalog.DiscoveredItem) error {
	items = lastByID(items)
	if len(items) == 0 {
		return nil
	}
	const query = `
INSERT INTO catalog_items (
	id, name, price, seller_name, seller_id, is_for_sale, is_limited, favorites, search_payload,
	first_seen_at, last_seen_at
)
SELECT u.id, u.name, u.price, u.seller_name, u.seller_id, u.is_for_sale, u.is_limited, u.favorites,
	u.search_payload::jsonb, u.seen_at, u.seen_at
FROM unnest($1::bigint[], $2::text[], $3::bigint[], $4::text[], $5::bigint[], $6::boolean[], $7::boolean[],
	$8::bigint[], $9::text[], $10::timestamptz[])
	AS u(id, name, price, seller_name, seller_id, is_for_sale, is_limited, favorites, search_payload, seen_at)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	price = EXCLUDED.price,
	seller_name = EXCLUDED.seller_name,
	seller_id = EXCLUDED.seller_id,
	is_for_sale = EXCLUDED.is_for_sale,
	is_limited = EXCLUDED.is_limited,
	favorites = EXCLUDED.favorites,
	search_payload = EXCLUDED.search_payload,
	last_seen_at = GREATEST(catalog_items.last_seen_at, EXCLUDED.last_seen_at)`

	n := len(items)
	var (
		ids         = make([]int64, n)
		names       = make([]string, n)
		prices      = make([]*int64, n)
		sellerNames = make([]string, n)
		sellerIDs   = make([]int64, n)
		forSale     = make([]bool, n)
		limited     = make([]bool, n)
		favorites   = make([]int64, n)
		payloads    = make([]*string, n)
		seenAt      = make([]time.Time, n)
	)
	for i, it := range items {
		ids[i] = it.ID
		names[i] = it.Name
		prices[i] = it.Price
		sellerNames[i] = it.SellerName
		sellerIDs[i] = it.SellerID
		forSale[i] = it.IsForSale
		limited[i] = it.IsLimited
		favorites[i] = it.Favorites
		payloads[i] = jsonText(it.SearchPayload)
		seenAt[i] = it.SeenAt
	}
	if _, err := s.pool.Exec(ctx, query, ids, names, prices, sellerNames, sellerIDs, forSale, limited, favorites, payloads, seenAt); err != nil {
		return fmt.Errorf("upsert discovered items: %w", err)
	}
	return nil
}

// InsertHits appends provenance rows, ignoring (run_id, item_id) duplicates.
func (s *CatalogStore) InsertHits(ctx context.Context, hits []catalog.DiscoveryHit) (int, error) {
	if len(hits) == 0 {
		return 0, nil
	}
	const query = `
INSERT INTO discovery_hits (run_id, item_id, fingerprint, category, subcategory, keyword, sort_type, page, seen_at)
SELECT u.run_id, u.item_id, u.fingerprint, u.category, u.subcategory, u.keyword, u.sort_type, u.page, u.seen_at
FROM unnest($1::uuid[], $2::bigint[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::integer[],
	$9::timestamptz[])
	AS u(run_id, item_id, fingerprint, category, subcategory, keyword, sort_type, page, seen_at)
ON CONFLICT (run_id, item_id) DO NOTHING`

	n := len(hits)
	var (
		runIDs       = make([]string, n)
		itemIDs      = make([]int64, n)
		fingerprints = make([]string, n)
		categories   = make([]string, n)
		subs         = make([]string, n)
		keywords     = make([]string, n)
		sorts        = make([]string, n)
		pages        = make([]int32, n)
		seenAt       = make([]time.Time, n)
	)
	for i, h := range hits {
		runIDs[i] = h.RunID.String()
		itemIDs[i] = h.ItemID
		fingerprints[i] = h.Fingerprint
		categories[i] = h.Category
		subs[i] = h.Subcategory
		keywords[i] = h.Keyword
		sorts[i] = h.SortType
		pages[i] = int32(h.Page) // #nosec G115 -- page numbers are bounded by max_pages.
		seenAt[i] = h.SeenAt
	}
	tag, err := s.pool.Exec(ctx, query, runIDs, itemIDs, fingerprints, categories, subs, keywords, sorts, pages, seenAt)
	if err != nil {
		return 0, fmt.Errorf("insert discovery hits: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// EnqueueNew inserts due queue entries; rows that already exist keep their schedule.
func (s *CatalogStore) EnqueueNew(ctx context.Context, itemIDs []int64, at time.Time) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	const query = `
INSERT INTO refresh_queue (item_id, priority, attempts, last_error, next_run_at)
SELECT u.item_id, $2::text, 0, '', $3::timestamptz
FROM unnest($1::bigint[]) AS u(item_id)
ON CONFLICT (item_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, itemIDs, catalog.PriorityNew, at)
	if err != nil {
		return 0, fmt.Errorf("enqueue items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimDue locks due rows with SKIP LOCKED, pushes them out by lease, and returns them oldest first.
func (s *CatalogStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]catalog.QueueEntry, error) {
	const query = `
WITH due AS (
	SELECT item_id, next_run_at
	FROM refresh_queue
	WHERE next_run_at <= $1
	ORDER BY next_run_at, item_id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE refresh_queue q
SET next_run_at = $3
FROM due
WHERE q.item_id = due.item_id
RETURNING q.item_id, q.priority, q.attempts, q.last_attempt_at, q.last_error, due.next_run_at`

	rows, err := s.pool.Query(ctx, query, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim due queue entries: %w", err)
	}
	defer rows.Close()

	var out []catalog.QueueEntry
	for rows.Next() {
		var e catalog.QueueEntry
		if err := rows.Scan(&e.ItemID, &e.Priority, &e.Attempts, &e.LastAttemptAt, &e.LastError, &e.NextRunAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].NextRunAt.Before(out[j].NextRunAt)
	})
	return out, nil
}

// ApplyItemUpdates writes the enrichment field group. A soft delete keeps the previous authoritative fields.
func (s *CatalogStore) ApplyItemUpdates(ctx context.Context, updates []catalog.ItemUpdate) error {
	updates = lastUpdateByID(updates)
	if len(updates) == 0 {
		return nil
	}
	const query = `
INSERT INTO catalog_items (
	id, first_seen_at, last_seen_at, detail_name, detail_price, detail_seller_name, detail_seller_id,
	detail_payload, is_deleted, enriched_at
)
SELECT u.id, u.enriched_at, u.enriched_at, u.name, u.price, u.seller_name, u.seller_id,
	u.payload::jsonb, u.is_deleted, u.enriched_at
FROM unnest($1::bigint[], $2::text[], $3::bigint[], $4::text[], $5::bigint[], $6::text[], $7::boolean[],
	$8::timestamptz[])
	AS u(id, name, price, seller_name, seller_id, payload, is_deleted, enriched_at)
ON CONFLICT (id) DO UPDATE SET
	detail_name = CASE WHEN EXCLUDED.is_deleted THEN catalog_items.detail_name ELSE EXCLUDED.detail_name END,
	detail_price = CASE WHEN EXCLUDED.is_deleted THEN catalog_items.detail_price ELSE EXCLUDED.detail_price END,
	detail_seller_name = CASE WHEN EXCLUDED.is_deleted THEN catalog_items.detail_seller_name
		ELSE EXCLUDED.detail_seller_name END,
	detail_seller_id = CASE WHEN EXCLUDED.is_deleted THEN catalog_items.detail_seller_id
		ELSE EXCLUDED.detail_seller_id END,
	detail_payload = CASE WHEN EXCLUDED.is_deleted THEN catalog_items.detail_payload ELSE EXCLUDED.detail_payload END,
	is_deleted = EXCLUDED.is_deleted,
	enriched_at = EXCLUDED.enriched_at`

	n := len(updates)
	var (
		ids         = make([]int64, n)
		names       = make([]string, n)
		prices      = make([]*int64, n)
		sellerNames = make([]string, n)
		sellerIDs   = make([]int64, n)
		payloads    = make([]*string, n)
		deleted     = make([]bool, n)
		enrichedAt  = make([]time.Time, n)
	)
	for i, u := range updates {
		ids[i] = u.ItemID
		deleted[i] = u.Deleted
		enrichedAt[i] = u.EnrichedAt
		if u.Detail != nil && !u.Deleted {
			names[i] = u.Detail.Name
			prices[i] = u.Detail.Price
			sellerNames[i] = u.Detail.SellerName
			sellerIDs[i] = u.Detail.SellerID
			payloads[i] = jsonText(u.Detail.DetailPayload)
		}
	}
	if _, err := s.pool.Exec(ctx, query, ids, names, prices, sellerNames, sellerIDs, payloads, deleted, enrichedAt); err != nil {
		return fmt.Errorf("apply item updates: %w", err)
	}
	return nil
}

// RescheduleQueue overwrites queue rows after an enrichment attempt.
func (s *CatalogStore) RescheduleQueue(ctx context.Context, updates []catalog.QueueUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	const query = `
INSERT INTO refresh_queue (item_id, priority, attempts, last_attempt_at, last_error, next_run_at)
SELECT u.item_id, u.priority, u.attempts, u.last_attempt_at, u.last_error, u.next_run_at
FROM unnest($1::bigint[], $2::text[], $3::integer[], $4::timestamptz[], $5::text[], $6::timestamptz[])
	AS u(item_id, priority, attempts, last_attempt_at, last_error, next_run_at)
ON CONFLICT (item_id) DO UPDATE SET
	priority = EXCLUDED.priority,
	attempts = EXCLUDED.attempts,
	last_attempt_at = EXCLUDED.last_attempt_at,
	last_error = EXCLUDED.last_error,
	next_run_at = EXCLUDED.next_run_at`

	n := len(updates)
	var (
		ids         = make([]int64, n)
		priorities  = make([]string, n)
		attempts    = make([]int32, n)
		lastAttempt = make([]time.Time, n)
		lastErrors  = make([]string, n)
		nextRun     = make([]time.Time, n)
	)
	for i, u := range updates {
		ids[i] = u.ItemID
		priorities[i] = u.Priority
		attempts[i] = int32(u.Attempts) // #nosec G115 -- attempts are bounded by the retry ceiling.
		lastAttempt[i] = u.LastAttemptAt
		lastErrors[i] = u.LastError
		nextRun[i] = u.NextRunAt
	}
	if _, err := s.pool.Exec(ctx, query, ids, priorities, attempts, lastAttempt, lastErrors, nextRun); err != nil {
		return fmt.Errorf("reschedule queue: %w", err)
	}
	return nil
}

// UpsertImages writes thumbnail rows keyed by (item_id, size, format).
func (s *CatalogStore) UpsertImages(ctx context.Context, images []catalog.ItemImage) error {
	if len(images) == 0 {
		return nil
	}
	const query = `
INSERT INTO item_images (item_id, size, format, state, image_url, fetched_at)
SELECT u.item_id, u.size, u.format, u.state, u.image_url, u.fetched_at
FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[], $5::text[], $6::timestamptz[])
	AS u(item_id, size, format, state, image_url, fetched_at)
ON CONFLICT (item_id, size, format) DO UPDATE SET
	state = EXCLUDED.state,
	image_url = EXCLUDED.image_url,
	fetched_at = EXCLUDED.fetched_at`

	n := len(images)
	var (
		ids       = make([]int64, n)
		sizes     = make([]string, n)
		formats   = make([]string, n)
		states    = make([]string, n)
		urls      = make([]string, n)
		fetchedAt = make([]time.Time, n)
	)
	for i, img := range images {
		ids[i] = img.ItemID
		sizes[i] = img.Size
		formats[i] = img.Format
		states[i] = img.State
		urls[i] = img.ImageURL
		fetchedAt[i] = img.FetchedAt
	}
	if _, err := s.pool.Exec(ctx, query, ids, sizes, formats, states, urls, fetchedAt); err != nil {
		return fmt.Errorf("upsert item images: %w", err)
	}
	return nil
}

// ListTaxonomy returns all taxonomy rows ordered by category then subcategory.
func (s *CatalogStore) ListTaxonomy(ctx context.Context) ([]catalog.TaxonomyEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT category, subcategory, display_name, updated_at FROM taxonomy ORDER BY category, subcategory`)
	if err != nil {
		return nil, fmt.Errorf("list taxonomy: %w", err)
	}
	defer rows.Close()

	var out []catalog.TaxonomyEntry
	for rows.Next() {
		var e catalog.TaxonomyEntry
		if err := rows.Scan(&e.Category, &e.Subcategory, &e.DisplayName, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan taxonomy: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate taxonomy: %w", err)
	}
	return out, nil
}

// UpsertTaxonomy inserts or refreshes taxonomy rows.
func (s *CatalogStore) UpsertTaxonomy(ctx context.Context, entries []catalog.TaxonomyEntry) error {
	const query = `
INSERT INTO taxonomy (category, subcategory, display_name, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (category, subcategory) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	updated_at = EXCLUDED.updated_at`
	for _, e := range entries {
		if _, err := s.pool.Exec(ctx, query, e.Category, e.Subcategory, e.DisplayName, e.UpdatedAt); err != nil {
			return fmt.Errorf("upsert taxonomy %s/%s: %w", e.Category, e.Subcategory, err)
		}
	}
	return nil
}

// GetItem loads one catalog item.
func (s *CatalogStore) GetItem(ctx context.Context, id int64) (catalog.Item, error) {
	const query = `
SELECT id, name, price, seller_name, seller_id, is_for_sale, is_limited, favorites, search_payload,
	first_seen_at, last_seen_at, detail_name, detail_price, detail_seller_name, detail_seller_id,
	detail_payload, is_deleted, enriched_at
FROM catalog_items WHERE id = $1`
	var (
		item          catalog.Item
		searchPayload []byte
		detailPayload []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&item.ID,
		&item.Name,
		&item.Price,
		&item.SellerName,
		&item.SellerID,
		&item.IsForSale,
		&item.IsLimited,
		&item.Favorites,
		&searchPayload,
		&item.FirstSeenAt,
		&item.LastSeenAt,
		&item.DetailName,
		&item.DetailPrice,
		&item.DetailSellerName,
		&item.DetailSellerID,
		&detailPayload,
		&item.IsDeleted,
		&item.EnrichedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, store.ErrNotFound
		}
		return catalog.Item{}, fmt.Errorf("get item %d: %w", id, err)
	}
	item.SearchPayload = searchPayload
	item.DetailPayload = detailPayload
	return item, nil
}

// GetQueueEntry loads one queue row.
func (s *CatalogStore) GetQueueEntry(ctx context.Context, id int64) (catalog.QueueEntry, error) {
	const query = `
SELECT item_id, priority, attempts, last_attempt_at, last_error, next_run_at
FROM refresh_queue WHERE item_id = $1`
	var e catalog.QueueEntry
	err := s.pool.QueryRow(ctx, query, id).Scan(&e.ItemID, &e.Priority, &e.Attempts, &e.LastAttemptAt, &e.LastError, &e.NextRunAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.QueueEntry{}, store.ErrNotFound
		}
		return catalog.QueueEntry{}, fmt.Errorf("get queue entry %d: %w", id, err)
	}
	return e, nil
}

// ListHits returns one run's provenance rows.
func (s *CatalogStore) ListHits(ctx context.Context, runID uuid.UUID) ([]catalog.DiscoveryHit, error) {
	const query = `
SELECT run_id, item_id, fingerprint, category, subcategory, keyword, sort_type, page, seen_at
FROM discovery_hits WHERE run_id = $1 ORDER BY page, item_id`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list hits: %w", err)
	}
	defer rows.Close()

	var out []catalog.DiscoveryHit
	for rows.Next() {
		var h catalog.DiscoveryHit
		if err := rows.Scan(&h.RunID, &h.ItemID, &h.Fingerprint, &h.Category, &h.Subcategory, &h.Keyword, &h.SortType, &h.Page, &h.SeenAt); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return out, nil
}

// ListImages returns one item's thumbnail rows.
func (s *CatalogStore) ListImages(ctx context.Context, itemID int64) ([]catalog.ItemImage, error) {
	const query = `
SELECT item_id, size, format, state, image_url, fetched_at
FROM item_images WHERE item_id = $1 ORDER BY size, format`
	rows, err := s.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var out []catalog.ItemImage
	for rows.Next() {
		var img catalog.ItemImage
		if err := rows.Scan(&img.ItemID, &img.Size, &img.Format, &img.State, &img.ImageURL, &img.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}

// Stats counts catalog and queue rows.
func (s *CatalogStore) Stats(ctx context.Context, now time.Time) (store.Stats, error) {
	const query = `
SELECT
	(SELECT count(*) FROM catalog_items),
	(SELECT count(*) FROM catalog_items WHERE enriched_at IS NOT NULL),
	(SELECT count(*) FROM catalog_items WHERE is_deleted),
	(SELECT count(*) FROM refresh_queue),
	(SELECT count(*) FROM refresh_queue WHERE next_run_at <= $1),
	(SELECT count(*) FROM discovery_runs)`
	var st store.Stats
	if err := s.pool.QueryRow(ctx, query, now).Scan(&st.Items, &st.Enriched, &st.Deleted, &st.QueueTotal, &st.QueueDue, &st.Runs); err != nil {
		return store.Stats{}, fmt.Errorf("catalog stats: %w", err)
	}
	return st, nil
}

func jsonText(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func lastByID(items []catalog.DiscoveredItem) []catalog.DiscoveredItem {
	index := make(map[int64]int, len(items))
	out := make([]catalog.DiscoveredItem, 0, len(items))
	for _, it := range items {
		if pos, ok := index[it.ID]; ok {
			out[pos] = it
			continue
		}
		index[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}

func lastUpdateByID(updates []catalog.ItemUpdate) []catalog.ItemUpdate {
	index := make(map[int64]int, len(updates))
	out := make([]catalog.ItemUpdate, 0, len(updates))
	for _, u := range updates {
		if pos, ok := index[u.ItemID]; ok {
			out[pos] = u
			continue
		}
		index[u.ItemID] = len(out)
		out = append(out, u)
	}
	return out
}
