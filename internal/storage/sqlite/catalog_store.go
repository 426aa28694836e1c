// Package sqlite provides a single-file catalog store on SQLite for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/store"
	"github.com/JakeFAU/catalog-crawler/migrations"
)

// timeLayout is fixed width so text comparisons in SQL order the same as the instants.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// CatalogStore implements store.CatalogStore on SQLite.
type CatalogStore struct {
	db *sqlx.DB
}

var _ store.CatalogStore = (*CatalogStore)(nil)

// Open opens dsn, applies pending migrations, and returns the store.
func Open(ctx context.Context, dsn string) (*CatalogStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; an in-memory database is also private to its connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := migrations.Up(ctx, db.DB, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CatalogStore{db: db}, nil
}

// Close closes the database.
func (s *CatalogStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", v, err)
	}
	return t, nil
}

func parseTimePtr(v *string) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := parseTime(*v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func jsonText(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	v := string(raw)
	return &v
}

func jsonBytes(v *string) []byte {
	if v == nil {
		return nil
	}
	return []byte(*v)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *CatalogStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type runRow struct {
	ID             string  `db:"id"`
	Strategy       string  `db:"strategy"`
	TargetCategory string  `db:"target_category"`
	Status         string  `db:"status"`
	StartedAt      string  `db:"started_at"`
	FinishedAt     *string `db:"finished_at"`
	Notes          string  `db:"notes"`
	QueriesIssued  int     `db:"queries_issued"`
	PagesFetched   int     `db:"pages_fetched"`
	ItemsSeen      int     `db:"items_seen"`
}

// CreateRun inserts a running discovery run.
func (s *CatalogStore) CreateRun(ctx context.Context, run catalog.DiscoveryRun) error {
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO discovery_runs (id, strategy, target_category, status, started_at)
VALUES (:id, :strategy, :target_category, :status, :started_at)`, runRow{
		ID:             run.ID.String(),
		Strategy:       run.Strategy,
		TargetCategory: run.TargetCategory,
		Status:         string(run.Status),
		StartedAt:      formatTime(run.StartedAt),
	})
	if err != nil {
		return fmt.Errorf("insert discovery run: %w", err)
	}
	return nil
}

// FinishRun writes the terminal state of a run.
func (s *CatalogStore) FinishRun(ctx context.Context, run catalog.DiscoveryRun) error {
	res, err := s.db.NamedExecContext(ctx, `
UPDATE discovery_runs
SET status = :status, finished_at = :finished_at, notes = :notes,
	queries_issued = :queries_issued, pages_fetched = :pages_fetched, items_seen = :items_seen
WHERE id = :id`, runRow{
		ID:            run.ID.String(),
		Status:        string(run.Status),
		FinishedAt:    formatTimePtr(run.FinishedAt),
		Notes:         run.Notes,
		QueriesIssued: run.QueriesIssued,
		PagesFetched:  run.PagesFetched,
		ItemsSeen:     run.ItemsSeen,
	})
	if err != nil {
		return fmt.Errorf("finish discovery run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish discovery run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

// GetRun loads a run by id.
func (s *CatalogStore) GetRun(ctx context.Context, id uuid.UUID) (catalog.DiscoveryRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM discovery_runs WHERE id = ?`, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.DiscoveryRun{}, store.ErrNotFound
		}
		return catalog.DiscoveryRun{}, fmt.Errorf("get discovery run: %w", err)
	}
	runID, err := uuid.Parse(row.ID)
	if err != nil {
		return catalog.DiscoveryRun{}, fmt.Errorf("parse run id: %w", err)
	}
	started, err := parseTime(row.StartedAt)
	if err != nil {
		return catalog.DiscoveryRun{}, err
	}
	finished, err := parseTimePtr(row.FinishedAt)
	if err != nil {
		return catalog.DiscoveryRun{}, err
	}
	return catalog.DiscoveryRun{
		ID:             runID,
		Strategy:       row.Strategy,
		TargetCategory: row.TargetCategory,
		Status:         catalog.RunStatus(row.Status),
		StartedAt:      started,
		FinishedAt:     finished,
		Notes:          row.Notes,
		QueriesIssued:  row.QueriesIssued,
		PagesFetched:   row.PagesFetched,
		ItemsSeen:      row.ItemsSeen,
	}, nil
}

type discoveredRow struct {
	ID            int64   `db:"id"`
	Name          string  `db:"name"`
	Price         *int64  `db:"price"`
	SellerName    string  `db:"seller_name"`
	SellerID      int64   `db:"seller_id"`
	IsForSale     bool    `db:"is_for_sale"`
	IsLimited     bool    `db:"is_limited"`
	Favorites     int64   `db:"favorites"`
	SearchPayload *string `db:"search_payload"`
	SeenAt        string  `db:"seen_at"`
}

// UpsertDiscovered writes the discovery field group; first_seen_at survives conflicts.
func (s *CatalogStore) UpsertDiscovered(ctx context.Context, items []catalog.DiscoveredItem) error {
	if len(items) == 0 {
		return nil
	}
	const query = `
INSERT INTO catalog_items (
	id, name, price, seller_name, seller_id, is_for_sale, is_limited, favorites, search_payload,
	first_seen_at, last_seen_at
) VALUES (
	:id, :name, :price, :seller_name, :seller_id, :is_for_sale, :is_limited, :favorites, :search_payload,
	:seen_at, :seen_at
)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	price = excluded.price,
	seller_name = excluded.seller_name,
	seller_id = excluded.seller_id,
	is_for_sale = excluded.is_for_sale,
	is_limited = excluded.is_limited,
	favorites = excluded.favorites,
	search_payload = excluded.search_payload,
	last_seen_at = max(catalog_items.last_seen_at, excluded.last_seen_at)`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare item upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, it := range items {
			if _, err := stmt.ExecContext(ctx, discoveredRow{
				ID:            it.ID,
				Name:          it.Name,
				Price:         it.Price,
				SellerName:    it.SellerName,
				SellerID:      it.SellerID,
				IsForSale:     it.IsForSale,
				IsLimited:     it.IsLimited,
				Favorites:     it.Favorites,
				SearchPayload: jsonText(it.SearchPayload),
				SeenAt:        formatTime(it.SeenAt),
			}); err != nil {
				return fmt.Errorf("upsert item %d: %w", it.ID, err)
			}
		}
		return nil
	})
}

type hitRow struct {
	RunID       string `db:"run_id"`
	ItemID      int64  `db:"item_id"`
	Fingerprint string `db:"fingerprint"`
	Category    string `db:"category"`
	Subcategory string `db:"subcategory"`
	Keyword     string `db:"keyword"`
	SortType    string `db:"sort_type"`
	Page        int    `db:"page"`
	SeenAt      string `db:"seen_at"`
}

// InsertHits appends provenance rows, ignoring (run_id, item_id) duplicates.
func (s *CatalogStore) InsertHits(ctx context.Context, hits []catalog.DiscoveryHit) (int, error) {
	if len(hits) == 0 {
		return 0, nil
	}
	const query = `
INSERT INTO discovery_hits (run_id, item_id, fingerprint, category, subcategory, keyword, sort_type, page, seen_at)
VALUES (:run_id, :item_id, :fingerprint, :category, :subcategory, :keyword, :sort_type, :page, :seen_at)
ON CONFLICT (run_id, item_id) DO NOTHING`

	written := 0
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare hit insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, h := range hits {
			res, err := stmt.ExecContext(ctx, hitRow{
				RunID:       h.RunID.String(),
				ItemID:      h.ItemID,
				Fingerprint: h.Fingerprint,
				Category:    h.Category,
				Subcategory: h.Subcategory,
				Keyword:     h.Keyword,
				SortType:    h.SortType,
				Page:        h.Page,
				SeenAt:      formatTime(h.SeenAt),
			})
			if err != nil {
				return fmt.Errorf("insert hit %d: %w", h.ItemID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				written += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// EnqueueNew inserts due queue entries; rows that already exist keep their schedule.
func (s *CatalogStore) EnqueueNew(ctx context.Context, itemIDs []int64, at time.Time) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	const query = `
INSERT INTO refresh_queue (item_id, priority, attempts, last_error, next_run_at)
VALUES (?, ?, 0, '', ?)
ON CONFLICT (item_id) DO NOTHING`

	written := 0
	due := formatTime(at)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range itemIDs {
			res, err := tx.ExecContext(ctx, query, id, catalog.PriorityNew, due)
			if err != nil {
				return fmt.Errorf("enqueue item %d: %w", id, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				written += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

type queueRow struct {
	ItemID        int64   `db:"item_id"`
	Priority      string  `db:"priority"`
	Attempts      int     `db:"attempts"`
	LastAttemptAt *string `db:"last_attempt_at"`
	LastError     string  `db:"last_error"`
	NextRunAt     string  `db:"next_run_at"`
}

func (r queueRow) entry() (catalog.QueueEntry, error) {
	last, err := parseTimePtr(r.LastAttemptAt)
	if err != nil {
		return catalog.QueueEntry{}, err
	}
	next, err := parseTime(r.NextRunAt)
	if err != nil {
		return catalog.QueueEntry{}, err
	}
	return catalog.QueueEntry{
		ItemID:        r.ItemID,
		Priority:      r.Priority,
		Attempts:      r.Attempts,
		LastAttemptAt: last,
		LastError:     r.LastError,
		NextRunAt:     next,
	}, nil
}

// ClaimDue selects due rows oldest first and pushes them out by lease inside one transaction.
func (s *CatalogStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]catalog.QueueEntry, error) {
	var out []catalog.QueueEntry
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []queueRow
		if err := tx.SelectContext(ctx, &rows, `
SELECT item_id, priority, attempts, last_attempt_at, last_error, next_run_at
FROM refresh_queue
WHERE next_run_at <= ?
ORDER BY next_run_at, item_id
LIMIT ?`, formatTime(now), limit); err != nil {
			return fmt.Errorf("select due queue entries: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, len(rows))
		for i, r := range rows {
			e, err := r.entry()
			if err != nil {
				return err
			}
			out = append(out, e)
			ids[i] = r.ItemID
		}
		query, args, err := sqlx.In(`UPDATE refresh_queue SET next_run_at = ? WHERE item_id IN (?)`, formatTime(now.Add(lease)), ids)
		if err != nil {
			return fmt.Errorf("build lease update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("lease queue entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type itemUpdateRow struct {
	ID            int64   `db:"id"`
	Name          string  `db:"name"`
	Price         *int64  `db:"price"`
	SellerName    string  `db:"seller_name"`
	SellerID      int64   `db:"seller_id"`
	DetailPayload *string `db:"detail_payload"`
	EnrichedAt    string  `db:"enriched_at"`
}

// ApplyItemUpdates writes the enrichment field group. A soft delete keeps the previous authoritative fields.
func (s *CatalogStore) ApplyItemUpdates(ctx context.Context, updates []catalog.ItemUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	const detailQuery = `
INSERT INTO catalog_items (
	id, first_seen_at, last_seen_at, detail_name, detail_price, detail_seller_name, detail_seller_id,
	detail_payload, is_deleted, enriched_at
) VALUES (
	:id, :enriched_at, :enriched_at, :name, :price, :seller_name, :seller_id, :detail_payload, 0, :enriched_at
)
ON CONFLICT (id) DO UPDATE SET
	detail_name = excluded.detail_name,
	detail_price = excluded.detail_price,
	detail_seller_name = excluded.detail_seller_name,
	detail_seller_id = excluded.detail_seller_id,
	detail_payload = excluded.detail_payload,
	is_deleted = 0,
	enriched_at = excluded.enriched_at`
	const deleteQuery = `
INSERT INTO catalog_items (id, first_seen_at, last_seen_at, is_deleted, enriched_at)
VALUES (:id, :enriched_at, :enriched_at, 1, :enriched_at)
ON CONFLICT (id) DO UPDATE SET is_deleted = 1, enriched_at = excluded.enriched_at`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, u := range updates {
			row := itemUpdateRow{ID: u.ItemID, EnrichedAt: formatTime(u.EnrichedAt)}
			query := deleteQuery
			if !u.Deleted && u.Detail != nil {
				query = detailQuery
				row.Name = u.Detail.Name
				row.Price = u.Detail.Price
				row.SellerName = u.Detail.SellerName
				row.SellerID = u.Detail.SellerID
				row.DetailPayload = jsonText(u.Detail.DetailPayload)
			}
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return fmt.Errorf("apply update for item %d: %w", u.ItemID, err)
			}
		}
		return nil
	})
}

// RescheduleQueue overwrites queue rows after an enrichment attempt.
func (s *CatalogStore) RescheduleQueue(ctx context.Context, updates []catalog.QueueUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	const query = `
INSERT INTO refresh_queue (item_id, priority, attempts, last_attempt_at, last_error, next_run_at)
VALUES (:item_id, :priority, :attempts, :last_attempt_at, :last_error, :next_run_at)
ON CONFLICT (item_id) DO UPDATE SET
	priority = excluded.priority,
	attempts = excluded.attempts,
	last_attempt_at = excluded.last_attempt_at,
	last_error = excluded.last_error,
	next_run_at = excluded.next_run_at`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare reschedule: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, u := range updates {
			last := formatTime(u.LastAttemptAt)
			if _, err := stmt.ExecContext(ctx, queueRow{
				ItemID:        u.ItemID,
				Priority:      u.Priority,
				Attempts:      u.Attempts,
				LastAttemptAt: &last,
				LastError:     u.LastError,
				NextRunAt:     formatTime(u.NextRunAt),
			}); err != nil {
				return fmt.Errorf("reschedule item %d: %w", u.ItemID, err)
			}
		}
		return nil
	})
}

type imageRow struct {
	ItemID    int64  `db:"item_id"`
	Size      string `db:"size"`
	Format    string `db:"format"`
	State     string `db:"state"`
	ImageURL  string `db:"image_url"`
	FetchedAt string `db:"fetched_at"`
}

// UpsertImages writes thumbnail rows keyed by (item_id, size, format).
func (s *CatalogStore) UpsertImages(ctx context.Context, images []catalog.ItemImage) error {
	if len(images) == 0 {
		return nil
	}
	const query = `
INSERT INTO item_images (item_id, size, format, state, image_url, fetched_at)
VALUES (:item_id, :size, :format, :state, :image_url, :fetched_at)
ON CONFLICT (item_id, size, format) DO UPDATE SET
	state = excluded.state,
	image_url = excluded.image_url,
	fetched_at = excluded.fetched_at`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, img := range images {
			if _, err := tx.NamedExecContext(ctx, query, imageRow{
				ItemID:    img.ItemID,
				Size:      img.Size,
				Format:    img.Format,
				State:     img.State,
				ImageURL:  img.ImageURL,
				FetchedAt: formatTime(img.FetchedAt),
			}); err != nil {
				return fmt.Errorf("upsert image for item %d: %w", img.ItemID, err)
			}
		}
		return nil
	})
}

type taxonomyRow struct {
	Category    string `db:"category"`
	Subcategory string `db:"subcategory"`
	DisplayName string `db:"display_name"`
	UpdatedAt   string `db:"updated_at"`
}

// ListTaxonomy returns all taxonomy rows ordered by category then subcategory.
func (s *CatalogStore) ListTaxonomy(ctx context.Context) ([]catalog.TaxonomyEntry, error) {
	var rows []taxonomyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM taxonomy ORDER BY category, subcategory`); err != nil {
		return nil, fmt.Errorf("list taxonomy: %w", err)
	}
	out := make([]catalog.TaxonomyEntry, 0, len(rows))
	for _, r := range rows {
		updated, err := parseTime(r.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.TaxonomyEntry{
			Category:    r.Category,
			Subcategory: r.Subcategory,
			DisplayName: r.DisplayName,
			UpdatedAt:   updated,
		})
	}
	return out, nil
}

// UpsertTaxonomy inserts or refreshes taxonomy rows.
func (s *CatalogStore) UpsertTaxonomy(ctx context.Context, entries []catalog.TaxonomyEntry) error {
	const query = `
INSERT INTO taxonomy (category, subcategory, display_name, updated_at)
VALUES (:category, :subcategory, :display_name, :updated_at)
ON CONFLICT (category, subcategory) DO UPDATE SET
	display_name = excluded.display_name,
	updated_at = excluded.updated_at`
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, e := range entries {
			if _, err := tx.NamedExecContext(ctx, query, taxonomyRow{
				Category:    e.Category,
				Subcategory: e.Subcategory,
				DisplayName: e.DisplayName,
				UpdatedAt:   formatTime(e.UpdatedAt),
			}); err != nil {
				return fmt.Errorf("upsert taxonomy %s/%s: %w", e.Category, e.Subcategory, err)
			}
		}
		return nil
	})
}

type itemRow struct {
	ID               int64   `db:"id"`
	Name             string  `db:"name"`
	Price            *int64  `db:"price"`
	SellerName       string  `db:"seller_name"`
	SellerID         int64   `db:"seller_id"`
	IsForSale        bool    `db:"is_for_sale"`
	IsLimited        bool    `db:"is_limited"`
	Favorites        int64   `db:"favorites"`
	SearchPayload    *string `db:"search_payload"`
	FirstSeenAt      string  `db:"first_seen_at"`
	LastSeenAt       string  `db:"last_seen_at"`
	DetailName       string  `db:"detail_name"`
	DetailPrice      *int64  `db:"detail_price"`
	DetailSellerName string  `db:"detail_seller_name"`
	DetailSellerID   int64   `db:"detail_seller_id"`
	DetailPayload    *string `db:"detail_payload"`
	IsDeleted        bool    `db:"is_deleted"`
	EnrichedAt       *string `db:"enriched_at"`
}

// GetItem loads one catalog item.
func (s *CatalogStore) GetItem(ctx context.Context, id int64) (catalog.Item, error) {
	var row itemRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM catalog_items WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Item{}, store.ErrNotFound
		}
		return catalog.Item{}, fmt.Errorf("get item %d: %w", id, err)
	}
	first, err := parseTime(row.FirstSeenAt)
	if err != nil {
		return catalog.Item{}, err
	}
	last, err := parseTime(row.LastSeenAt)
	if err != nil {
		return catalog.Item{}, err
	}
	enriched, err := parseTimePtr(row.EnrichedAt)
	if err != nil {
		return catalog.Item{}, err
	}
	return catalog.Item{
		ID:               row.ID,
		Name:             row.Name,
		Price:            row.Price,
		SellerName:       row.SellerName,
		SellerID:         row.SellerID,
		IsForSale:        row.IsForSale,
		IsLimited:        row.IsLimited,
		Favorites:        row.Favorites,
		SearchPayload:    jsonBytes(row.SearchPayload),
		FirstSeenAt:      first,
		LastSeenAt:       last,
		DetailName:       row.DetailName,
		DetailPrice:      row.DetailPrice,
		DetailSellerName: row.DetailSellerName,
		DetailSellerID:   row.DetailSellerID,
		DetailPayload:    jsonBytes(row.DetailPayload),
		IsDeleted:        row.IsDeleted,
		EnrichedAt:       enriched,
	}, nil
}

// GetQueueEntry loads one queue row.
func (s *CatalogStore) GetQueueEntry(ctx context.Context, id int64) (catalog.QueueEntry, error) {
	var row queueRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM refresh_queue WHERE item_id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.QueueEntry{}, store.ErrNotFound
		}
		return catalog.QueueEntry{}, fmt.Errorf("get queue entry %d: %w", id, err)
	}
	return row.entry()
}

// ListHits returns one run's provenance rows.
func (s *CatalogStore) ListHits(ctx context.Context, runID uuid.UUID) ([]catalog.DiscoveryHit, error) {
	var rows []hitRow
	if err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM discovery_hits WHERE run_id = ? ORDER BY page, item_id`, runID.String()); err != nil {
		return nil, fmt.Errorf("list hits: %w", err)
	}
	out := make([]catalog.DiscoveryHit, 0, len(rows))
	for _, r := range rows {
		seen, err := parseTime(r.SeenAt)
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.DiscoveryHit{
			RunID:       runID,
			ItemID:      r.ItemID,
			Fingerprint: r.Fingerprint,
			Category:    r.Category,
			Subcategory: r.Subcategory,
			Keyword:     r.Keyword,
			SortType:    r.SortType,
			Page:        r.Page,
			SeenAt:      seen,
		})
	}
	return out, nil
}

// ListImages returns one item's thumbnail rows.
func (s *CatalogStore) ListImages(ctx context.Context, itemID int64) ([]catalog.ItemImage, error) {
	var rows []imageRow
	if err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM item_images WHERE item_id = ? ORDER BY size, format`, itemID); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	out := make([]catalog.ItemImage, 0, len(rows))
	for _, r := range rows {
		fetched, err := parseTime(r.FetchedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.ItemImage{
			ItemID:    r.ItemID,
			Size:      r.Size,
			Format:    r.Format,
			State:     r.State,
			ImageURL:  r.ImageURL,
			FetchedAt: fetched,
		})
	}
	return out, nil
}

// Stats counts catalog and queue rows.
func (s *CatalogStore) Stats(ctx context.Context, now time.Time) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowxContext(ctx, `
SELECT
	(SELECT count(*) FROM catalog_items),
	(SELECT count(*) FROM catalog_items WHERE enriched_at IS NOT NULL),
	(SELECT count(*) FROM catalog_items WHERE is_deleted = 1),
	(SELECT count(*) FROM refresh_queue),
	(SELECT count(*) FROM refresh_queue WHERE next_run_at <= ?),
	(SELECT count(*) FROM discovery_runs)`, formatTime(now)).
		Scan(&st.Items, &st.Enriched, &st.Deleted, &st.QueueTotal, &st.QueueDue, &st.Runs)
	if err != nil {
		return store.Stats{}, fmt.Errorf("catalog stats: %w", err)
	}
	return st, nil
}
