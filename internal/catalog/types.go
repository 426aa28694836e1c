// Package catalog defines the core types shared across the discovery and enrichment pipeline.
package catalog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a discovery run.
type RunStatus string

// Discovery run status values persisted in discovery_runs.status.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Queue priority tags.
const (
	PriorityNew     = "new"
	PriorityRefresh = "refresh"
	PriorityDeleted = "deleted"
	PriorityRetry   = "retry"
)

// DiscoveryRun is one execution of the discovery crawler.
type DiscoveryRun struct {
	ID             uuid.UUID  `json:"id"`
	Strategy       string     `json:"strategy"`
	TargetCategory string     `json:"target_category,omitempty"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	QueriesIssued  int        `json:"queries_issued"`
	PagesFetched   int        `json:"pages_fetched"`
	ItemsSeen      int        `json:"items_seen"`
}

// DiscoveredItem carries the lightweight fields returned by the search endpoint.
type DiscoveredItem struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Price         *int64          `json:"price,omitempty"`
	SellerName    string          `json:"seller_name"`
	SellerID      int64           `json:"seller_id"`
	IsForSale     bool            `json:"is_for_sale"`
	IsLimited     bool            `json:"is_limited"`
	Favorites     int64           `json:"favorites"`
	SearchPayload json.RawMessage `json:"search_payload,omitempty"`
	SeenAt        time.Time       `json:"seen_at"`
}

// ItemDetail carries the authoritative fields returned by the detail endpoint.
type ItemDetail struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Price         *int64          `json:"price,omitempty"`
	SellerName    string          `json:"seller_name"`
	SellerID      int64           `json:"seller_id"`
	IsForSale     bool            `json:"is_for_sale"`
	IsLimited     bool            `json:"is_limited"`
	Favorites     int64           `json:"favorites"`
	DetailPayload json.RawMessage `json:"detail_payload,omitempty"`
}

// ItemUpdate is the enrichment write for one item: either authoritative fields or a soft delete.
type ItemUpdate struct {
	ItemID     int64
	Detail     *ItemDetail
	Deleted    bool
	EnrichedAt time.Time
}

// Item is the canonical catalog record. Discovery and enrichment fields are stored as separate groups;
// each group is written only by its own phase.
type Item struct {
	ID int64 `json:"id"`

	Name          string          `json:"name"`
	Price         *int64          `json:"price,omitempty"`
	SellerName    string          `json:"seller_name"`
	SellerID      int64           `json:"seller_id"`
	IsForSale     bool            `json:"is_for_sale"`
	IsLimited     bool            `json:"is_limited"`
	Favorites     int64           `json:"favorites"`
	SearchPayload json.RawMessage `json:"search_payload,omitempty"`
	FirstSeenAt   time.Time       `json:"first_seen_at"`
	LastSeenAt    time.Time       `json:"last_seen_at"`

	DetailName       string          `json:"detail_name,omitempty"`
	DetailPrice      *int64          `json:"detail_price,omitempty"`
	DetailSellerName string          `json:"detail_seller_name,omitempty"`
	DetailSellerID   int64           `json:"detail_seller_id,omitempty"`
	DetailPayload    json.RawMessage `json:"detail_payload,omitempty"`
	IsDeleted        bool            `json:"is_deleted"`
	EnrichedAt       *time.Time      `json:"enriched_at,omitempty"`
}

// Enriched reports whether authoritative data has been written for the item.
func (i Item) Enriched() bool {
	return i.EnrichedAt != nil && !i.EnrichedAt.IsZero()
}

// EffectiveName prefers the authoritative name once the item has been enriched.
func (i Item) EffectiveName() string {
	if i.Enriched() && i.DetailName != "" {
		return i.DetailName
	}
	return i.Name
}

// EffectivePrice prefers the authoritative price once the item has been enriched.
func (i Item) EffectivePrice() *int64 {
	if i.Enriched() {
		return i.DetailPrice
	}
	return i.Price
}

// EffectiveSeller prefers the authoritative seller once the item has been enriched.
func (i Item) EffectiveSeller() (string, int64) {
	if i.Enriched() && (i.DetailSellerName != "" || i.DetailSellerID != 0) {
		return i.DetailSellerName, i.DetailSellerID
	}
	return i.SellerName, i.SellerID
}

// DiscoveryHit is an append-only provenance row recording how an item was found.
type DiscoveryHit struct {
	RunID       uuid.UUID `json:"run_id"`
	ItemID      int64     `json:"item_id"`
	Fingerprint string    `json:"fingerprint"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Keyword     string    `json:"keyword"`
	SortType    string    `json:"sort_type"`
	Page        int       `json:"page"`
	SeenAt      time.Time `json:"seen_at"`
}

// QueueEntry is one refresh_queue row. NextRunAt is the only scheduling signal.
type QueueEntry struct {
	ItemID        int64      `json:"item_id"`
	Priority      string     `json:"priority"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextRunAt     time.Time  `json:"next_run_at"`
}

// QueueUpdate reschedules one queue entry after an enrichment attempt.
type QueueUpdate struct {
	ItemID        int64
	Priority      string
	Attempts      int
	LastAttemptAt time.Time
	LastError     string
	NextRunAt     time.Time
}

// ItemImage is one thumbnail row keyed by (item, size, format).
type ItemImage struct {
	ItemID    int64     `json:"item_id"`
	Size      string    `json:"size"`
	Format    string    `json:"format"`
	State     string    `json:"state"`
	ImageURL  string    `json:"image_url,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// TaxonomyEntry is one (category, subcategory) pair from the taxonomy side table.
type TaxonomyEntry struct {
	Category    string    `json:"category" mapstructure:"category"`
	Subcategory string    `json:"subcategory" mapstructure:"subcategory"`
	DisplayName string    `json:"display_name,omitempty" mapstructure:"display_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Target groups the subcategories to sweep for one category.
type Target struct {
	Category      string   `mapstructure:"category" json:"category"`
	Subcategories []string `mapstructure:"subcategories" json:"subcategories"`
}

// TargetsFromTaxonomy groups taxonomy rows into crawl targets, preserving first-seen order.
func TargetsFromTaxonomy(entries []TaxonomyEntry) []Target {
	index := make(map[string]int)
	var out []Target
	for _, e := range entries {
		pos, ok := index[e.Category]
		if !ok {
			pos = len(out)
			index[e.Category] = pos
			out = append(out, Target{Category: e.Category})
		}
		if e.Subcategory != "" {
			out[pos].Subcategories = append(out[pos].Subcategories, e.Subcategory)
		}
	}
	return out
}

// TaxonomyFromTargets flattens crawl targets into taxonomy rows. A target without subcategories yields one
// category-level row.
func TaxonomyFromTargets(targets []Target, at time.Time) []TaxonomyEntry {
	var out []TaxonomyEntry
	for _, t := range targets {
		if len(t.Subcategories) == 0 {
			out = append(out, TaxonomyEntry{Category: t.Category, UpdatedAt: at})
			continue
		}
		for _, sub := range t.Subcategories {
			out = append(out, TaxonomyEntry{Category: t.Category, Subcategory: sub, UpdatedAt: at})
		}
	}
	return out
}
