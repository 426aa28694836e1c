package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

type hitKey struct {
	runID  uuid.UUID
	itemID int64
}

type imageKey struct {
	itemID int64
	size   string
	format string
}

type taxonomyKey struct {
	category    string
	subcategory string
}

// CatalogStore implements store.CatalogStore in memory for dry runs and tests.
type CatalogStore struct {
	mu       sync.RWMutex
	items    map[int64]catalog.Item
	runs     map[uuid.UUID]catalog.DiscoveryRun
	hits     map[hitKey]catalog.DiscoveryHit
	queue    map[int64]catalog.QueueEntry
	images   map[imageKey]catalog.ItemImage
	taxonomy map[taxonomyKey]catalog.TaxonomyEntry
	taxOrder []taxonomyKey
}

var _ store.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		items:    make(map[int64]catalog.Item),
		runs:     make(map[uuid.UUID]catalog.DiscoveryRun),
		hits:     make(map[hitKey]catalog.DiscoveryHit),
		queue:    make(map[int64]catalog.QueueEntry),
		images:   make(map[imageKey]catalog.ItemImage),
		taxonomy: make(map[taxonomyKey]catalog.TaxonomyEntry),
	}
}

// CreateRun stores a new run.
func (s *CatalogStore) CreateRun(_ context.Context, run catalog.DiscoveryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// FinishRun replaces the stored run with its terminal state.
func (s *CatalogStore) FinishRun(_ context.Context, run catalog.DiscoveryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("finish run %s: %w", run.ID, store.ErrNotFound)
	}
	existing.Status = run.Status
	existing.FinishedAt = run.FinishedAt
	existing.Notes = run.Notes
	existing.QueriesIssued = run.QueriesIssued
	existing.PagesFetched = run.PagesFetched
	existing.ItemsSeen = run.ItemsSeen
	s.runs[run.ID] = existing
	return nil
}

// GetRun loads a run.
func (s *CatalogStore) GetRun(_ context.Context, id uuid.UUID) (catalog.DiscoveryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return catalog.DiscoveryRun{}, store.ErrNotFound
	}
	return run, nil
}

// UpsertDiscovered writes the discovery field group.
func (s *CatalogStore) UpsertDiscovered(_ context.Context, items []catalog.DiscoveredItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range items {
		item, ok := s.items[d.ID]
		if !ok {
			item = catalog.Item{ID: d.ID, FirstSeenAt: d.SeenAt}
		}
		item.Name = d.Name
		item.Price = d.Price
		item.SellerName = d.SellerName
		item.SellerID = d.SellerID
		item.IsForSale = d.IsForSale
		item.IsLimited = d.IsLimited
		item.Favorites = d.Favorites
		item.SearchPayload = d.SearchPayload
		if d.SeenAt.After(item.LastSeenAt) {
			item.LastSeenAt = d.SeenAt
		}
		s.items[d.ID] = item
	}
	return nil
}

// InsertHits appends hits, skipping (run, item) duplicates.
func (s *CatalogStore) InsertHits(_ context.Context, hits []catalog.DiscoveryHit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	written := 0
	for _, h := range hits {
		key := hitKey{runID: h.RunID, itemID: h.ItemID}
		if _, exists := s.hits[key]; exists {
			continue
		}
		s.hits[key] = h
		written++
	}
	return written, nil
}

// EnqueueNew inserts due entries for ids not already queued.
func (s *CatalogStore) EnqueueNew(_ context.Context, itemIDs []int64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	written := 0
	for _, id := range itemIDs {
		if _, exists := s.queue[id]; exists {
			continue
		}
		s.queue[id] = catalog.QueueEntry{ItemID: id, Priority: catalog.PriorityNew, NextRunAt: at}
		written++
	}
	return written, nil
}

// ClaimDue returns due entries oldest first and leases them.
func (s *CatalogStore) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]catalog.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []catalog.QueueEntry
	for _, e := range s.queue {
		if !e.NextRunAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextRunAt.Equal(due[j].NextRunAt) {
			return due[i].ItemID < due[j].ItemID
		}
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	if lease > 0 {
		for _, e := range due {
			leased := e
			leased.NextRunAt = now.Add(lease)
			s.queue[e.ItemID] = leased
		}
	}
	return due, nil
}

// ApplyItemUpdates writes enrichment results.
func (s *CatalogStore) ApplyItemUpdates(_ context.Context, updates []catalog.ItemUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		item, ok := s.items[u.ItemID]
		if !ok {
			item = catalog.Item{ID: u.ItemID, FirstSeenAt: u.EnrichedAt, LastSeenAt: u.EnrichedAt}
		}
		enrichedAt := u.EnrichedAt
		item.EnrichedAt = &enrichedAt
		if u.Deleted {
			item.IsDeleted = true
		} else if u.Detail != nil {
			item.IsDeleted = false
			item.DetailName = u.Detail.Name
			item.DetailPrice = u.Detail.Price
			item.DetailSellerName = u.Detail.SellerName
			item.DetailSellerID = u.Detail.SellerID
			item.DetailPayload = u.Detail.DetailPayload
		}
		s.items[u.ItemID] = item
	}
	return nil
}

// RescheduleQueue overwrites queue rows.
func (s *CatalogStore) RescheduleQueue(_ context.Context, updates []catalog.QueueUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		lastAttempt := u.LastAttemptAt
		s.queue[u.ItemID] = catalog.QueueEntry{
			ItemID:        u.ItemID,
			Priority:      u.Priority,
			Attempts:      u.Attempts,
			LastAttemptAt: &lastAttempt,
			LastError:     u.LastError,
			NextRunAt:     u.NextRunAt,
		}
	}
	return nil
}

// UpsertImages writes thumbnail rows.
func (s *CatalogStore) UpsertImages(_ context.Context, images []catalog.ItemImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range images {
		s.images[imageKey{itemID: img.ItemID, size: img.Size, format: img.Format}] = img
	}
	return nil
}

// ListTaxonomy returns entries in insertion order.
func (s *CatalogStore) ListTaxonomy(_ context.Context) ([]catalog.TaxonomyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.TaxonomyEntry, 0, len(s.taxOrder))
	for _, key := range s.taxOrder {
		out = append(out, s.taxonomy[key])
	}
	return out, nil
}

// UpsertTaxonomy inserts or replaces entries.
func (s *CatalogStore) UpsertTaxonomy(_ context.Context, entries []catalog.TaxonomyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		key := taxonomyKey{category: e.Category, subcategory: e.Subcategory}
		if _, exists := s.taxonomy[key]; !exists {
			s.taxOrder = append(s.taxOrder, key)
		}
		s.taxonomy[key] = e
	}
	return nil
}

// GetItem loads one item.
func (s *CatalogStore) GetItem(_ context.Context, id int64) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.Item{}, store.ErrNotFound
	}
	return item, nil
}

// GetQueueEntry loads one queue row.
func (s *CatalogStore) GetQueueEntry(_ context.Context, id int64) (catalog.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.queue[id]
	if !ok {
		return catalog.QueueEntry{}, store.ErrNotFound
	}
	return e, nil
}

// ListHits returns one run's hits ordered by page then item id.
func (s *CatalogStore) ListHits(_ context.Context, runID uuid.UUID) ([]catalog.DiscoveryHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.DiscoveryHit
	for key, h := range s.hits {
		if key.runID == runID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// ListImages returns an item's thumbnail rows ordered by size then format.
func (s *CatalogStore) ListImages(_ context.Context, itemID int64) ([]catalog.ItemImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.ItemImage
	for key, img := range s.images {
		if key.itemID == itemID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size < out[j].Size
		}
		return out[i].Format < out[j].Format
	})
	return out, nil
}

// Stats counts stored rows.
func (s *CatalogStore) Stats(_ context.Context, now time.Time) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := store.Stats{
		Items:      int64(len(s.items)),
		QueueTotal: int64(len(s.queue)),
		Runs:       int64(len(s.runs)),
	}
	for _, item := range s.items {
		if item.Enriched() {
			st.Enriched++
		}
		if item.IsDeleted {
			st.Deleted++
		}
	}
	for _, e := range s.queue {
		if !e.NextRunAt.After(now) {
			st.QueueDue++
		}
	}
	return st, nil
}

// Close is a no-op.
func (s *CatalogStore) Close() error {
	return nil
}
