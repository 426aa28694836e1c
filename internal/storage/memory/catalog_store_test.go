package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCatalogStoreDiscoveryIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewCatalogStore()
	runID := uuid.New()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	items := []catalog.DiscoveredItem{
		{ID: 1, Name: "Cap", Price: int64Ptr(5), SeenAt: first},
		{ID: 2, Name: "Hood", SeenAt: first},
	}
	require.NoError(t, s.UpsertDiscovered(ctx, items))
	items[0].Name = "Cap v2"
	items[0].SeenAt = later
	require.NoError(t, s.UpsertDiscovered(ctx, items[:1]))

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Cap v2", item.Name)
	require.Equal(t, first, item.FirstSeenAt)
	require.Equal(t, later, item.LastSeenAt)

	hits := []catalog.DiscoveryHit{{RunID: runID, ItemID: 1, Page: 1}, {RunID: runID, ItemID: 2, Page: 1}}
	n, err := s.InsertHits(ctx, hits)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = s.InsertHits(ctx, hits)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := s.ListHits(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	st, err := s.Stats(ctx, later)
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Items)
}

func TestCatalogStoreEnqueueKeepsExistingSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewCatalogStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)

	n, err := s.EnqueueNew(ctx, []int64{1, 2}, now)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.RescheduleQueue(ctx, []catalog.QueueUpdate{{ItemID: 1, Priority: catalog.PriorityRefresh, NextRunAt: future, LastAttemptAt: now}}))

	n, err = s.EnqueueNew(ctx, []int64{1, 2, 3}, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entry, err := s.GetQueueEntry(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, future, entry.NextRunAt)
	require.Equal(t, catalog.PriorityRefresh, entry.Priority)

	_, err = s.GetQueueEntry(ctx, 99)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCatalogStoreClaimDueOrdersAndLeases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewCatalogStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.EnqueueNew(ctx, []int64{3}, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.EnqueueNew(ctx, []int64{1, 2}, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.EnqueueNew(ctx, []int64{4}, now.Add(time.Minute))
	require.NoError(t, err)

	claimed, err := s.ClaimDue(ctx, now, 2, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, int64(3), claimed[0].ItemID)
	require.Equal(t, int64(1), claimed[1].ItemID)

	entry, err := s.GetQueueEntry(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, now.Add(10*time.Minute), entry.NextRunAt)

	claimed, err = s.ClaimDue(ctx, now, 10, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, int64(2), claimed[0].ItemID)

	claimed, err = s.ClaimDue(ctx, now, 10, 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestCatalogStoreApplyItemUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewCatalogStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertDiscovered(ctx, []catalog.DiscoveredItem{{ID: 1, Name: "Cap", SeenAt: now}, {ID: 2, Name: "Gone", SeenAt: now}}))

	require.NoError(t, s.ApplyItemUpdates(ctx, []catalog.ItemUpdate{
		{ItemID: 1, Detail: &catalog.ItemDetail{ID: 1, Name: "Cap Deluxe", Price: int64Ptr(9)}, EnrichedAt: now},
		{ItemID: 2, Deleted: true, EnrichedAt: now},
	}))

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Cap", item.Name)
	require.Equal(t, "Cap Deluxe", item.EffectiveName())
	require.Equal(t, int64(9), *item.EffectivePrice())

	gone, err := s.GetItem(ctx, 2)
	require.NoError(t, err)
	require.True(t, gone.IsDeleted)

	st, err := s.Stats(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Enriched)
	require.Equal(t, int64(1), st.Deleted)
}

func TestCatalogStoreRunsImagesTaxonomy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewCatalogStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	run := catalog.DiscoveryRun{ID: uuid.New(), Strategy: "sweep", Status: catalog.RunStatusRunning, StartedAt: now}
	require.NoError(t, s.CreateRun(ctx, run))
	require.Error(t, s.CreateRun(ctx, run))
	finished := now.Add(time.Minute)
	run.Status = catalog.RunStatusCompleted
	run.FinishedAt = &finished
	run.ItemsSeen = 5
	require.NoError(t, s.FinishRun(ctx, run))
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.RunStatusCompleted, got.Status)
	require.Equal(t, 5, got.ItemsSeen)
	require.ErrorIs(t, s.FinishRun(ctx, catalog.DiscoveryRun{ID: uuid.New()}), store.ErrNotFound)

	img := catalog.ItemImage{ItemID: 1, Size: "420x420", Format: "Png", State: "Pending", FetchedAt: now}
	require.NoError(t, s.UpsertImages(ctx, []catalog.ItemImage{img}))
	img.State = "Completed"
	img.ImageURL = "https://img/1.png"
	require.NoError(t, s.UpsertImages(ctx, []catalog.ItemImage{img}))
	images, err := s.ListImages(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []catalog.ItemImage{img}, images)

	require.NoError(t, s.UpsertTaxonomy(ctx, []catalog.TaxonomyEntry{{Category: "Accessories", Subcategory: "Hats"}, {Category: "Clothing"}}))
	require.NoError(t, s.UpsertTaxonomy(ctx, []catalog.TaxonomyEntry{{Category: "Accessories", Subcategory: "Hats", DisplayName: "Hats"}}))
	tax, err := s.ListTaxonomy(ctx)
	require.NoError(t, err)
	require.Len(t, tax, 2)
	require.Equal(t, "Hats", tax[0].DisplayName)
}
