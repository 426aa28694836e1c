package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/store"
)

func newMockStore(t *testing.T) (*CatalogStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }

func TestNewCatalogStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewCatalogStore(context.Background(), Config{})
	require.Error(t, err)

	_, err = NewCatalogStoreWithPool(nil)
	require.Error(t, err)
}

func TestUpsertDiscoveredCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	seen := time.Unix(1700000000, 0).UTC()
	items := []catalog.DiscoveredItem{
		{ID: 1, Name: "Cap", Price: int64Ptr(5), SellerName: "maker", SellerID: 9, SearchPayload: json.RawMessage(`{"id":1}`), SeenAt: seen},
		{ID: 2, Name: "Hood", SeenAt: seen},
		{ID: 1, Name: "Cap v2", Price: int64Ptr(6), SellerName: "maker", SellerID: 9, IsForSale: true, SeenAt: seen},
	}

	mock.ExpectExec("INSERT INTO catalog_items").
		WithArgs(
			[]int64{1, 2},
			[]string{"Cap v2", "Hood"},
			[]*int64{int64Ptr(6), nil},
			[]string{"maker", ""},
			[]int64{9, 0},
			[]bool{true, false},
			[]bool{false, false},
			[]int64{0, 0},
			[]*string{nil, nil},
			[]time.Time{seen, seen},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, s.UpsertDiscovered(context.Background(), items))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDiscoveredEmptyIsNoop(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	require.NoError(t, s.UpsertDiscovered(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertHitsReportsRowsWritten(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.MustParse("0190c0de-0000-7000-8000-000000000001")
	seen := time.Unix(1700000000, 0).UTC()
	hits := []catalog.DiscoveryHit{
		{RunID: runID, ItemID: 1, Fingerprint: "fp", Category: "Accessories", Subcategory: "Hats", SortType: "Relevance", Page: 1, SeenAt: seen},
		{RunID: runID, ItemID: 2, Fingerprint: "fp", Category: "Accessories", Subcategory: "Hats", SortType: "Relevance", Page: 1, SeenAt: seen},
	}

	mock.ExpectExec("INSERT INTO discovery_hits").
		WithArgs(
			[]string{runID.String(), runID.String()},
			[]int64{1, 2},
			[]string{"fp", "fp"},
			[]string{"Accessories", "Accessories"},
			[]string{"Hats", "Hats"},
			[]string{"", ""},
			[]string{"Relevance", "Relevance"},
			[]int32{1, 1},
			[]time.Time{seen, seen},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := s.InsertHits(context.Background(), hits)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueNewIgnoresExisting(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO refresh_queue").
		WithArgs([]int64{1, 2, 3}, catalog.PriorityNew, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := s.EnqueueNew(context.Background(), []int64{1, 2, 3}, at)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDueSortsOldestFirst(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	older := now.Add(-time.Hour)
	newer := now.Add(-time.Minute)
	attempted := now.Add(-2 * time.Hour)

	rows := pgxmock.NewRows([]string{"item_id", "priority", "attempts", "last_attempt_at", "last_error", "next_run_at"}).
		AddRow(int64(2), catalog.PriorityNew, 0, (*time.Time)(nil), "", newer).
		AddRow(int64(7), catalog.PriorityRetry, 2, &attempted, "boom", older)
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(now, 10, now.Add(5*time.Minute)).
		WillReturnRows(rows)

	entries, err := s.ClaimDue(context.Background(), now, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(7), entries[0].ItemID)
	require.Equal(t, 2, entries[0].Attempts)
	require.Equal(t, "boom", entries[0].LastError)
	require.Equal(t, int64(2), entries[1].ItemID)
	require.Nil(t, entries[1].LastAttemptAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyItemUpdatesSplitsDetailAndDelete(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	updates := []catalog.ItemUpdate{
		{ItemID: 1, Detail: &catalog.ItemDetail{ID: 1, Name: "Crown", Price: int64Ptr(100), SellerName: "royal", SellerID: 4, DetailPayload: json.RawMessage(`{"id":1}`)}, EnrichedAt: now},
		{ItemID: 2, Deleted: true, EnrichedAt: now},
	}

	mock.ExpectExec("INSERT INTO catalog_items").
		WithArgs(
			[]int64{1, 2},
			[]string{"Crown", ""},
			[]*int64{int64Ptr(100), nil},
			[]string{"royal", ""},
			[]int64{4, 0},
			[]*string{strPtr(`{"id":1}`), nil},
			[]bool{false, true},
			[]time.Time{now, now},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, s.ApplyItemUpdates(context.Background(), updates))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleQueue(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	next := now.Add(24 * time.Hour)
	mock.ExpectExec("INSERT INTO refresh_queue").
		WithArgs([]int64{1}, []string{catalog.PriorityRefresh}, []int32{0}, []time.Time{now}, []string{""}, []time.Time{next}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.RescheduleQueue(context.Background(), []catalog.QueueUpdate{{
		ItemID: 1, Priority: catalog.PriorityRefresh, LastAttemptAt: now, NextRunAt: next,
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	finished := time.Unix(1700000000, 0).UTC()
	run := catalog.DiscoveryRun{ID: uuid.New(), Status: catalog.RunStatusFailed, FinishedAt: &finished, Notes: "boom"}
	mock.ExpectExec("UPDATE discovery_runs").
		WithArgs(run.ID, "failed", run.FinishedAt, "boom", 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), run)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	run := catalog.DiscoveryRun{ID: uuid.New(), Strategy: "sweep", Status: catalog.RunStatusRunning, StartedAt: time.Unix(1700000000, 0).UTC()}
	mock.ExpectExec("INSERT INTO discovery_runs").
		WithArgs(run.ID, "sweep", "", "running", run.StartedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueueEntryNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM refresh_queue WHERE item_id").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"item_id", "priority", "attempts", "last_attempt_at", "last_error", "next_run_at"}))

	_, err := s.GetQueueEntry(context.Background(), 42)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT count").
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"items", "enriched", "deleted", "queue_total", "queue_due", "runs"}).
			AddRow(int64(5), int64(3), int64(1), int64(5), int64(2), int64(1)))

	st, err := s.Stats(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, store.Stats{Items: 5, Enriched: 3, Deleted: 1, QueueTotal: 5, QueueDue: 2, Runs: 1}, st)
	require.NoError(t, mock.ExpectationsWereMet())
}
