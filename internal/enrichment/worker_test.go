package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	pubmemory "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/thumbnail"
	"github.com/JakeFAU/catalog-crawler/internal/upstream"
)

var testNow = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type recordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	onCall func()
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	hook := s.onCall
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

type fakeDetailer struct {
	errs  map[int64]error
	delay time.Duration

	calls    atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64
}

func (d *fakeDetailer) Item(ctx context.Context, id int64) (catalog.ItemDetail, error) {
	d.calls.Add(1)
	now := d.inflight.Add(1)
	defer d.inflight.Add(-1)
	for {
		peak := d.peak.Load()
		if now <= peak || d.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if err := d.errs[id]; err != nil {
		return catalog.ItemDetail{}, err
	}
	price := id * 10
	return catalog.ItemDetail{ID: id, Name: fmt.Sprintf("detail-%d", id), Price: &price, SellerName: "maker", SellerID: 9}, nil
}

type staticSafeMode bool

func (s staticSafeMode) SafeMode() bool { return bool(s) }

type recordingThumbs struct {
	mu  sync.Mutex
	ids [][]int64
}

func (r *recordingThumbs) Fetch(_ context.Context, ids []int64) (thumbnail.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, append([]int64(nil), ids...))
	return thumbnail.Summary{Requested: len(ids)}, nil
}

type recordingStore struct {
	*memory.CatalogStore
	mu       sync.Mutex
	writes   []string
	applyErr error
}

func (s *recordingStore) ApplyItemUpdates(ctx context.Context, updates []catalog.ItemUpdate) error {
	s.mu.Lock()
	s.writes = append(s.writes, fmt.Sprintf("items:%d", len(updates)))
	s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	return s.CatalogStore.ApplyItemUpdates(ctx, updates)
}

func (s *recordingStore) RescheduleQueue(ctx context.Context, updates []catalog.QueueUpdate) error {
	s.mu.Lock()
	s.writes = append(s.writes, fmt.Sprintf("queue:%d", len(updates)))
	s.mu.Unlock()
	return s.CatalogStore.RescheduleQueue(ctx, updates)
}

func seedQueue(t *testing.T, st *memory.CatalogStore, ids ...int64) {
	t.Helper()
	items := make([]catalog.DiscoveredItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, catalog.DiscoveredItem{ID: id, Name: fmt.Sprintf("search-%d", id), SeenAt: testNow})
	}
	require.NoError(t, st.UpsertDiscovered(context.Background(), items))
	_, err := st.EnqueueNew(context.Background(), ids, testNow)
	require.NoError(t, err)
}

func idRange(from, to int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, id)
	}
	return out
}

func testConfig() Config {
	return Config{
		BatchLimit:          100,
		Concurrency:         4,
		BatchDelay:          time.Second,
		RefreshInterval:     24 * time.Hour,
		DeleteRetryInterval: 72 * time.Hour,
		RateLimitRequeue:    10 * time.Minute,
		BaseRetry:           time.Minute,
		MaxRetryCeiling:     time.Hour,
		ErrorSamples:        2,
	}
}

func TestRetryDelayMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	base, ceiling := time.Minute, 20*time.Minute
	require.Equal(t, time.Minute, RetryDelay(base, ceiling, 0))
	require.Equal(t, time.Minute, RetryDelay(base, ceiling, 1))
	require.Equal(t, 2*time.Minute, RetryDelay(base, ceiling, 2))
	require.Equal(t, 16*time.Minute, RetryDelay(base, ceiling, 5))

	prev := time.Duration(0)
	for attempts := 1; attempts <= 80; attempts++ {
		d := RetryDelay(base, ceiling, attempts)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, ceiling)
		prev = d
	}
	require.Equal(t, ceiling, prev)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, OutcomeSuccess, Classify(nil))
	require.Equal(t, OutcomeNotFound, Classify(&upstream.StatusError{StatusCode: 404, Err: upstream.ErrNotFound}))
	require.Equal(t, OutcomeRateLimited, Classify(&upstream.StatusError{StatusCode: 429, Err: upstream.ErrRateLimited}))
	require.Equal(t, OutcomeFailure, Classify(&upstream.StatusError{StatusCode: 500, Err: upstream.ErrExhausted}))
	require.Equal(t, OutcomeFailure, Classify(upstream.ErrDecode))
}

func TestRunBatchRoutesOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.NewCatalogStore()
	seedQueue(t, st, 1, 2, 3, 4)
	require.NoError(t, st.RescheduleQueue(ctx, []catalog.QueueUpdate{
		{ItemID: 4, Priority: catalog.PriorityRetry, Attempts: 2, LastAttemptAt: testNow.Add(-time.Hour), NextRunAt: testNow},
	}))
	detailer := &fakeDetailer{errs: map[int64]error{
		2: &upstream.StatusError{StatusCode: 404, Err: upstream.ErrNotFound},
		3: &upstream.StatusError{StatusCode: 429, Err: upstream.ErrRateLimited},
		4: &upstream.StatusError{StatusCode: 500, Err: upstream.ErrExhausted},
	}}
	w := New(testConfig(), st, detailer, nil, fakeClock{now: testNow}, &recordingSleeper{}, nil)

	summary, err := w.RunBatch(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Claimed)
	require.Equal(t, 4, summary.Processed)
	require.Equal(t, 1, summary.Updated)
	require.Equal(t, 1, summary.Deleted)
	require.Equal(t, 1, summary.RateLimited)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.ErrorSamples, 2)

	item, err := st.GetItem(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "detail-1", item.EffectiveName())
	require.Equal(t, "search-1", item.Name)
	entry, err := st.GetQueueEntry(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, catalog.PriorityRefresh, entry.Priority)
	require.Zero(t, entry.Attempts)
	require.Equal(t, testNow.Add(24*time.Hour), entry.NextRunAt)

	gone, err := st.GetItem(ctx, 2)
	require.NoError(t, err)
	require.True(t, gone.IsDeleted)
	entry, err = st.GetQueueEntry(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, catalog.PriorityDeleted, entry.Priority)
	require.Equal(t, testNow.Add(72*time.Hour), entry.NextRunAt)

	limited, err := st.GetItem(ctx, 3)
	require.NoError(t, err)
	require.False(t, limited.Enriched())
	entry, err = st.GetQueueEntry(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, catalog.PriorityNew, entry.Priority)
	require.Zero(t, entry.Attempts)
	require.Equal(t, testNow.Add(10*time.Minute), entry.NextRunAt)

	entry, err = st.GetQueueEntry(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, catalog.PriorityRetry, entry.Priority)
	require.Equal(t, 3, entry.Attempts)
	require.Equal(t, testNow.Add(4*time.Minute), entry.NextRunAt)
	require.Contains(t, entry.LastError, "500")
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore()
	seedQueue(t, st, idRange(1, 50)...)
	detailer := &fakeDetailer{delay: 5 * time.Millisecond}
	w := New(testConfig(), st, detailer, nil, fakeClock{now: testNow}, &recordingSleeper{}, nil)

	summary, err := w.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 50, summary.Processed)
	require.Equal(t, 50, summary.Updated)
	require.Equal(t, int64(50), detailer.calls.Load())
	require.LessOrEqual(t, detailer.peak.Load(), int64(4))
	require.GreaterOrEqual(t, detailer.peak.Load(), int64(2))

	stats, err := st.Stats(context.Background(), testNow)
	require.NoError(t, err)
	require.Equal(t, int64(50), stats.Enriched)
	require.Zero(t, stats.QueueDue)
}

func TestRunBatchSafeModeProfile(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore()
	seedQueue(t, st, idRange(1, 10)...)
	cfg := testConfig()
	cfg.SafeModeConcurrency = 1
	cfg.SafeModeBatchLimit = 3
	detailer := &fakeDetailer{delay: time.Millisecond}
	w := New(cfg, st, detailer, staticSafeMode(true), fakeClock{now: testNow}, &recordingSleeper{}, nil)

	summary, err := w.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, summary.SafeMode)
	require.Equal(t, 1, summary.Concurrency)
	require.Equal(t, 3, summary.Claimed)
	require.Equal(t, int64(1), detailer.peak.Load())
}

func TestRunDrainsQueueThenStops(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore()
	seedQueue(t, st, idRange(1, 5)...)
	cfg := testConfig()
	cfg.BatchLimit = 2
	sleeper := &recordingSleeper{}
	w := New(cfg, st, &fakeDetailer{}, nil, fakeClock{now: testNow}, sleeper, nil)

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Batches)
	require.Equal(t, 5, summary.Processed)
	require.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, sleeper.waits)
}

func TestRunHonoursMaxItems(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore()
	seedQueue(t, st, idRange(1, 10)...)
	cfg := testConfig()
	cfg.BatchLimit = 2
	cfg.MaxItems = 3
	detailer := &fakeDetailer{}
	w := New(cfg, st, detailer, nil, fakeClock{now: testNow}, &recordingSleeper{}, nil)

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Processed)
	require.Equal(t, int64(3), detailer.calls.Load())
}

func TestRunFollowPollsUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.Follow = true
	cfg.IdlePoll = 5 * time.Second
	polls := 0
	sleeper := &recordingSleeper{}
	sleeper.onCall = func() {
		polls++
		if polls == 2 {
			cancel()
		}
	}
	w := New(cfg, memory.NewCatalogStore(), &fakeDetailer{}, nil, fakeClock{now: testNow}, sleeper, nil)

	summary, err := w.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Processed)
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.waits)
}

func TestRunBatchWritesItemsBeforeQueueInChunks(t *testing.T) {
	t.Parallel()

	mem := memory.NewCatalogStore()
	seedQueue(t, mem, idRange(1, 5)...)
	st := &recordingStore{CatalogStore: mem}
	cfg := testConfig()
	cfg.UpsertChunkSize = 2
	w := New(cfg, st, &fakeDetailer{}, nil, fakeClock{now: testNow}, &recordingSleeper{}, nil)

	_, err := w.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"items:2", "items:2", "items:1", "queue:2", "queue:2", "queue:1"}, st.writes)
}

func TestRunBatchStoreFailureAborts(t *testing.T) {
	t.Parallel()

	mem := memory.NewCatalogStore()
	seedQueue(t, mem, 1)
	st := &recordingStore{CatalogStore: mem, applyErr: errors.New("constraint violated")}
	w := New(testConfig(), st, &fakeDetailer{}, nil, fakeClock{now: testNow}, &recordingSleeper{}, nil)

	_, err := w.Run(context.Background())
	require.ErrorContains(t, err, "constraint violated")
	require.Equal(t, []string{"items:1"}, st.writes)
}

func TestRunBatchThumbnailsAndEvents(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore()
	seedQueue(t, st, 1, 2, 3)
	thumbs := &recordingThumbs{}
	pub := pubmemory.New()
	detailer := &fakeDetailer{errs: map[int64]error{
		2: upstream.ErrNotFound,
		3: upstream.ErrExhausted,
	}}
	w := New(testConfig(), st, detailer, nil, fakeClock{now: testNow}, &recordingSleeper{}, nil,
		WithThumbnails(thumbs),
		WithEvents(pub, "catalog-events"),
	)

	_, err := w.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, [][]int64{{1}}, thumbs.ids)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "catalog-events", msgs[0].Topic)
	require.Equal(t, Event{Type: EventItemEnriched, ItemID: 1, At: testNow}, msgs[0].Payload)
	require.Equal(t, Event{Type: EventItemDeleted, ItemID: 2, At: testNow}, msgs[1].Payload)
}

func TestRunBatchPublishFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	st := memory.NewCatalogStore()
	seedQueue(t, st, 1)
	pub := pubmemory.New()
	pub.FailWith(errors.New("topic unavailable"))
	w := New(testConfig(), st, &fakeDetailer{}, nil, fakeClock{now: testNow}, &recordingSleeper{}, nil,
		WithEvents(pub, "catalog-events"),
	)

	summary, err := w.RunBatch(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	require.Empty(t, pub.Messages())

	item, err := st.GetItem(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, item.Enriched())
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Concurrency: 1, BatchLimit: 10}.withDefaults()
	require.Equal(t, 1, cfg.SafeModeConcurrency)
	require.Equal(t, 10, cfg.SafeModeBatchLimit)
	require.Equal(t, DefaultConfig().RefreshInterval, cfg.RefreshInterval)
	require.Equal(t, DefaultConfig().UpsertChunkSize, cfg.UpsertChunkSize)
}
