package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSleeper records requested waits and optionally advances the clock.
type fakeSleeper struct {
	mu      sync.Mutex
	clock   *fakeClock
	advance bool
	waits   []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	if s.advance {
		s.clock.Advance(d)
	}
	return nil
}

func (s *fakeSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.waits))
	copy(out, s.waits)
	return out
}

func testConfig() Config {
	return Config{
		MinInterval:         100 * time.Millisecond,
		MaxInterval:         time.Second,
		WidenFactor:         2,
		RelaxFactor:         0.5,
		CooldownBase:        time.Second,
		CooldownMax:         10 * time.Second,
		MaxStrikes:          8,
		SafeModeStrikes:     3,
		SafeModeMinInterval: 400 * time.Millisecond,
	}
}

func TestAcquireSpacesCalls(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sleeper := &fakeSleeper{clock: clock, advance: true}
	c := New("detail", testConfig(), clock, sleeper, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Acquire(context.Background()))
	}
	require.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, sleeper.Waits())
}

func TestAcquireConcurrentCallersGetDistinctSlots(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sleeper := &fakeSleeper{clock: clock}
	c := New("detail", testConfig(), clock, sleeper, nil)

	const callers = 10
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	waits := sleeper.Waits()
	// The first caller fires immediately and never sleeps.
	require.Len(t, waits, callers-1)
	sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
	for i, w := range waits {
		require.Equal(t, time.Duration(i+1)*100*time.Millisecond, w)
	}
}

func TestAcquireHonoursCooldown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sleeper := &fakeSleeper{clock: clock, advance: true}
	c := New("search", testConfig(), clock, sleeper, nil)

	cooldown := c.OnRateLimited(0)
	require.Equal(t, time.Second, cooldown)

	require.NoError(t, c.Acquire(context.Background()))
	require.Equal(t, []time.Duration{time.Second}, sleeper.Waits())
}

func TestAcquireCanceled(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New("search", testConfig(), clock, &fakeSleeper{clock: clock}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Acquire(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestOnRateLimitedCooldownMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New("detail", testConfig(), clock, &fakeSleeper{clock: clock}, nil)

	var prev time.Duration
	for i := 0; i < 12; i++ {
		cooldown := c.OnRateLimited(0)
		require.GreaterOrEqual(t, cooldown, prev)
		require.LessOrEqual(t, cooldown, 10*time.Second)
		prev = cooldown
	}
	require.Equal(t, 10*time.Second, prev)

	state := c.Snapshot()
	require.Equal(t, 8, state.Strikes)
	require.Equal(t, time.Second, state.MinInterval)
}

func TestOnRateLimitedRetryAfterWins(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New("detail", testConfig(), clock, &fakeSleeper{clock: clock}, nil)

	require.Equal(t, 7*time.Second, c.OnRateLimited(7*time.Second))
	require.Equal(t, clock.Now().Add(7*time.Second), c.Snapshot().RateLimitUntil)

	// A server hint above the ceiling is clamped.
	require.Equal(t, 10*time.Second, c.OnRateLimited(time.Hour))
}

func TestRateLimitUntilNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New("detail", testConfig(), clock, &fakeSleeper{clock: clock}, nil)

	c.OnRateLimited(9 * time.Second)
	until := c.Snapshot().RateLimitUntil
	c.OnSuccess()
	c.OnSuccess()
	c.OnRateLimited(0)
	require.Equal(t, until, c.Snapshot().RateLimitUntil)
}

func TestSafeModeEngagesAndPersists(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New("detail", testConfig(), clock, &fakeSleeper{clock: clock}, nil)

	c.OnRateLimited(0)
	c.OnRateLimited(0)
	require.False(t, c.SafeMode())
	c.OnRateLimited(0)
	require.True(t, c.SafeMode())

	for i := 0; i < 50; i++ {
		c.OnSuccess()
	}
	state := c.Snapshot()
	require.True(t, state.SafeMode)
	require.Zero(t, state.Strikes)
	require.Equal(t, 400*time.Millisecond, state.Floor)
	require.Equal(t, 400*time.Millisecond, state.MinInterval)
}

func TestOnSuccessRelaxesTowardBaseline(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New("detail", testConfig(), clock, &fakeSleeper{clock: clock}, nil)

	c.OnRateLimited(0)
	c.OnRateLimited(0)
	require.Equal(t, 400*time.Millisecond, c.Snapshot().MinInterval)

	c.OnSuccess()
	state := c.Snapshot()
	require.Equal(t, 1, state.Strikes)
	require.Equal(t, 200*time.Millisecond, state.MinInterval)

	c.OnSuccess()
	c.OnSuccess()
	state = c.Snapshot()
	require.Zero(t, state.Strikes)
	require.Equal(t, 100*time.Millisecond, state.MinInterval)
	require.False(t, state.SafeMode)
}

func TestConfigDefaultsSanitized(t *testing.T) {
	t.Parallel()

	cfg := Config{MinInterval: 2 * time.Second, MaxInterval: time.Second, WidenFactor: 0.5, RelaxFactor: 3}.withDefaults()
	require.Equal(t, 2*time.Second, cfg.MaxInterval)
	require.Equal(t, DefaultConfig().WidenFactor, cfg.WidenFactor)
	require.Equal(t, DefaultConfig().RelaxFactor, cfg.RelaxFactor)
	require.GreaterOrEqual(t, cfg.MaxStrikes, cfg.SafeModeStrikes)
}
