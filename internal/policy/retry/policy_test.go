package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noJitter(time.Duration) time.Duration { return 0 }

func TestDecideClassifiesStatus(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute}, noJitter)
	testCases := []struct {
		name   string
		status int
		want   Action
	}{
		{"ok", 200, Success},
		{"no content", 204, Success},
		{"not found", 404, NotFound},
		{"rate limited", 429, Retry},
		{"server error", 503, Retry},
		{"timeout", 0, Retry},
		{"bad request", 400, Permanent},
		{"forbidden", 403, Permanent},
		{"redirect", 302, Permanent},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, p.Decide(tc.status, 0, 0).Action)
		})
	}
}

func TestDecideExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute}, noJitter)
	require.Equal(t, Retry, p.Decide(500, 1, 0).Action)
	require.Equal(t, Exhausted, p.Decide(500, 2, 0).Action)
	require.Equal(t, Exhausted, p.Decide(429, 3, 0).Action)
}

func TestBackoffMonotonicUntilCeiling(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxRetries: 20, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}, noJitter)
	var prev time.Duration
	for attempt := 0; attempt < 20; attempt++ {
		d := p.Decide(429, attempt, 0)
		require.Equal(t, Retry, d.Action)
		require.GreaterOrEqual(t, d.Delay, prev)
		require.LessOrEqual(t, d.Delay, 5*time.Second)
		prev = d.Delay
	}
	require.Equal(t, 5*time.Second, prev)
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}, noJitter)
	require.Equal(t, 100*time.Millisecond, p.Decide(503, 0, 0).Delay)
	require.Equal(t, 3*time.Second, p.Decide(503, 0, 3*time.Second).Delay)
	require.Equal(t, 10*time.Second, p.Decide(503, 0, time.Hour).Delay)
}

func TestBackoffAddsBoundedJitter(t *testing.T) {
	t.Parallel()

	var gotLimit time.Duration
	jitter := func(limit time.Duration) time.Duration {
		gotLimit = limit
		return limit - 1
	}
	p := New(Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute, JitterMax: 200 * time.Millisecond}, jitter)
	require.Equal(t, time.Second+200*time.Millisecond-1, p.Backoff(0, 0))
	require.Equal(t, 200*time.Millisecond, gotLimit)
}

func TestRandomJitterWithinLimit(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		j := randomJitter(50 * time.Millisecond)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, 50*time.Millisecond)
	}
	require.Zero(t, randomJitter(0))
}
