// Package upstream holds the typed clients for the marketplace search, detail, and thumbnail endpoints. Every
// call passes through a rate controller and the retry policy.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/retry"
)

// Getter performs one HTTP GET.
type Getter interface {
	Get(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Limiter is the subset of the rate controller a caller reports to.
type Limiter interface {
	Acquire(ctx context.Context) error
	OnRateLimited(retryAfter time.Duration) time.Duration
	OnSuccess()
}

// Caller runs one logical request: acquire, GET, classify, and back off until the policy says stop.
type Caller struct {
	hostClass string
	getter    Getter
	limiter   Limiter
	policy    *retry.Policy
	clock     catalog.Clock
	sleeper   catalog.Sleeper
	logger    *zap.Logger

	// returnRateLimit hands a 429 straight back to the caller instead of retrying it.
	returnRateLimit bool
}

// CallerOption customizes a Caller.
type CallerOption func(*Caller)

// WithRateLimitPassthrough makes a 429 return ErrRateLimited immediately after it is reported to the limiter.
func WithRateLimitPassthrough() CallerOption {
	return func(c *Caller) {
		c.returnRateLimit = true
	}
}

// NewCaller wires a Caller for one host class.
func NewCaller(
	hostClass string,
	getter Getter,
	limiter Limiter,
	policy *retry.Policy,
	clock catalog.Clock,
	sleeper catalog.Sleeper,
	logger *zap.Logger,
	opts ...CallerOption,
) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Caller{
		hostClass: hostClass,
		getter:    getter,
		limiter:   limiter,
		policy:    policy,
		clock:     clock,
		sleeper:   sleeper,
		logger:    logger.With(zap.String("host_class", hostClass)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url and returns the 2xx response, or a *StatusError wrapping one of the package sentinels.
func (c *Caller) Get(ctx context.Context, url string) (collyfetcher.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return collyfetcher.Response{}, err
		}

		resp, err := c.getter.Get(ctx, collyfetcher.Request{URL: url})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return collyfetcher.Response{}, fmt.Errorf("%s get: %w", c.hostClass, ctxErr)
			}
			c.logger.Debug("upstream transport error", zap.String("url", url), zap.Error(err))
			resp = collyfetcher.Response{StatusCode: 0}
		}
		metrics.ObserveUpstream(c.hostClass, resp.StatusCode, resp.Duration)

		retryAfter := ParseRetryAfter(resp.Headers.Get("Retry-After"), c.clock.Now())
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.limiter.OnRateLimited(retryAfter)
			if c.returnRateLimit {
				return resp, c.statusError(url, resp.StatusCode, attempt, retryAfter, ErrRateLimited)
			}
		case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusNotFound:
			c.limiter.OnSuccess()
		}

		decision := c.policy.Decide(resp.StatusCode, attempt, retryAfter)
		switch decision.Action {
		case retry.Success:
			return resp, nil
		case retry.NotFound:
			return resp, c.statusError(url, resp.StatusCode, attempt, 0, ErrNotFound)
		case retry.Permanent:
			return resp, c.statusError(url, resp.StatusCode, attempt, 0, ErrPermanent)
		case retry.Exhausted:
			if resp.StatusCode == http.StatusTooManyRequests {
				return resp, c.statusError(url, resp.StatusCode, attempt, retryAfter, ErrRateLimited)
			}
			return resp, c.statusError(url, resp.StatusCode, attempt, 0, ErrExhausted)
		case retry.Retry:
			c.logger.Debug("retrying upstream call",
				zap.String("url", url),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
				zap.Duration("delay", decision.Delay),
			)
			if err := c.sleeper.Sleep(ctx, decision.Delay); err != nil {
				return collyfetcher.Response{}, fmt.Errorf("%s backoff: %w", c.hostClass, err)
			}
		default:
			return resp, c.statusError(url, resp.StatusCode, attempt, 0, errors.New("unknown retry decision"))
		}
	}
}

func (c *Caller) statusError(url string, status, attempt int, retryAfter time.Duration, sentinel error) error {
	return &StatusError{
		HostClass:  c.hostClass,
		URL:        url,
		StatusCode: status,
		Attempts:   attempt + 1,
		RetryAfter: retryAfter,
		Err:        sentinel,
	}
}
