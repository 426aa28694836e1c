// Package retry maps an upstream response to the next action a caller should take.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"net/http"
	"time"
)

// Action is the outcome of a retry decision.
type Action int

// Decision actions.
const (
	Success Action = iota
	NotFound
	Retry
	Exhausted
	Permanent
)

func (a Action) String() string {
	switch a {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Decision is returned by Policy.Decide. Delay is set only for Retry.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Config holds the backoff tunables.
type Config struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	JitterMax  time.Duration `mapstructure:"jitter_max"`
}

// DefaultConfig returns the backoff used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		JitterMax:  250 * time.Millisecond,
	}
}

// JitterFunc returns a random duration in [0, limit).
type JitterFunc func(limit time.Duration) time.Duration

// Policy is a pure function of (status, attempt, retry-after). It is safe for concurrent use.
type Policy struct {
	cfg    Config
	jitter JitterFunc
}

// New builds a Policy. A nil jitter uses crypto/rand.
func New(cfg Config, jitter JitterFunc) *Policy {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.JitterMax < 0 {
		cfg.JitterMax = 0
	}
	if jitter == nil {
		jitter = randomJitter
	}
	return &Policy{cfg: cfg, jitter: jitter}
}

// MaxRetries returns the configured retry budget.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// Decide classifies status for the given zero-based attempt. Status 0 means the call produced no response
// (timeout or transport error) and is treated like a 5xx.
func (p *Policy) Decide(status int, attempt int, retryAfter time.Duration) Decision {
	switch {
	case status >= 200 && status < 300:
		return Decision{Action: Success}
	case status == http.StatusNotFound:
		return Decision{Action: NotFound}
	case Retryable(status):
		if attempt >= p.cfg.MaxRetries {
			return Decision{Action: Exhausted}
		}
		return Decision{Action: Retry, Delay: p.Backoff(attempt, retryAfter)}
	default:
		return Decision{Action: Permanent}
	}
}

// Backoff computes max(base*2^attempt, retryAfter) plus jitter, clamped to MaxDelay.
func (p *Policy) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	d := time.Duration(delay)
	if retryAfter > d {
		d = retryAfter
	}
	if p.cfg.JitterMax > 0 {
		d += p.jitter(p.cfg.JitterMax)
	}
	if d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}

// Retryable reports whether status is worth another attempt.
func Retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
