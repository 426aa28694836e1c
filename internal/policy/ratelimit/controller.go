// Package ratelimit implements the adaptive gate every upstream call passes through. One Controller exists per
// upstream host class; it spaces calls by a rolling minimum interval, honours a rate-limit cooldown deadline, and
// escalates repeated rate limiting into a sticky safe mode that the enrichment worker reads as backpressure.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config holds the controller tunables for one host class.
type Config struct {
	MinInterval         time.Duration `mapstructure:"min_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	WidenFactor         float64       `mapstructure:"widen_factor"`
	RelaxFactor         float64       `mapstructure:"relax_factor"`
	CooldownBase        time.Duration `mapstructure:"cooldown_base"`
	CooldownMax         time.Duration `mapstructure:"cooldown_max"`
	MaxStrikes          int           `mapstructure:"max_strikes"`
	SafeModeStrikes     int           `mapstructure:"safe_mode_strikes"`
	SafeModeMinInterval time.Duration `mapstructure:"safe_mode_min_interval"`
}

// DefaultConfig returns conservative defaults suitable for the detail endpoint.
func DefaultConfig() Config {
	return Config{
		MinInterval:         750 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		WidenFactor:         1.5,
		RelaxFactor:         0.9,
		CooldownBase:        5 * time.Second,
		CooldownMax:         2 * time.Minute,
		MaxStrikes:          8,
		SafeModeStrikes:     5,
		SafeModeMinInterval: 3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.WidenFactor < 1 {
		c.WidenFactor = def.WidenFactor
	}
	if c.RelaxFactor <= 0 || c.RelaxFactor > 1 {
		c.RelaxFactor = def.RelaxFactor
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = def.CooldownBase
	}
	if c.CooldownMax < c.CooldownBase {
		c.CooldownMax = c.CooldownBase
	}
	if c.SafeModeStrikes <= 0 {
		c.SafeModeStrikes = def.SafeModeStrikes
	}
	if c.MaxStrikes < c.SafeModeStrikes {
		c.MaxStrikes = c.SafeModeStrikes
	}
	return c
}

// State is a point-in-time copy of the controller's mutable fields.
type State struct {
	HostClass      string        `json:"host_class"`
	MinInterval    time.Duration `json:"min_interval"`
	Floor          time.Duration `json:"floor"`
	LastRequestAt  time.Time     `json:"last_request_at"`
	RateLimitUntil time.Time     `json:"rate_limit_until"`
	Strikes        int           `json:"strikes"`
	SafeMode       bool          `json:"safe_mode"`
}

// Controller serializes the decision of when the next outbound call may fire. It is safe for concurrent use.
type Controller struct {
	hostClass string
	cfg       Config
	clock     catalog.Clock
	sleeper   catalog.Sleeper
	logger    *zap.Logger

	mu             sync.Mutex
	floor          time.Duration
	minInterval    time.Duration
	lastSlot       time.Time
	rateLimitUntil time.Time
	strikes        int
	safeMode       bool
}

// New builds a Controller for the named host class.
func New(hostClass string, cfg Config, clock catalog.Clock, sleeper catalog.Sleeper, logger *zap.Logger) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		hostClass:   hostClass,
		cfg:         cfg,
		clock:       clock,
		sleeper:     sleeper,
		logger:      logger.With(zap.String("host_class", hostClass)),
		floor:       cfg.MinInterval,
		minInterval: cfg.MinInterval,
	}
}

// HostClass returns the label this controller was created with.
func (c *Controller) HostClass() string {
	return c.hostClass
}

// Acquire blocks until it is safe to issue one outbound call. The slot is reserved under the lock before
// waiting, so concurrent callers are admitted in reservation order and never share a slot. If a cooldown is
// extended while a caller waits, the caller reserves again behind the new deadline.
func (c *Controller) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("acquire %s: %w", c.hostClass, err)
		}
		slot, wait := c.reserve()
		if wait > 0 {
			metrics.ObserveRateLimitDelay(c.hostClass, wait)
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return fmt.Errorf("acquire %s: %w", c.hostClass, err)
			}
		}
		if !c.cooldownPast(slot) {
			return nil
		}
	}
}

func (c *Controller) reserve() (time.Time, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	slot := now
	if c.rateLimitUntil.After(slot) {
		slot = c.rateLimitUntil
	}
	if !c.lastSlot.IsZero() {
		if next := c.lastSlot.Add(c.minInterval); next.After(slot) {
			slot = next
		}
	}
	c.lastSlot = slot
	return slot, slot.Sub(now)
}

// cooldownPast reports whether a cooldown set after the reservation now covers the reserved slot.
func (c *Controller) cooldownPast(slot time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimitUntil.After(slot) && c.rateLimitUntil.After(c.clock.Now())
}

// OnRateLimited records one strike and returns the cooldown applied. retryAfter is the server hint (zero if absent).
func (c *Controller) OnRateLimited(retryAfter time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strikes < c.cfg.MaxStrikes {
		c.strikes++
	}
	cooldown := c.cooldownFor(c.strikes, retryAfter)
	now := c.clock.Now()
	if until := now.Add(cooldown); until.After(c.rateLimitUntil) {
		c.rateLimitUntil = until
	}
	widened := time.Duration(float64(c.minInterval) * c.cfg.WidenFactor)
	if widened > c.cfg.MaxInterval {
		widened = c.cfg.MaxInterval
	}
	c.minInterval = widened

	if !c.safeMode && c.strikes >= c.cfg.SafeModeStrikes {
		c.safeMode = true
		if c.cfg.SafeModeMinInterval > c.floor {
			c.floor = c.cfg.SafeModeMinInterval
		}
		if c.minInterval < c.floor {
			c.minInterval = c.floor
		}
		metrics.SetSafeMode(c.hostClass, true)
		c.logger.Warn("safe mode engaged",
			zap.Int("strikes", c.strikes),
			zap.Duration("floor", c.floor),
		)
	}
	metrics.ObserveRateLimited(c.hostClass, c.strikes)
	c.logger.Info("rate limited",
		zap.Int("strikes", c.strikes),
		zap.Duration("cooldown", cooldown),
		zap.Duration("min_interval", c.minInterval),
	)
	return cooldown
}

func (c *Controller) cooldownFor(strikes int, retryAfter time.Duration) time.Duration {
	exp := float64(c.cfg.CooldownBase) * math.Pow(2, float64(strikes-1))
	cooldown := c.cfg.CooldownMax
	if exp < float64(c.cfg.CooldownMax) {
		cooldown = time.Duration(exp)
	}
	if retryAfter > cooldown {
		cooldown = retryAfter
	}
	if cooldown > c.cfg.CooldownMax {
		cooldown = c.cfg.CooldownMax
	}
	return cooldown
}

// OnSuccess decays one strike and relaxes the interval toward the floor. Safe mode is not cleared.
func (c *Controller) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.strikes > 0 {
		c.strikes--
	}
	relaxed := time.Duration(float64(c.minInterval) * c.cfg.RelaxFactor)
	if relaxed < c.floor {
		relaxed = c.floor
	}
	c.minInterval = relaxed
	metrics.SetStrikes(c.hostClass, c.strikes)
}

// SafeMode reports whether the degraded profile has been engaged.
func (c *Controller) SafeMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.safeMode
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		HostClass:      c.hostClass,
		MinInterval:    c.minInterval,
		Floor:          c.floor,
		LastRequestAt:  c.lastSlot,
		RateLimitUntil: c.rateLimitUntil,
		Strikes:        c.strikes,
		SafeMode:       c.safeMode,
	}
}
