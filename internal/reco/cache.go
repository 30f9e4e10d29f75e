// Package reco caches visualization recommendations by opaque id so a
// client can offer alternatives and apply one on a later request. The
// cache is explicitly owned: eviction runs from a sweeper the process
// starts and stops deterministically rather than an implicit global timer.
package reco

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/insightlabs/insight/internal/plan"
)

const (
	defaultTTL           = 15 * time.Minute
	defaultSweepInterval = 1 * time.Minute
)

// Config holds cache policy.
type Config struct {
	Logger        *slog.Logger
	Clock         clockwork.Clock
	TTL           time.Duration
	SweepInterval time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.TTL == 0 {
		c.TTL = defaultTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return nil
}

// Cache stores visualization hints under generated opaque ids.
type Cache struct {
	cfg   *Config
	log   *slog.Logger
	items *ttlcache.Cache[string, *plan.VisualizationHint]
}

func New(cfg *Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	items := ttlcache.New(
		ttlcache.WithTTL[string, *plan.VisualizationHint](cfg.TTL),
		ttlcache.WithDisableTouchOnHit[string, *plan.VisualizationHint](),
	)
	return &Cache{cfg: cfg, log: cfg.Logger, items: items}, nil
}

// Put stores a hint and returns its generated id.
func (c *Cache) Put(hint *plan.VisualizationHint) string {
	id := uuid.NewString()
	c.items.Set(id, hint, ttlcache.DefaultTTL)
	return id
}

// Get returns the hint for an id, if it is still cached.
func (c *Cache) Get(id string) (*plan.VisualizationHint, bool) {
	item := c.items.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Len returns the number of live cached recommendations.
func (c *Cache) Len() int {
	return c.items.Len()
}

// Sweep evicts expired entries now.
func (c *Cache) Sweep() {
	c.items.DeleteExpired()
}

// Start runs the periodic sweep until ctx is done. The interval comes from
// the configured clock, so tests drive it with a fake clock.
func (c *Cache) Start(ctx context.Context) {
	ticker := c.cfg.Clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	c.log.Debug("reco: sweeper started", "interval", c.cfg.SweepInterval, "ttl", c.cfg.TTL)
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("reco: sweeper stopped")
			return
		case <-ticker.Chan():
			c.Sweep()
		}
	}
}
