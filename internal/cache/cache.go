// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache implements the two-tier result cache. The local tier is an
// in-process 2Q cache; the optional shared tier (Redis or SQLite) lets several
// processes reuse fused results. Reads check local first, then shared, and a
// shared hit is mirrored locally for the remaining TTL.
//
// Shared tier failures never reach callers: a failed read is a miss and a
// failed write is skipped. Failures are counted, and logged once when the
// tier goes from healthy to failing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/internal/metrics"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

const (
	defaultOpTimeout   = 500 * time.Millisecond
	defaultSchedule    = "@every 1m"
	defaultMaxShared   = 10000
	defaultSharedLabel = "none"
)

// Shared is an external cache tier.
type Shared interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) (int, error)
	Count(ctx context.Context) (int, error)
	Sweep(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// envelope is the shared tier value format.
type envelope struct {
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
	Value    []byte        `json:"value"`
}

// Stats summarizes cache activity.
type Stats struct {
	Size          int     `json:"size"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	LocalHits     int64   `json:"local_hits"`
	SharedHits    int64   `json:"shared_hits"`
	SharedBackend string  `json:"shared_backend"`
	SharedHealthy bool    `json:"shared_healthy"`
	SharedErrors  int64   `json:"shared_errors"`
	Sweeps        int64   `json:"sweeps"`
}

// Cache is the two-tier cache. It is safe for concurrent use.
type Cache struct {
	local     *Local
	shared    Shared
	logger    zerolog.Logger
	now       func() time.Time
	opTimeout time.Duration
	maxShared int
	schedule  string

	localHits    atomic.Int64
	sharedHits   atomic.Int64
	misses       atomic.Int64
	sharedErrors atomic.Int64
	sweeps       atomic.Int64
	failing      atomic.Bool

	mu   sync.Mutex
	cron *cron.Cron
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces the time source for both tiers' TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. shared may be nil for a local-only cache.
func New(cfg types.CacheConfig, shared Shared, logger zerolog.Logger, opts ...Option) (*Cache, error) {
	c := &Cache{
		shared:    shared,
		logger:    logger.With().Str("component", "cache").Logger(),
		now:       time.Now,
		opTimeout: cfg.OpTimeout,
		maxShared: cfg.MaxSharedKeys,
		schedule:  cfg.MaintenanceSchedule,
	}
	for _, o := range opts {
		o(c)
	}
	if c.opTimeout <= 0 {
		c.opTimeout = defaultOpTimeout
	}
	if c.maxShared <= 0 {
		c.maxShared = defaultMaxShared
	}
	if c.schedule == "" {
		c.schedule = defaultSchedule
	}

	local, err := NewLocal(cfg.LocalCapacity, func() time.Time { return c.now() })
	if err != nil {
		return nil, err
	}
	c.local = local
	return c, nil
}

// Get returns the cached value for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		c.localHits.Add(1)
		metrics.CacheLookups.WithLabelValues("local", "hit").Inc()
		return v, true
	}
	metrics.CacheLookups.WithLabelValues("local", "miss").Inc()

	if c.shared == nil {
		c.misses.Add(1)
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	raw, ok, err := c.shared.Get(opCtx, key)
	if err != nil {
		c.sharedFailed("get", err)
		c.misses.Add(1)
		return nil, false
	}
	c.sharedOK()
	if !ok {
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("shared", "miss").Inc()
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable shared entry")
		c.misses.Add(1)
		return nil, false
	}
	remaining := env.TTL - c.now().Sub(env.StoredAt)
	if remaining <= 0 {
		c.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("shared", "expired").Inc()
		return nil, false
	}

	c.local.setAt(key, env.Value, env.StoredAt, env.TTL)
	c.sharedHits.Add(1)
	metrics.CacheLookups.WithLabelValues("shared", "hit").Inc()
	return env.Value, true
}

// Set stores value in both tiers for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	c.local.setAt(key, value, now, ttl)
	if c.shared == nil {
		return
	}

	raw, err := json.Marshal(envelope{StoredAt: now, TTL: ttl, Value: value})
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("encoding cache entry")
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.shared.Set(opCtx, key, raw, ttl); err != nil {
		c.sharedFailed("set", err)
		return
	}
	c.sharedOK()
}

// Invalidate removes keys matching the glob pattern from both tiers. The
// count is the shared tier's, since it holds every instance's writes; a
// local-only cache reports its own. Unlike reads and writes, a shared tier
// failure is returned so operators see it.
func (c *Cache) Invalidate(ctx context.Context, pattern string) (int, error) {
	n, err := c.local.Invalidate(pattern)
	if err != nil {
		return 0, err
	}
	if c.shared == nil {
		return n, nil
	}
	m, err := c.shared.Invalidate(ctx, pattern)
	if err != nil {
		c.sharedFailed("invalidate", err)
		return n, fmt.Errorf("%w: %v", fault.ErrCacheUnavailable, err)
	}
	c.sharedOK()
	return m, nil
}

// Ping checks the shared tier. A local-only cache is always reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.shared.Ping(opCtx); err != nil {
		c.sharedFailed("ping", err)
		return fmt.Errorf("%w: %v", fault.ErrCacheUnavailable, err)
	}
	c.sharedOK()
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	local, shared, misses := c.localHits.Load(), c.sharedHits.Load(), c.misses.Load()
	hits := local + shared
	s := Stats{
		Size:          c.local.Len(),
		Hits:          hits,
		Misses:        misses,
		LocalHits:     local,
		SharedHits:    shared,
		SharedBackend: defaultSharedLabel,
		SharedHealthy: !c.failing.Load(),
		SharedErrors:  c.sharedErrors.Load(),
		Sweeps:        c.sweeps.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	if c.shared != nil {
		s.SharedBackend = c.shared.Name()
	}
	return s
}

// Maintain runs one maintenance pass: purge expired local entries, sweep
// the shared tier when it holds more than the configured key count, and
// ping it. Errors are logged and counted, never returned.
func (c *Cache) Maintain(ctx context.Context) {
	if n := c.local.PurgeExpired(); n > 0 {
		c.logger.Debug().Int("purged", n).Msg("purged expired local entries")
	}
	if c.shared == nil {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*c.opTimeout)
	defer cancel()

	count, err := c.shared.Count(opCtx)
	if err != nil {
		c.sharedFailed("count", err)
	} else if count > c.maxShared {
		n, err := c.shared.Sweep(opCtx)
		if err != nil {
			c.sharedFailed("sweep", err)
		} else {
			c.sweeps.Add(1)
			c.logger.Info().Int("keys", count).Int("removed", n).Msg("swept shared cache tier")
		}
	}

	_ = c.Ping(ctx)
}

// StartMaintenance schedules Maintain on the configured cron schedule.
func (c *Cache) StartMaintenance(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}
	cr := cron.New()
	if _, err := cr.AddFunc(c.schedule, func() { c.Maintain(ctx) }); err != nil {
		return fault.Configf("cache maintenance schedule %q: %v", c.schedule, err)
	}
	cr.Start()
	c.cron = cr
	return nil
}

// Close stops maintenance, waits for a running pass, and closes the shared tier.
func (c *Cache) Close() error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
	if c.shared != nil {
		return c.shared.Close()
	}
	return nil
}

func (c *Cache) sharedFailed(op string, err error) {
	c.sharedErrors.Add(1)
	metrics.CacheErrors.WithLabelValues(op).Inc()
	if c.failing.CompareAndSwap(false, true) {
		c.logger.Warn().
			Err(errors.Join(fault.ErrCacheUnavailable, err)).
			Str("op", op).
			Str("backend", c.shared.Name()).
			Msg("shared cache tier failing; continuing without it")
	}
}

func (c *Cache) sharedOK() {
	if c.failing.CompareAndSwap(true, false) {
		c.logger.Info().Str("backend", c.shared.Name()).Msg("shared cache tier recovered")
	}
}
