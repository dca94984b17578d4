// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine is the unified data facade. A GetUnified call looks up the
// tool, checks the cache, picks providers, calls them through the
// deduplicator and the provider guard, scores each answer, fuses the
// results, and caches the fused record for a market-aware TTL.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/fusion-engine/internal/cache"
	"github.com/pdiddy/fusion-engine/internal/config"
	"github.com/pdiddy/fusion-engine/internal/dedupe"
	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/internal/fusion"
	"github.com/pdiddy/fusion-engine/internal/health"
	"github.com/pdiddy/fusion-engine/internal/metrics"
	"github.com/pdiddy/fusion-engine/internal/provider"
	"github.com/pdiddy/fusion-engine/internal/quality"
	"github.com/pdiddy/fusion-engine/internal/reputation"
	"github.com/pdiddy/fusion-engine/internal/router"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// Options tune a single GetUnified call. Zero values take the configured
// defaults.
type Options struct {
	// Sources pins the providers to ask, bypassing the tool table.
	Sources []string

	// Strategy overrides the tool's resolution strategy.
	Strategy types.Strategy

	// Timeout tightens each provider call's bound.
	Timeout time.Duration

	// CacheTTL overrides the market-hours TTL.
	CacheTTL time.Duration

	// Mode selects parallel fan-out or sequential fallback.
	Mode types.FetchMode

	// MinSources is the number of successes sequential mode waits for.
	MinSources int

	// MarketOpen overrides the market calendar.
	MarketOpen *bool

	// Params are extra provider parameters, e.g. an indicator period.
	Params types.Params

	// NoCache skips the cache lookup. The fused result is still written.
	NoCache bool
}

// Engine serves unified records. Build it once with New and share it.
type Engine struct {
	cfg       types.EngineConfig
	logger    zerolog.Logger
	providers map[string]*provider.Guarded
	tracker   *reputation.Tracker
	scorer    *quality.Scorer
	router    *router.Router
	dedupe    *dedupe.Deduplicator
	fusion    *fusion.Engine
	cache     *cache.Cache
	calendar  *config.MarketCalendar
	monitor   *health.Monitor
	snapshots *reputation.SnapshotStore
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source used for market hours, scoring, and
// fusion timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSnapshotStore persists reputation in store instead of the configured
// snapshot path.
func WithSnapshotStore(store *reputation.SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = store }
}

// New wires the engine. cfg must already have defaults applied. Every
// provider needs a matching entry in cfg.Providers. shared may be nil for a
// local-only cache.
func New(cfg types.EngineConfig, providers []provider.Provider, shared cache.Shared, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		logger:    logger.With().Str("component", "engine").Logger(),
		providers: make(map[string]*provider.Guarded, len(providers)),
		dedupe:    dedupe.New(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}

	ids := make([]string, 0, len(providers))
	targets := make([]health.Target, 0, len(providers))
	for _, p := range providers {
		pc, ok := cfg.Provider(p.Name())
		if !ok {
			return nil, fault.Configf("provider %s has no configuration", p.Name())
		}
		g := provider.Guard(p, pc)
		e.providers[p.Name()] = g
		ids = append(ids, p.Name())
		targets = append(targets, g)
	}
	for _, t := range cfg.Tools {
		for _, id := range t.Providers {
			if _, ok := e.providers[id]; !ok {
				return nil, fault.Configf("tool %s: provider %q is not available", t.Name, id)
			}
		}
	}

	cal, err := config.NewMarketCalendar(cfg.MarketHours)
	if err != nil {
		return nil, err
	}
	e.calendar = cal

	e.tracker = reputation.NewTracker(ids, reputation.Settings{
		LearningRate:   cfg.Scoring.LearningRate,
		SLALatency:     cfg.Scoring.SLALatency,
		SlowOutcome:    cfg.Scoring.SlowOutcome,
		UnhealthyAfter: cfg.Health.UnhealthyAfter,
		DegradedBelow:  cfg.Health.DegradedBelow,
	}, logger)
	e.tracker.SetClock(e.now)
	e.scorer = quality.NewScorer(e.tracker, cfg.Scoring)
	e.scorer.SetClock(e.now)
	e.router = router.New(cfg.Tools, e.tracker, cfg.Router)
	e.fusion = fusion.New(cfg.Fusion)
	e.fusion.SetClock(e.now)
	e.monitor = health.New(targets, e.tracker, cfg.Health.Interval, cfg.Health.ProbeTimeout, logger)

	c, err := cache.New(cfg.Cache, shared, logger, cache.WithClock(e.now))
	if err != nil {
		return nil, err
	}
	e.cache = c

	if e.snapshots == nil && cfg.Reputation.SnapshotPath != "" {
		store, err := reputation.OpenSnapshotStore(cfg.Reputation.SnapshotPath)
		if err != nil {
			return nil, err
		}
		e.snapshots = store
	}
	return e, nil
}

// GetUnified returns the fused record for identifier under entityType.
func (e *Engine) GetUnified(ctx context.Context, entityType, identifier string, opts Options) (types.FusedRecord, error) {
	tool, ok := e.cfg.Tool(entityType)
	if !ok {
		e.countRequest(entityType, "config_error")
		return types.FusedRecord{}, fault.Configf("unknown entity type %q", entityType)
	}
	strategy := e.strategy(tool, opts)
	if !strategy.Valid() {
		e.countRequest(entityType, "config_error")
		return types.FusedRecord{}, fault.Configf("unknown strategy %q", strategy)
	}

	params := make(types.Params, len(opts.Params)+1)
	for k, v := range opts.Params {
		params[k] = v
	}
	params[tool.IdentifierParam] = identifier

	key := CacheKey(entityType, identifier, strategy, opts.Sources, opts.Params)
	if !opts.NoCache {
		if rec, ok := e.cached(ctx, key); ok {
			e.countRequest(entityType, "cache_hit")
			return rec, nil
		}
	}

	candidates, err := e.candidates(tool, opts.Sources)
	if err != nil {
		e.countRequest(entityType, "config_error")
		return types.FusedRecord{}, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = e.cfg.Fusion.Mode
	}
	var results []types.ScoredResult
	switch mode {
	case types.ModeSequential:
		minSources := opts.MinSources
		if minSources <= 0 {
			minSources = e.cfg.Fusion.MinSources
		}
		results = e.fetchSequential(ctx, tool, candidates, params, opts.Timeout, minSources)
	case types.ModeParallel, "":
		if n := e.cfg.Fusion.MaxSources; n > 0 && len(candidates) > n {
			candidates = candidates[:n]
		}
		results = e.fetchParallel(ctx, tool, candidates, params, opts.Timeout)
	default:
		e.countRequest(entityType, "config_error")
		return types.FusedRecord{}, fault.Configf("unknown fetch mode %q", mode)
	}

	rec, err := e.fusion.Fuse(entityType, results, fusion.Options{Strategy: strategy, MinQuality: tool.MinQuality})
	if err != nil {
		if errors.Is(err, fault.ErrNoSourcesAvailable) {
			e.countRequest(entityType, "no_sources")
			e.logger.Warn().Err(err).
				Str("tool", entityType).
				Str("identifier", identifier).
				Msg("no provider answered")
		} else {
			e.countRequest(entityType, "error")
		}
		return types.FusedRecord{}, fmt.Errorf("get %s %s: %w", entityType, identifier, err)
	}
	metrics.FusionConflicts.WithLabelValues(entityType, string(rec.Fusion.ResolutionStrategy)).Observe(float64(rec.Fusion.ConflictCount))

	e.store(ctx, key, rec, e.ttl(tool, opts))
	e.countRequest(entityType, "fused")
	e.logger.Debug().
		Str("tool", entityType).
		Str("identifier", identifier).
		Strs("sources", rec.Fusion.SourcesUsed).
		Int("conflicts", rec.Fusion.ConflictCount).
		Float64("quality", rec.Fusion.QualityScore).
		Msg("fused")
	return rec, nil
}

// Get fetches a unified record and decodes its data into T.
func Get[T any](ctx context.Context, e *Engine, entityType, identifier string, opts Options) (types.Fused[T], error) {
	rec, err := e.GetUnified(ctx, entityType, identifier, opts)
	if err != nil {
		return types.Fused[T]{}, err
	}
	return fusion.Decode[T](rec)
}

// CacheKey builds the cache key for a request. Keys start with
// "<entity>:<identifier>:" so callers can invalidate by glob.
func CacheKey(entityType, identifier string, strategy types.Strategy, sources []string, extra types.Params) string {
	key := entityType + ":" + identifier + ":" + string(strategy)
	if len(sources) == 0 && len(extra) == 0 {
		return key
	}
	h := make(types.Params, len(extra)+1)
	for k, v := range extra {
		h[k] = v
	}
	if len(sources) > 0 {
		pinned := append([]string(nil), sources...)
		sort.Strings(pinned)
		h["\x00sources"] = strings.Join(pinned, ",")
	}
	return key + ":" + dedupe.HashParams(h)[:16]
}

func (e *Engine) strategy(tool types.ToolSpec, opts Options) types.Strategy {
	switch {
	case opts.Strategy != "":
		return opts.Strategy
	case tool.Strategy != "":
		return tool.Strategy
	default:
		return e.cfg.Fusion.DefaultStrategy
	}
}

func (e *Engine) candidates(tool types.ToolSpec, pinned []string) ([]string, error) {
	if len(pinned) == 0 {
		return e.router.SelectProviders(tool.Name)
	}
	seen := make(map[string]bool, len(pinned))
	var out []string
	for _, id := range pinned {
		if _, ok := e.providers[id]; !ok {
			return nil, fault.Configf("unknown provider %q", id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return e.router.Rank(out), nil
}

func (e *Engine) fetchParallel(ctx context.Context, tool types.ToolSpec, candidates []string, params types.Params, timeout time.Duration) []types.ScoredResult {
	results := make([]types.ScoredResult, len(candidates))
	var g errgroup.Group
	for i, id := range candidates {
		g.Go(func() error {
			results[i] = e.fetch(ctx, tool, id, params, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetchSequential asks candidates one at a time, re-ranking after every
// attempt, until minSources have answered or every candidate was tried.
func (e *Engine) fetchSequential(ctx context.Context, tool types.ToolSpec, candidates []string, params types.Params, timeout time.Duration, minSources int) []types.ScoredResult {
	var results []types.ScoredResult
	tried := make(map[string]bool, len(candidates))
	successes := 0
	for successes < minSources && ctx.Err() == nil {
		id, ok := e.router.Next(candidates, tried)
		if !ok {
			break
		}
		tried[id] = true

		r := e.fetch(ctx, tool, id, params, timeout)
		results = append(results, r)
		if r.Result.Success {
			successes++
		}
	}
	return results
}

// fetch returns the scored outcome of one provider call. Concurrent callers
// with the same provider, tool, and params share one upstream call, and
// scoring happens once inside it so reputation counts the call once.
func (e *Engine) fetch(ctx context.Context, tool types.ToolSpec, id string, params types.Params, timeout time.Duration) types.ScoredResult {
	g := e.providers[id]
	key := dedupe.NewKey(id, tool.Name, params)
	res, shared, err := e.dedupe.Do(ctx, key, func(ctx context.Context) (types.ScoredResult, error) {
		raw, err := g.Invoke(ctx, tool.Name, params, timeout)
		if err != nil {
			st := e.scorer.Fail(raw)
			metrics.ProviderReputation.WithLabelValues(id).Set(st.Reputation)
			e.logger.Warn().Err(err).
				Str("provider", id).
				Str("tool", tool.Name).
				Int64("latency_ms", raw.LatencyMs).
				Str("state", string(st.State)).
				Msg("provider call failed")
			return types.ScoredResult{Result: raw}, nil
		}
		q := e.scorer.Score(tool, raw)
		metrics.ProviderReputation.WithLabelValues(id).Set(q.Metrics.SourceReputation)
		return types.ScoredResult{Result: raw, Quality: q}, nil
	})
	if err != nil {
		// The caller's context ended while waiting on the shared call.
		return types.ScoredResult{Result: types.RawResult{
			Source:  id,
			Error:   err.Error(),
			Timeout: errors.Is(err, context.DeadlineExceeded),
		}}
	}
	if shared {
		metrics.DedupeShared.WithLabelValues(id, tool.Name).Inc()
	}
	return res
}

func (e *Engine) ttl(tool types.ToolSpec, opts Options) time.Duration {
	if opts.CacheTTL > 0 {
		return opts.CacheTTL
	}
	open := e.calendar.IsOpen(e.now())
	if opts.MarketOpen != nil {
		open = *opts.MarketOpen
	}
	return e.calendar.TTL(open, tool)
}

func (e *Engine) cached(ctx context.Context, key string) (types.FusedRecord, bool) {
	raw, ok := e.cache.Get(ctx, key)
	if !ok {
		return types.FusedRecord{}, false
	}
	var rec types.FusedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		return types.FusedRecord{}, false
	}
	rec.Fusion.Cached = true
	return rec, true
}

func (e *Engine) store(ctx context.Context, key string, rec types.FusedRecord, ttl time.Duration) {
	raw, err := json.Marshal(rec)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("encoding fused record for cache")
		return
	}
	e.cache.Set(ctx, key, raw, ttl)
}

func (e *Engine) countRequest(tool, result string) {
	metrics.Requests.WithLabelValues(tool, result).Inc()
}

// ProviderStats returns a copy of every provider's statistics.
func (e *Engine) ProviderStats() map[string]types.ProviderStats {
	return e.tracker.Snapshot()
}

// Routing returns the routing scores for entityType's providers, best first.
func (e *Engine) Routing(entityType string) ([]router.Score, error) {
	return e.router.Scores(entityType)
}

// Tools returns the configured entity types.
func (e *Engine) Tools() []string {
	return e.router.Tools()
}

// CacheStats returns the cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// DedupeStats reports in-flight upstream calls and shared results.
func (e *Engine) DedupeStats() dedupe.Stats {
	return e.dedupe.Stats()
}

// InvalidateCache removes cached records matching the glob pattern.
func (e *Engine) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	return e.cache.Invalidate(ctx, pattern)
}

// ProbeAll runs one round of health probes and returns the number probed.
func (e *Engine) ProbeAll(ctx context.Context) int {
	return e.monitor.ProbeAll(ctx)
}
