// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config loads the engine configuration file, fills defaults, and
// validates cross references between providers and tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// Load reads, defaults, and validates the YAML file at path.
func Load(path string) (types.EngineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.EngineConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return types.EngineConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults, and validates. Unknown keys are
// rejected so typos surface at startup.
func Parse(raw []byte) (types.EngineConfig, error) {
	var cfg types.EngineConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return types.EngineConfig{}, fault.Configf("parsing yaml: %v", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return types.EngineConfig{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued setting with its default.
func ApplyDefaults(cfg *types.EngineConfig) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Kind == "" {
			p.Kind = types.ProviderHTTP
		}
		if p.Timeout <= 0 {
			p.Timeout = 10 * time.Second
		}
	}
	for i := range cfg.Tools {
		if cfg.Tools[i].IdentifierParam == "" {
			cfg.Tools[i].IdentifierParam = "symbol"
		}
	}

	r := &cfg.Router
	if r.ErrorWeight == 0 && r.LatencyWeight == 0 && r.ReputationWeight == 0 {
		r.ErrorWeight, r.LatencyWeight, r.ReputationWeight = 0.4, 0.3, 0.3
	}
	setDuration(&r.LatencyFloor, 10*time.Second)

	s := &cfg.Scoring
	if s.Weights.Sum() == 0 {
		s.Weights = types.ScoringWeights{Freshness: 0.25, Completeness: 0.25, Accuracy: 0.25, Reputation: 0.25}
	}
	setFloat(&s.LearningRate, 0.1)
	setDuration(&s.SLALatency, 2*time.Second)
	setFloat(&s.SlowOutcome, 0.5)
	setDuration(&s.DefaultFreshnessHorizon, time.Hour)

	f := &cfg.Fusion
	if f.DefaultStrategy == "" {
		f.DefaultStrategy = types.StrategyHighestQuality
	}
	setFloat(&f.Tolerance, 0.005)
	if f.Mode == "" {
		f.Mode = types.ModeParallel
	}
	if f.MinSources <= 0 {
		f.MinSources = 1
	}

	c := &cfg.Cache
	if c.LocalCapacity <= 0 {
		c.LocalCapacity = 1024
	}
	if c.Shared == "" {
		c.Shared = types.SharedNone
	}
	setString(&c.KeyPrefix, "fusion:")
	if c.MaxSharedKeys <= 0 {
		c.MaxSharedKeys = 10000
	}
	setString(&c.MaintenanceSchedule, "@every 1m")
	setDuration(&c.OpTimeout, 500*time.Millisecond)

	h := &cfg.Health
	setDuration(&h.Interval, 30*time.Second)
	setDuration(&h.ProbeTimeout, 5*time.Second)
	if h.UnhealthyAfter <= 0 {
		h.UnhealthyAfter = 3
	}
	setFloat(&h.DegradedBelow, 0.3)

	m := &cfg.MarketHours
	setString(&m.Timezone, "America/New_York")
	setString(&m.Open, "09:30")
	setString(&m.Close, "16:00")
	setDuration(&m.OpenTTL, 30*time.Second)
	setDuration(&m.ClosedTTL, 5*time.Minute)

	setString(&cfg.Reputation.SnapshotSchedule, "@every 5m")
}

// Validate checks the configuration and reports every problem found.
func Validate(cfg types.EngineConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fault.Configf(format, args...))
	}

	if len(cfg.Providers) == 0 {
		add("no providers configured")
	}
	ids := map[string]bool{}
	for _, p := range cfg.Providers {
		switch {
		case p.ID == "":
			add("provider with empty id")
		case ids[p.ID]:
			add("duplicate provider id %q", p.ID)
		}
		ids[p.ID] = true
		if p.Kind != types.ProviderHTTP && p.Kind != types.ProviderFixture {
			add("provider %s: unknown kind %q", p.ID, p.Kind)
		}
		if p.RateLimitPerMinute < 0 || p.RetryAttempts < 0 {
			add("provider %s: rate limit and retries must not be negative", p.ID)
		}
	}

	tools := map[string]bool{}
	for _, t := range cfg.Tools {
		if t.Name == "" {
			add("tool with empty name")
		} else if tools[t.Name] {
			add("duplicate tool %q", t.Name)
		}
		tools[t.Name] = true
		for _, id := range t.Providers {
			if !ids[id] {
				add("tool %s: unknown provider %q", t.Name, id)
			}
		}
		if t.Strategy != "" && !t.Strategy.Valid() {
			add("tool %s: unknown strategy %q", t.Name, t.Strategy)
		}
		if t.MinQuality < 0 || t.MinQuality > 1 {
			add("tool %s: min_quality must be in [0,1]", t.Name)
		}
	}

	w := cfg.Scoring.Weights
	if w.Freshness < 0 || w.Completeness < 0 || w.Accuracy < 0 || w.Reputation < 0 {
		add("scoring weights must not be negative")
	}
	if cfg.Router.ErrorWeight < 0 || cfg.Router.LatencyWeight < 0 || cfg.Router.ReputationWeight < 0 {
		add("router weights must not be negative")
	}
	if !cfg.Fusion.DefaultStrategy.Valid() {
		add("fusion: unknown default strategy %q", cfg.Fusion.DefaultStrategy)
	}
	if cfg.Fusion.Mode != types.ModeParallel && cfg.Fusion.Mode != types.ModeSequential {
		add("fusion: unknown mode %q", cfg.Fusion.Mode)
	}

	switch cfg.Cache.Shared {
	case types.SharedNone:
	case types.SharedRedis:
		if cfg.Cache.RedisURL == "" {
			add("cache: redis_url is required for the redis shared tier")
		}
	case types.SharedSQLite:
		if cfg.Cache.SQLitePath == "" {
			add("cache: sqlite_path is required for the sqlite shared tier")
		}
	default:
		add("cache: unknown shared backend %q", cfg.Cache.Shared)
	}

	if _, err := NewMarketCalendar(cfg.MarketHours); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setFloat(f *float64, def float64) {
	if *f <= 0 {
		*f = def
	}
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}
