// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reputation maintains rolling per-provider statistics: request and
// error counts, smoothed latency, an exponentially weighted reputation, and a
// coarse health state. Every request outcome and health probe flows through
// the same EMA update, so a flaky provider recovers gradually instead of being
// blacklisted.
package reputation

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

const (
	// NeutralReputation is the starting reputation of a provider with no history.
	NeutralReputation = 0.5

	// latencySmoothing weights the newest sample in the latency average.
	latencySmoothing = 0.2
)

// Settings tunes the tracker.
type Settings struct {
	LearningRate   float64
	SLALatency     time.Duration
	SlowOutcome    float64
	UnhealthyAfter int
	DegradedBelow  float64
}

// DefaultSettings returns the tracker defaults.
func DefaultSettings() Settings {
	return Settings{
		LearningRate:   0.1,
		SLALatency:     2 * time.Second,
		SlowOutcome:    0.5,
		UnhealthyAfter: 3,
		DegradedBelow:  0.3,
	}
}

// Attempt describes one finished provider request.
type Attempt struct {
	Provider string
	Success  bool
	Latency  time.Duration
	Err      string
}

// Tracker owns the ProviderStats of every provider. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	stats  map[string]*types.ProviderStats
	cfg    Settings
	now    func() time.Time
	logger zerolog.Logger
}

// NewTracker creates a tracker with a cold entry for every provider.
func NewTracker(providers []string, cfg Settings, logger zerolog.Logger) *Tracker {
	def := DefaultSettings()
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.SLALatency <= 0 {
		cfg.SLALatency = def.SLALatency
	}
	if cfg.SlowOutcome < 0 || cfg.SlowOutcome > 1 {
		cfg.SlowOutcome = def.SlowOutcome
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = def.UnhealthyAfter
	}

	t := &Tracker{
		stats:  make(map[string]*types.ProviderStats, len(providers)),
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "reputation").Logger(),
	}
	for _, p := range providers {
		t.stats[p] = newStats(p)
	}
	return t
}

func newStats(provider string) *types.ProviderStats {
	return &types.ProviderStats{
		Provider:   provider,
		Reputation: NeutralReputation,
		State:      types.StateUnknown,
	}
}

// SetClock replaces the time source. Tests use it to pin timestamps.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Settings returns the effective settings.
func (t *Tracker) Settings() Settings {
	return t.cfg
}

// Outcome maps an attempt to the reputation outcome in [0,1]: 1 for a
// success within SLA, SlowOutcome for a slow success, 0 for a failure.
func (t *Tracker) Outcome(success bool, latency time.Duration) float64 {
	switch {
	case !success:
		return 0
	case latency > t.cfg.SLALatency:
		return t.cfg.SlowOutcome
	default:
		return 1
	}
}

// Record applies a request outcome and returns the updated stats.
func (t *Tracker) Record(a Attempt) types.ProviderStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(a.Provider)
	now := t.now()

	s.RequestCount++
	if a.Success {
		s.Connected = true
		s.LastConnectedAt = now
		s.ProbeFailures = 0
		s.LastError = ""
	} else {
		s.ErrorCount++
		s.LastError = a.Err
	}

	ms := float64(a.Latency) / float64(time.Millisecond)
	if s.RequestCount == 1 {
		s.AvgResponseTimeMs = ms
	} else {
		s.AvgResponseTimeMs = s.AvgResponseTimeMs*(1-latencySmoothing) + ms*latencySmoothing
	}

	t.learn(s, t.Outcome(a.Success, a.Latency))
	s.UpdatedAt = now
	t.evaluate(s)
	return *s
}

// RecordProbe applies a health probe result. Probes change connectivity and
// reputation but not the request counters.
func (t *Tracker) RecordProbe(provider string, err error, latency time.Duration) types.ProviderStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(provider)
	now := t.now()

	s.ProbeCount++
	if err == nil {
		s.Connected = true
		s.LastConnectedAt = now
		s.ProbeFailures = 0
	} else {
		s.Connected = false
		s.ProbeFailures++
		s.LastError = err.Error()
	}

	t.learn(s, t.Outcome(err == nil, latency))
	s.UpdatedAt = now
	t.evaluate(s)
	return *s
}

// learn is the single EMA update shared by requests and probes.
func (t *Tracker) learn(s *types.ProviderStats, outcome float64) {
	a := t.cfg.LearningRate
	s.Reputation = s.Reputation*(1-a) + outcome*a
}

func (t *Tracker) evaluate(s *types.ProviderStats) {
	prev := s.State
	switch {
	case s.ProbeFailures >= t.cfg.UnhealthyAfter:
		s.State = types.StateUnhealthy
	case s.Reputation < t.cfg.DegradedBelow:
		s.State = types.StateDegraded
	case s.LastConnectedAt.IsZero():
		s.State = types.StateUnknown
	default:
		s.State = types.StateHealthy
	}
	if prev != s.State {
		t.logger.Info().
			Str("provider", s.Provider).
			Str("from", string(prev)).
			Str("to", string(s.State)).
			Float64("reputation", s.Reputation).
			Msg("provider state changed")
	}
}

// entry returns the stats for provider, creating a cold entry if needed.
// Callers hold t.mu for writing.
func (t *Tracker) entry(provider string) *types.ProviderStats {
	s, ok := t.stats[provider]
	if !ok {
		s = newStats(provider)
		t.stats[provider] = s
	}
	return s
}

// Get returns a copy of the stats for provider.
func (t *Tracker) Get(provider string) (types.ProviderStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stats[provider]
	if !ok {
		return types.ProviderStats{}, false
	}
	return *s, true
}

// Snapshot returns a copy of all stats keyed by provider.
func (t *Tracker) Snapshot() map[string]types.ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]types.ProviderStats, len(t.stats))
	for k, v := range t.stats {
		out[k] = *v
	}
	return out
}

// List returns all stats sorted by provider name.
func (t *Tracker) List() []types.ProviderStats {
	snap := t.Snapshot()
	out := make([]types.ProviderStats, 0, len(snap))
	for _, s := range snap {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Restore seeds tracked providers from persisted stats. Connectivity is not
// restored: a restarted process has not talked to anyone yet.
func (t *Tracker) Restore(saved []types.ProviderStats) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, in := range saved {
		s, ok := t.stats[in.Provider]
		if !ok {
			continue
		}
		s.RequestCount = in.RequestCount
		s.ErrorCount = in.ErrorCount
		s.ProbeCount = in.ProbeCount
		s.AvgResponseTimeMs = in.AvgResponseTimeMs
		s.Reputation = clamp01(in.Reputation)
		s.LastConnectedAt = in.LastConnectedAt
		s.LastError = in.LastError
		s.UpdatedAt = in.UpdatedAt
		s.Connected = false
		s.ProbeFailures = 0
		t.evaluate(s)
		n++
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
