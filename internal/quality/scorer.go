// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package quality turns a provider result into a normalized QualityScore.
//
// Scoring is coupled to the reputation tracker: every Score or Fail call
// first records the attempt, then reads the updated stats, so the quality a
// caller sees and the stats the router selects with never drift apart.
package quality

import (
	"time"

	"github.com/pdiddy/fusion-engine/internal/reputation"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// DefaultWeights weights the four scored metrics equally.
var DefaultWeights = types.ScoringWeights{
	Freshness:    0.25,
	Completeness: 0.25,
	Accuracy:     0.25,
	Reputation:   0.25,
}

// Scorer computes quality scores and feeds the reputation tracker.
type Scorer struct {
	tracker        *reputation.Tracker
	weights        types.ScoringWeights
	defaultHorizon time.Duration
	now            func() time.Time
}

// NewScorer creates a scorer. Weights are normalized to sum to 1; an
// all-zero or negative set falls back to DefaultWeights.
func NewScorer(tracker *reputation.Tracker, cfg types.ScoringConfig) *Scorer {
	return &Scorer{
		tracker:        tracker,
		weights:        normalize(cfg.Weights),
		defaultHorizon: cfg.DefaultFreshnessHorizon,
		now:            time.Now,
	}
}

// SetClock replaces the time source used for freshness.
func (s *Scorer) SetClock(now func() time.Time) {
	s.now = now
}

// Weights returns the normalized weights in use.
func (s *Scorer) Weights() types.ScoringWeights {
	return s.weights
}

func normalize(w types.ScoringWeights) types.ScoringWeights {
	if w.Freshness < 0 || w.Completeness < 0 || w.Accuracy < 0 || w.Reputation < 0 {
		return DefaultWeights
	}
	sum := w.Sum()
	if sum <= 0 {
		return DefaultWeights
	}
	return types.ScoringWeights{
		Freshness:    w.Freshness / sum,
		Completeness: w.Completeness / sum,
		Accuracy:     w.Accuracy / sum,
		Reputation:   w.Reputation / sum,
	}
}

// Score records a successful result with the tracker and rates it.
func (s *Scorer) Score(tool types.ToolSpec, r types.RawResult) types.QualityScore {
	latency := time.Duration(r.LatencyMs) * time.Millisecond
	stats := s.tracker.Record(reputation.Attempt{
		Provider: r.Source,
		Success:  true,
		Latency:  latency,
	})

	m := types.QualityMetrics{
		Freshness:        s.freshness(tool, r.Timestamp),
		Completeness:     Completeness(r.Data, tool.ExpectedFields),
		Accuracy:         accuracy(stats),
		SourceReputation: clamp(stats.Reputation),
		Latency:          s.latency(latency),
	}
	return types.QualityScore{
		Source:    r.Source,
		Overall:   s.overall(m),
		Metrics:   m,
		Timestamp: s.now(),
	}
}

// Fail records a failed attempt with the tracker. Failed results take no
// part in fusion, so no score is produced.
func (s *Scorer) Fail(r types.RawResult) types.ProviderStats {
	return s.tracker.Record(reputation.Attempt{
		Provider: r.Source,
		Success:  false,
		Latency:  time.Duration(r.LatencyMs) * time.Millisecond,
		Err:      r.Error,
	})
}

func (s *Scorer) overall(m types.QualityMetrics) float64 {
	w := s.weights
	return clamp(m.Freshness*w.Freshness +
		m.Completeness*w.Completeness +
		m.Accuracy*w.Accuracy +
		m.SourceReputation*w.Reputation)
}

func (s *Scorer) freshness(tool types.ToolSpec, ts time.Time) float64 {
	horizon := tool.FreshnessHorizon
	if horizon <= 0 {
		horizon = s.defaultHorizon
	}
	return Freshness(s.now().Sub(ts), horizon)
}

// latency is reported for observability only; it is not part of Overall.
func (s *Scorer) latency(d time.Duration) float64 {
	sla := s.tracker.Settings().SLALatency
	return clamp(1 - float64(d)/float64(2*sla))
}

// Freshness returns clamp(1 - age/horizon, 0, 1). A non-positive horizon
// disables the metric.
func Freshness(age, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 1
	}
	if age <= 0 {
		return 1
	}
	return clamp(1 - age.Seconds()/horizon.Seconds())
}

// Completeness returns the share of expected fields present and non-null.
// With no expected fields nothing is missing, so the result is 1.
func Completeness(data types.Record, expected []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	present := 0
	for _, f := range expected {
		if v, ok := data[f]; ok && v != nil {
			if str, isStr := v.(string); isStr && str == "" {
				continue
			}
			present++
		}
	}
	return float64(present) / float64(len(expected))
}

func accuracy(st types.ProviderStats) float64 {
	if st.RequestCount == 0 {
		return reputation.NeutralReputation
	}
	return clamp(1 - st.ErrorRate())
}

func clamp(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
