// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// QualityMetrics are the normalized [0,1] components of a quality score.
type QualityMetrics struct {
	Freshness        float64 `json:"freshness" yaml:"freshness"`
	Completeness     float64 `json:"completeness" yaml:"completeness"`
	Accuracy         float64 `json:"accuracy" yaml:"accuracy"`
	SourceReputation float64 `json:"source_reputation" yaml:"source_reputation"`
	Latency          float64 `json:"latency" yaml:"latency"`
}

// QualityScore rates one provider's answer. It is a value object: computed
// once per result and never mutated.
type QualityScore struct {
	Source    string         `json:"source" yaml:"source"`
	Overall   float64        `json:"overall" yaml:"overall"`
	Metrics   QualityMetrics `json:"metrics" yaml:"metrics"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

// ScoredResult pairs a provider result with its quality score.
type ScoredResult struct {
	Result  RawResult    `json:"result" yaml:"result"`
	Quality QualityScore `json:"quality" yaml:"quality"`
}

// Strategy names a conflict resolution strategy.
type Strategy string

const (
	StrategyHighestQuality  Strategy = "highest_quality"
	StrategyWeightedAverage Strategy = "weighted_average"
	StrategyVoting          Strategy = "voting"

	// StrategySingleSource is recorded when only one source answered and no
	// resolution ran.
	StrategySingleSource Strategy = "single-source"
)

// Valid reports whether s is a strategy callers may request.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyHighestQuality, StrategyWeightedAverage, StrategyVoting:
		return true
	}
	return false
}

// FusionMetadata describes how a fused record was produced.
type FusionMetadata struct {
	SourcesUsed        []string  `json:"sources_used" yaml:"sources_used"`
	PrimarySource      string    `json:"primary_source" yaml:"primary_source"`
	QualityScore       float64   `json:"quality_score" yaml:"quality_score"`
	ConflictCount      int       `json:"conflict_count" yaml:"conflict_count"`
	ConflictFields     []string  `json:"conflict_fields,omitempty" yaml:"conflict_fields,omitempty"`
	ResolutionStrategy Strategy  `json:"resolution_strategy" yaml:"resolution_strategy"`
	FusionTimestamp    time.Time `json:"fusion_timestamp" yaml:"fusion_timestamp"`

	// FailedSources lists providers that were tried and excluded.
	FailedSources []string `json:"failed_sources,omitempty" yaml:"failed_sources,omitempty"`

	// Degraded is set when every answer scored below the requested minimum quality.
	Degraded bool `json:"degraded" yaml:"degraded"`

	// Cached is set when the record was served from cache.
	Cached bool `json:"cached" yaml:"cached"`
}

// FusedRecord is the unified record returned to callers and stored in cache.
type FusedRecord struct {
	Data   Record         `json:"data" yaml:"data"`
	Fusion FusionMetadata `json:"fusion" yaml:"fusion"`
}

// Fused is a FusedRecord whose data has been decoded into T.
type Fused[T any] struct {
	Data   T              `json:"data" yaml:"data"`
	Fusion FusionMetadata `json:"fusion" yaml:"fusion"`
}
