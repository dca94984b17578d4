// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// ProviderKind selects the adapter that backs a configured provider.
type ProviderKind string

const (
	ProviderHTTP    ProviderKind = "http"
	ProviderFixture ProviderKind = "fixture"
)

// ProviderConfig describes one external data provider. It is immutable once
// the engine has started.
type ProviderConfig struct {
	// ID is the unique provider name used in tool tables, stats, and logs.
	ID string `json:"id" yaml:"id"`

	// Kind selects the adapter: http or fixture.
	Kind ProviderKind `json:"kind" yaml:"kind"`

	// RateLimitPerMinute caps outgoing calls. Zero means unlimited.
	RateLimitPerMinute int `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`

	// Timeout bounds a single provider call, retries included (default 10s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RetryAttempts is the number of extra attempts after a retryable failure.
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`

	// BaseURL is the root URL for http providers.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Endpoints maps a tool name to a path template, e.g. "/quote/{symbol}".
	Endpoints map[string]string `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`

	// HealthPath is requested by health probes; empty disables probing.
	HealthPath string `json:"health_path,omitempty" yaml:"health_path,omitempty"`

	// APIKeyHeader names the header carrying the provider's API key.
	APIKeyHeader string `json:"api_key_header,omitempty" yaml:"api_key_header,omitempty"`

	// APIKeySecret names the .secrets/ file holding the key (default "<id>-api-key").
	APIKeySecret string `json:"api_key_secret,omitempty" yaml:"api_key_secret,omitempty"`

	// DataPath is a dot-separated path to the payload object inside the response.
	DataPath string `json:"data_path,omitempty" yaml:"data_path,omitempty"`

	// FieldMap renames vendor fields to canonical field names.
	FieldMap map[string]string `json:"field_map,omitempty" yaml:"field_map,omitempty"`

	// TimestampField names the payload field holding the data's as-of time.
	TimestampField string `json:"timestamp_field,omitempty" yaml:"timestamp_field,omitempty"`

	// FixtureFile is the YAML data file for fixture providers.
	FixtureFile string `json:"fixture_file,omitempty" yaml:"fixture_file,omitempty"`
}

// ToolSpec maps an entity type (tool) to the providers able to answer it and
// the quality expectations for its payload.
type ToolSpec struct {
	// Name is the tool or entity type, e.g. "stock_price".
	Name string `json:"name" yaml:"name"`

	// Providers lists eligible provider IDs in static priority order.
	Providers []string `json:"providers" yaml:"providers"`

	// IdentifierParam is the parameter name that carries the entity identifier (default "symbol").
	IdentifierParam string `json:"identifier_param" yaml:"identifier_param"`

	// ExpectedFields lists the payload fields used for completeness scoring.
	ExpectedFields []string `json:"expected_fields" yaml:"expected_fields"`

	// FreshnessHorizon is the age at which a result's freshness reaches zero.
	FreshnessHorizon time.Duration `json:"freshness_horizon" yaml:"freshness_horizon"`

	// Strategy is the default resolution strategy for this tool.
	Strategy Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	// MinQuality drops results scoring below it before fusion.
	MinQuality float64 `json:"min_quality,omitempty" yaml:"min_quality,omitempty"`

	// OpenTTL and ClosedTTL override the market-hours cache TTLs for this tool.
	OpenTTL   time.Duration `json:"open_ttl,omitempty" yaml:"open_ttl,omitempty"`
	ClosedTTL time.Duration `json:"closed_ttl,omitempty" yaml:"closed_ttl,omitempty"`
}

// RouterConfig holds the source selection weights.
type RouterConfig struct {
	ErrorWeight      float64       `json:"error_weight" yaml:"error_weight"`
	LatencyWeight    float64       `json:"latency_weight" yaml:"latency_weight"`
	ReputationWeight float64       `json:"reputation_weight" yaml:"reputation_weight"`
	LatencyFloor     time.Duration `json:"latency_floor" yaml:"latency_floor"`
}

// ScoringWeights weights the quality metrics folded into QualityScore.Overall.
type ScoringWeights struct {
	Freshness    float64 `json:"freshness" yaml:"freshness"`
	Completeness float64 `json:"completeness" yaml:"completeness"`
	Accuracy     float64 `json:"accuracy" yaml:"accuracy"`
	Reputation   float64 `json:"reputation" yaml:"reputation"`
}

// Sum returns the total weight.
func (w ScoringWeights) Sum() float64 {
	return w.Freshness + w.Completeness + w.Accuracy + w.Reputation
}

// ScoringConfig holds quality scorer and reputation settings.
type ScoringConfig struct {
	Weights ScoringWeights `json:"weights" yaml:"weights"`

	// LearningRate is the EMA alpha for reputation updates (default 0.1).
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`

	// SLALatency separates a good success from a slow one (default 2s).
	SLALatency time.Duration `json:"sla_latency" yaml:"sla_latency"`

	// SlowOutcome is the reputation outcome credited to a slow success (default 0.5).
	SlowOutcome float64 `json:"slow_outcome" yaml:"slow_outcome"`

	// DefaultFreshnessHorizon applies to tools without their own horizon (default 1h).
	DefaultFreshnessHorizon time.Duration `json:"default_freshness_horizon" yaml:"default_freshness_horizon"`
}

// FetchMode controls how providers are awaited.
type FetchMode string

const (
	ModeParallel   FetchMode = "parallel"
	ModeSequential FetchMode = "sequential"
)

// FusionConfig holds fusion defaults.
type FusionConfig struct {
	DefaultStrategy Strategy  `json:"default_strategy" yaml:"default_strategy"`
	Tolerance       float64   `json:"tolerance" yaml:"tolerance"`
	Mode            FetchMode `json:"mode" yaml:"mode"`
	MinSources      int       `json:"min_sources" yaml:"min_sources"`
	MaxSources      int       `json:"max_sources" yaml:"max_sources"`
}

// SharedBackend selects the shared cache tier.
type SharedBackend string

const (
	SharedNone   SharedBackend = "none"
	SharedRedis  SharedBackend = "redis"
	SharedSQLite SharedBackend = "sqlite"
)

// CacheConfig holds the two-tier cache settings.
type CacheConfig struct {
	LocalCapacity       int           `json:"local_capacity" yaml:"local_capacity"`
	Shared              SharedBackend `json:"shared" yaml:"shared"`
	RedisURL            string        `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	SQLitePath          string        `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	KeyPrefix           string        `json:"key_prefix" yaml:"key_prefix"`
	MaxSharedKeys       int           `json:"max_shared_keys" yaml:"max_shared_keys"`
	MaintenanceSchedule string        `json:"maintenance_schedule" yaml:"maintenance_schedule"`
	OpTimeout           time.Duration `json:"op_timeout" yaml:"op_timeout"`
}

// HealthConfig holds health monitor and state machine thresholds.
type HealthConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	ProbeTimeout   time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	UnhealthyAfter int           `json:"unhealthy_after" yaml:"unhealthy_after"`
	DegradedBelow  float64       `json:"degraded_below" yaml:"degraded_below"`
}

// MarketHoursConfig drives the adaptive cache TTL when callers give no
// market-open signal.
type MarketHoursConfig struct {
	Timezone  string        `json:"timezone" yaml:"timezone"`
	Open      string        `json:"open" yaml:"open"`
	Close     string        `json:"close" yaml:"close"`
	OpenTTL   time.Duration `json:"open_ttl" yaml:"open_ttl"`
	ClosedTTL time.Duration `json:"closed_ttl" yaml:"closed_ttl"`
}

// ReputationConfig controls reputation persistence.
type ReputationConfig struct {
	// SnapshotPath is the SQLite file for ProviderStats snapshots; empty disables them.
	SnapshotPath     string `json:"snapshot_path,omitempty" yaml:"snapshot_path,omitempty"`
	SnapshotSchedule string `json:"snapshot_schedule" yaml:"snapshot_schedule"`
}

// EngineConfig groups the configuration of every engine component.
type EngineConfig struct {
	Providers   []ProviderConfig  `json:"providers" yaml:"providers"`
	Tools       []ToolSpec        `json:"tools" yaml:"tools"`
	Router      RouterConfig      `json:"router" yaml:"router"`
	Scoring     ScoringConfig     `json:"scoring" yaml:"scoring"`
	Fusion      FusionConfig      `json:"fusion" yaml:"fusion"`
	Cache       CacheConfig       `json:"cache" yaml:"cache"`
	Health      HealthConfig      `json:"health" yaml:"health"`
	MarketHours MarketHoursConfig `json:"market_hours" yaml:"market_hours"`
	Reputation  ReputationConfig  `json:"reputation" yaml:"reputation"`
}

// Tool returns the tool definition for name.
func (c EngineConfig) Tool(name string) (ToolSpec, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSpec{}, false
}

// Provider returns the config for id.
func (c EngineConfig) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
