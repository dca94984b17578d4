// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the fusion engine: provider
// configuration and statistics, raw and scored results, fused records, and the
// typed payloads callers decode fused data into.
package types

import "time"

// Params are the request parameters passed to a provider for one tool call.
type Params map[string]string

// Record is a provider payload: field name to JSON-compatible value.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RawResult is the outcome of one provider invocation.
type RawResult struct {
	Source    string    `json:"source" yaml:"source"`
	Data      Record    `json:"data,omitempty" yaml:"data,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	LatencyMs int64     `json:"latency_ms" yaml:"latency_ms"`
	Success   bool      `json:"success" yaml:"success"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`

	// Timeout reports whether the failure was a deadline expiry.
	Timeout bool `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HealthState is the coarse health of a provider. It only affects routing
// preference; no state removes a provider from eligibility.
type HealthState string

const (
	StateUnknown   HealthState = "UNKNOWN"
	StateHealthy   HealthState = "HEALTHY"
	StateDegraded  HealthState = "DEGRADED"
	StateUnhealthy HealthState = "UNHEALTHY"
)

// ProviderStats holds rolling statistics for one provider.
type ProviderStats struct {
	Provider          string      `json:"provider" yaml:"provider"`
	Connected         bool        `json:"connected" yaml:"connected"`
	LastConnectedAt   time.Time   `json:"last_connected_at" yaml:"last_connected_at"`
	RequestCount      int64       `json:"request_count" yaml:"request_count"`
	ErrorCount        int64       `json:"error_count" yaml:"error_count"`
	AvgResponseTimeMs float64     `json:"avg_response_time_ms" yaml:"avg_response_time_ms"`
	Reputation        float64     `json:"reputation" yaml:"reputation"`
	ProbeCount        int64       `json:"probe_count" yaml:"probe_count"`
	ProbeFailures     int         `json:"consecutive_probe_failures" yaml:"consecutive_probe_failures"`
	State             HealthState `json:"state" yaml:"state"`
	LastError         string      `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt         time.Time   `json:"updated_at" yaml:"updated_at"`
}

// ErrorRate returns errorCount / max(requestCount, 1).
func (s ProviderStats) ErrorRate() float64 {
	n := s.RequestCount
	if n < 1 {
		n = 1
	}
	return float64(s.ErrorCount) / float64(n)
}

// Cold reports whether the provider has neither request nor probe history.
func (s ProviderStats) Cold() bool {
	return s.RequestCount == 0 && s.ProbeCount == 0
}
