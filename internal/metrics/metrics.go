// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics declares the Prometheus collectors exported by the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProviderRequests counts provider calls by outcome (success, error, timeout).
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total provider calls by outcome",
		},
		[]string{"provider", "tool", "outcome"},
	)

	// ProviderLatency observes provider call duration.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fusion",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "tool"},
	)

	// ProviderReputation is the current reputation per provider.
	ProviderReputation = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fusion",
			Subsystem: "provider",
			Name:      "reputation",
			Help:      "Current provider reputation in [0,1]",
		},
		[]string{"provider"},
	)

	// DedupeShared counts callers served by another caller's in-flight request.
	DedupeShared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "dedupe",
			Name:      "shared_total",
			Help:      "Callers that joined an in-flight provider request",
		},
		[]string{"provider", "tool"},
	)

	// FusionConflicts observes conflicting field counts per fused record.
	FusionConflicts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fusion",
			Subsystem: "engine",
			Name:      "conflicts",
			Help:      "Conflicting fields per fused record",
			Buckets:   []float64{0, 1, 2, 4, 8},
		},
		[]string{"tool", "strategy"},
	)

	// Requests counts facade requests by result (fused, cached, no_sources, error).
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Unified data requests by result",
		},
		[]string{"tool", "result"},
	)

	// CacheLookups counts cache lookups by tier and result.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	// CacheErrors counts shared tier failures by operation.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Shared cache tier errors by operation",
		},
		[]string{"op"},
	)

	// HealthProbes counts health probes by result.
	HealthProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fusion",
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Provider health probes by result",
		},
		[]string{"provider", "result"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
