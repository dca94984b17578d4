// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package router selects which providers to call for a tool. Eligibility
// comes from the static tool table; order comes from live stats kept by the
// reputation tracker.
package router

import (
	"sort"
	"time"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/internal/reputation"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// ColdScore is the overall score of a provider with no request or probe
// history.
const ColdScore = 0.5

// Score is a provider's routing score with its components.
type Score struct {
	Provider     string            `json:"provider"`
	Overall      float64           `json:"overall"`
	ErrorRate    float64           `json:"error_rate"`
	LatencyScore float64           `json:"latency_score"`
	Reputation   float64           `json:"reputation"`
	State        types.HealthState `json:"state"`
}

// Router chooses providers for tools.
type Router struct {
	table   map[string][]string
	tracker *reputation.Tracker
	cfg     types.RouterConfig
}

// New creates a router from the tool table. Zero weights take the defaults
// 0.4 / 0.3 / 0.3 and a 10s latency floor.
func New(tools []types.ToolSpec, tracker *reputation.Tracker, cfg types.RouterConfig) *Router {
	if cfg.ErrorWeight == 0 && cfg.LatencyWeight == 0 && cfg.ReputationWeight == 0 {
		cfg.ErrorWeight, cfg.LatencyWeight, cfg.ReputationWeight = 0.4, 0.3, 0.3
	}
	if cfg.LatencyFloor <= 0 {
		cfg.LatencyFloor = 10 * time.Second
	}

	table := make(map[string][]string, len(tools))
	for _, t := range tools {
		table[t.Name] = append([]string(nil), t.Providers...)
	}
	return &Router{table: table, tracker: tracker, cfg: cfg}
}

// Eligible returns the static provider list for tool.
func (r *Router) Eligible(tool string) ([]string, error) {
	providers, ok := r.table[tool]
	if !ok {
		return nil, fault.Configf("unknown tool %q", tool)
	}
	if len(providers) == 0 {
		return nil, fault.Configf("tool %q has no providers", tool)
	}
	return append([]string(nil), providers...), nil
}

// SelectProviders returns the eligible providers for tool, best first.
func (r *Router) SelectProviders(tool string) ([]string, error) {
	eligible, err := r.Eligible(tool)
	if err != nil {
		return nil, err
	}
	return r.Rank(eligible), nil
}

// SelectBest returns the single best candidate.
func (r *Router) SelectBest(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fault.Configf("no candidate providers")
	}
	return r.Rank(candidates)[0], nil
}

// Next returns the best of candidates not in excluded, or false once every
// candidate has been excluded. Ranking is recomputed on each call, so a
// failure recorded since the previous call already counts.
func (r *Router) Next(candidates []string, excluded map[string]bool) (string, bool) {
	remaining := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if !excluded[p] {
			remaining = append(remaining, p)
		}
	}
	best, err := r.SelectBest(remaining)
	if err != nil {
		return "", false
	}
	return best, true
}

// Rank orders candidates: non-UNHEALTHY before UNHEALTHY, then by overall
// score descending, then by the given order.
func (r *Router) Rank(candidates []string) []string {
	scores := make([]Score, len(candidates))
	for i, p := range candidates {
		scores[i] = r.Score(p)
	}
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := scores[idx[a]], scores[idx[b]]
		ua, ub := sa.State == types.StateUnhealthy, sb.State == types.StateUnhealthy
		if ua != ub {
			return ub
		}
		return sa.Overall > sb.Overall
	})
	out := make([]string, len(candidates))
	for i, j := range idx {
		out[i] = candidates[j]
	}
	return out
}

// Score computes the routing score for provider.
func (r *Router) Score(provider string) Score {
	st, ok := r.tracker.Get(provider)
	if !ok {
		st.State = types.StateUnknown
	}
	if st.Cold() {
		return Score{
			Provider:     provider,
			Overall:      ColdScore,
			ErrorRate:    0.5,
			LatencyScore: 0.5,
			Reputation:   reputation.NeutralReputation,
			State:        st.State,
		}
	}

	// A provider known only from probes has no request signal yet; its
	// reputation still counts.
	errRate, latency := 0.5, 0.5
	if st.RequestCount > 0 {
		errRate = st.ErrorRate()
		latency = 1 - st.AvgResponseTimeMs/float64(r.cfg.LatencyFloor.Milliseconds())
		if latency < 0 {
			latency = 0
		}
	}
	overall := (1-errRate)*r.cfg.ErrorWeight + latency*r.cfg.LatencyWeight + st.Reputation*r.cfg.ReputationWeight
	return Score{
		Provider:     provider,
		Overall:      overall,
		ErrorRate:    errRate,
		LatencyScore: latency,
		Reputation:   st.Reputation,
		State:        st.State,
	}
}

// Scores returns the routing scores for every provider eligible for tool,
// in rank order.
func (r *Router) Scores(tool string) ([]Score, error) {
	ranked, err := r.SelectProviders(tool)
	if err != nil {
		return nil, err
	}
	out := make([]Score, len(ranked))
	for i, p := range ranked {
		out[i] = r.Score(p)
	}
	return out, nil
}

// Tools returns the configured tool names.
func (r *Router) Tools() []string {
	out := make([]string, 0, len(r.table))
	for name := range r.table {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
