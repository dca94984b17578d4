// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package router

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/internal/reputation"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

func newTestRouter(t *testing.T, providers ...string) (*Router, *reputation.Tracker) {
	t.Helper()
	tr := reputation.NewTracker(providers, reputation.DefaultSettings(), zerolog.Nop())
	tools := []types.ToolSpec{
		{Name: types.EntityStockPrice, Providers: providers},
		{Name: "empty"},
	}
	return New(tools, tr, types.RouterConfig{}), tr
}

func TestSelectProviders_ColdKeepsStaticOrder(t *testing.T) {
	r, _ := newTestRouter(t, "alpha", "beta", "gamma")

	got, err := r.SelectProviders(types.EntityStockPrice)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, got)

	for _, p := range got {
		assert.Equal(t, ColdScore, r.Score(p).Overall)
	}
}

func TestSelectProviders_UnknownTool(t *testing.T) {
	r, _ := newTestRouter(t, "alpha")

	_, err := r.SelectProviders("weather")
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	_, err = r.SelectProviders("empty")
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestRank_PrefersReliableProvider(t *testing.T) {
	r, tr := newTestRouter(t, "alpha", "beta")

	tr.Record(reputation.Attempt{Provider: "alpha", Latency: 50 * time.Millisecond, Err: "503"})
	tr.Record(reputation.Attempt{Provider: "beta", Success: true, Latency: 50 * time.Millisecond})

	got, err := r.SelectProviders(types.EntityStockPrice)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "alpha"}, got)

	best, err := r.SelectBest([]string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, "beta", best)
}

func TestRank_UnhealthySortedLastButKept(t *testing.T) {
	r, tr := newTestRouter(t, "alpha", "beta")

	tr.Record(reputation.Attempt{Provider: "alpha", Success: true, Latency: time.Millisecond})
	for i := 0; i < reputation.DefaultSettings().UnhealthyAfter; i++ {
		tr.RecordProbe("alpha", errors.New("refused"), time.Millisecond)
	}
	tr.Record(reputation.Attempt{Provider: "beta", Latency: time.Second, Err: "500"})

	got := r.Rank([]string{"alpha", "beta"})
	assert.Equal(t, []string{"beta", "alpha"}, got)
}

func TestNext_IteratesWithoutRepeats(t *testing.T) {
	r, _ := newTestRouter(t, "alpha", "beta", "gamma")

	excluded := map[string]bool{}
	var order []string
	for {
		p, ok := r.Next([]string{"alpha", "beta", "gamma"}, excluded)
		if !ok {
			break
		}
		order = append(order, p)
		excluded[p] = true
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, order)
}

func TestNext_SkipsProviderThatJustFailed(t *testing.T) {
	r, tr := newTestRouter(t, "alpha", "beta", "gamma")
	candidates := []string{"alpha", "beta", "gamma"}
	excluded := map[string]bool{}

	first, ok := r.Next(candidates, excluded)
	require.True(t, ok)
	assert.Equal(t, "alpha", first)
	excluded[first] = true
	tr.Record(reputation.Attempt{Provider: "alpha", Latency: time.Millisecond, Err: "503"})
	tr.Record(reputation.Attempt{Provider: "gamma", Success: true, Latency: time.Millisecond})

	second, ok := r.Next(candidates, excluded)
	require.True(t, ok)
	assert.Equal(t, "gamma", second, "re-ranked with the newest stats")
}

func TestScore_RepeatedFailuresDropBelowCold(t *testing.T) {
	r, tr := newTestRouter(t, "alpha", "beta")

	prevRep := reputation.NeutralReputation
	below := false
	for i := 0; i < 5; i++ {
		st := tr.Record(reputation.Attempt{Provider: "alpha", Latency: 10 * time.Millisecond, Err: "boom"})
		assert.Less(t, st.Reputation, prevRep)
		prevRep = st.Reputation
		if r.Score("alpha").Overall < ColdScore {
			below = true
		}
	}
	assert.True(t, below)
	assert.Less(t, r.Score("alpha").Overall, r.Score("beta").Overall)

	got, err := r.SelectProviders(types.EntityStockPrice)
	require.NoError(t, err)
	assert.Equal(t, "beta", got[0])
}

func TestNew_DefaultsWeights(t *testing.T) {
	r, tr := newTestRouter(t, "alpha")
	tr.Record(reputation.Attempt{Provider: "alpha", Success: true, Latency: 0})

	s := r.Score("alpha")
	// 0.4*1 + 0.3*1 + 0.3*0.55
	assert.InDelta(t, 0.865, s.Overall, 1e-9)
	assert.Equal(t, []string{"empty", types.EntityStockPrice}, r.Tools())
}

func TestScore_ProbeFailuresDemoteProviderWithoutRequests(t *testing.T) {
	settings := reputation.DefaultSettings()
	settings.UnhealthyAfter = 100
	tr := reputation.NewTracker([]string{"flaky", "fresh"}, settings, zerolog.Nop())
	r := New([]types.ToolSpec{{Name: types.EntityStockPrice, Providers: []string{"flaky", "fresh"}}}, tr, types.RouterConfig{})

	for i := 0; i < 10; i++ {
		tr.RecordProbe("flaky", errors.New("refused"), time.Millisecond)
	}

	s := r.Score("flaky")
	assert.Equal(t, types.StateDegraded, s.State)
	// 0.4*0.5 + 0.3*0.5 + 0.3*(0.5*0.9^10)
	assert.InDelta(t, 0.35+0.3*0.5*math.Pow(0.9, 10), s.Overall, 1e-9)
	assert.Less(t, s.Overall, ColdScore)
	assert.Equal(t, ColdScore, r.Score("fresh").Overall)

	best, err := r.SelectBest([]string{"flaky", "fresh"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", best)
}
