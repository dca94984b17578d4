// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reputation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

func newTestTracker(providers ...string) *Tracker {
	return NewTracker(providers, DefaultSettings(), zerolog.Nop())
}

func TestNewTracker_ColdEntries(t *testing.T) {
	tr := newTestTracker("alpha", "beta")

	s, ok := tr.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, NeutralReputation, s.Reputation)
	assert.Equal(t, types.StateUnknown, s.State)
	assert.True(t, s.Cold())
	assert.Len(t, tr.Snapshot(), 2)
}

func TestRecord_SuccessWithinSLA(t *testing.T) {
	tr := newTestTracker("alpha")

	s := tr.Record(Attempt{Provider: "alpha", Success: true, Latency: 100 * time.Millisecond})
	assert.Equal(t, int64(1), s.RequestCount)
	assert.Equal(t, int64(0), s.ErrorCount)
	assert.InDelta(t, 0.55, s.Reputation, 1e-9)
	assert.InDelta(t, 100.0, s.AvgResponseTimeMs, 1e-9)
	assert.True(t, s.Connected)
	assert.Equal(t, types.StateHealthy, s.State)
}

func TestRecord_SlowSuccessIsPartialOutcome(t *testing.T) {
	tr := newTestTracker("alpha")

	s := tr.Record(Attempt{Provider: "alpha", Success: true, Latency: 5 * time.Second})
	// 0.5*0.9 + 0.5*0.1
	assert.InDelta(t, 0.5, s.Reputation, 1e-9)
}

func TestRecord_ConsecutiveFailuresStrictlyDecrease(t *testing.T) {
	tr := newTestTracker("alpha")

	prev := NeutralReputation
	for i := 0; i < 5; i++ {
		s := tr.Record(Attempt{Provider: "alpha", Latency: 10 * time.Millisecond, Err: "boom"})
		assert.Less(t, s.Reputation, prev, "failure %d", i+1)
		prev = s.Reputation
	}

	s, _ := tr.Get("alpha")
	assert.Equal(t, int64(5), s.ErrorCount)
	assert.Equal(t, "boom", s.LastError)
	assert.InDelta(t, 1.0, s.ErrorRate(), 1e-9)
}

func TestRecord_UnknownProviderIsCreated(t *testing.T) {
	tr := newTestTracker()
	tr.Record(Attempt{Provider: "late", Success: true})
	_, ok := tr.Get("late")
	assert.True(t, ok)
}

func TestRecordProbe_StateMachine(t *testing.T) {
	tr := newTestTracker("alpha")
	probeErr := errors.New("connection refused")

	s := tr.RecordProbe("alpha", nil, 10*time.Millisecond)
	assert.Equal(t, types.StateHealthy, s.State)
	assert.Equal(t, int64(0), s.RequestCount, "probes do not count as requests")

	for i := 0; i < 2; i++ {
		s = tr.RecordProbe("alpha", probeErr, time.Millisecond)
	}
	assert.False(t, s.Connected)
	assert.NotEqual(t, types.StateUnhealthy, s.State)

	s = tr.RecordProbe("alpha", probeErr, time.Millisecond)
	assert.Equal(t, types.StateUnhealthy, s.State)

	s = tr.RecordProbe("alpha", nil, time.Millisecond)
	assert.Equal(t, 0, s.ProbeFailures)
	assert.NotEqual(t, types.StateUnhealthy, s.State)
}

func TestRecordProbe_DegradedBelowThreshold(t *testing.T) {
	cfg := DefaultSettings()
	cfg.UnhealthyAfter = 100
	tr := NewTracker([]string{"alpha"}, cfg, zerolog.Nop())

	var s types.ProviderStats
	for i := 0; i < 10; i++ {
		s = tr.RecordProbe("alpha", errors.New("down"), 0)
	}
	assert.Less(t, s.Reputation, cfg.DegradedBelow)
	assert.Equal(t, types.StateDegraded, s.State)

	// Recovery is gradual: one success does not restore full reputation.
	s = tr.RecordProbe("alpha", nil, 0)
	assert.Less(t, s.Reputation, NeutralReputation)
}

func TestSnapshotStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "reputation.db")
	store, err := OpenSnapshotStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tr := newTestTracker("alpha", "beta")
	tr.Record(Attempt{Provider: "alpha", Success: true, Latency: 50 * time.Millisecond})
	tr.Record(Attempt{Provider: "beta", Latency: 20 * time.Millisecond, Err: "bad payload"})
	tr.RecordProbe("beta", errors.New("bad payload"), time.Millisecond)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, tr.List()))
	// A second save upserts rather than duplicating.
	require.NoError(t, store.Save(ctx, tr.List()))

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "alpha", saved[0].Provider)
	assert.Equal(t, "bad payload", saved[1].LastError)

	fresh := newTestTracker("alpha", "beta")
	assert.Equal(t, 2, fresh.Restore(saved))

	alpha, _ := fresh.Get("alpha")
	assert.Equal(t, int64(1), alpha.RequestCount)
	assert.InDelta(t, 0.55, alpha.Reputation, 1e-9)
	assert.False(t, alpha.Connected)
	assert.False(t, alpha.LastConnectedAt.IsZero())

	beta, _ := fresh.Get("beta")
	assert.Equal(t, int64(1), beta.ProbeCount)
	assert.False(t, beta.Cold())
}
