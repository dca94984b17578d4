// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package health runs periodic provider probes independent of request
// traffic. Probe results feed the reputation tracker; they shift routing
// preference but never remove a provider from eligibility.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/fusion-engine/internal/metrics"
	"github.com/pdiddy/fusion-engine/internal/provider"
	"github.com/pdiddy/fusion-engine/internal/reputation"
)

const (
	defaultInterval     = 30 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// Target is a probeable provider.
type Target interface {
	Name() string
	Ping(ctx context.Context) error
}

// Monitor probes targets on a fixed interval.
type Monitor struct {
	targets      []Target
	tracker      *reputation.Tracker
	interval     time.Duration
	probeTimeout time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor. Zero durations take the defaults (30s interval,
// 5s probe timeout).
func New(targets []Target, tracker *reputation.Tracker, interval, probeTimeout time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Monitor{
		targets:      targets,
		tracker:      tracker,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       logger.With().Str("component", "health").Logger(),
	}
}

// Start launches the probe loop. It runs one round immediately, then one per
// interval until ctx is done or Stop is called. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every target concurrently and returns the number probed.
// Targets without a probe are skipped.
func (m *Monitor) ProbeAll(ctx context.Context) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		probed int
	)
	for _, t := range m.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			if m.probe(ctx, t) {
				mu.Lock()
				probed++
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return probed
}

func (m *Monitor) probe(ctx context.Context, t Target) bool {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	err := t.Ping(pctx)
	if errors.Is(err, provider.ErrProbeUnsupported) {
		return false
	}
	if ctx.Err() != nil {
		// Shutting down; the probe result says nothing about the provider.
		return false
	}

	st := m.tracker.RecordProbe(t.Name(), err, time.Since(start))
	result := "ok"
	if err != nil {
		result = "fail"
		m.logger.Debug().Err(err).
			Str("provider", t.Name()).
			Int("consecutive_failures", st.ProbeFailures).
			Msg("probe failed")
	}
	metrics.HealthProbes.WithLabelValues(t.Name(), result).Inc()
	metrics.ProviderReputation.WithLabelValues(t.Name()).Set(st.Reputation)
	return true
}
