// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider defines the provider adapter interface and wraps adapters
// with the per-provider call policy: a hard timeout, a rate limit, and
// conversion of every outcome into a RawResult.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/fusion-engine/internal/dedupe"
	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/internal/metrics"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// DefaultTimeout bounds a provider call when none is configured.
const DefaultTimeout = 10 * time.Second

// ErrProbeUnsupported is returned by Ping for providers without a health probe.
var ErrProbeUnsupported = errors.New("provider has no health probe")

// Response is an adapter's answer to one tool call.
type Response struct {
	Data types.Record
	// Timestamp is the as-of time of the data. Zero means "now".
	Timestamp time.Time
}

// Provider is an external data source adapter. Execute should return
// promptly once ctx is done. A call that does not is abandoned at the
// deadline, and later identical calls wait for it to return so the upstream
// never sees two overlapping identical requests.
type Provider interface {
	Name() string
	Execute(ctx context.Context, tool string, params types.Params) (Response, error)
}

// Pinger is implemented by providers that support a lightweight health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Guarded applies timeout and rate limiting around a Provider.
type Guarded struct {
	p       Provider
	timeout time.Duration
	limiter *rate.Limiter
	now     func() time.Time

	mu sync.Mutex
	// abandoned holds, per tool and params, a channel closed when an
	// adapter call that outlived its deadline returns.
	abandoned map[string]chan struct{}
}

// Guard wraps p with the policy in cfg.
func Guard(p Provider, cfg types.ProviderConfig) *Guarded {
	g := &Guarded{p: p, timeout: cfg.Timeout, now: time.Now, abandoned: map[string]chan struct{}{}}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if cfg.RateLimitPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), max(1, cfg.RateLimitPerMinute/60))
	}
	return g
}

// Name returns the wrapped provider's name.
func (g *Guarded) Name() string { return g.p.Name() }

// Timeout returns the per-call bound.
func (g *Guarded) Timeout() time.Duration { return g.timeout }

// Ping probes the provider if it supports probing.
func (g *Guarded) Ping(ctx context.Context) error {
	pinger, ok := g.p.(Pinger)
	if !ok {
		return ErrProbeUnsupported
	}
	return pinger.Ping(ctx)
}

// Invoke calls the provider within its timeout and returns the outcome as a
// RawResult. On failure the error is a *fault.ProviderFailure. The call is
// abandoned at the deadline even if the adapter ignores ctx. timeout, when
// positive and shorter than the configured bound, tightens it for this call.
func (g *Guarded) Invoke(ctx context.Context, tool string, params types.Params, timeout time.Duration) (types.RawResult, error) {
	if timeout <= 0 || timeout > g.timeout {
		timeout = g.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := g.now()
	resp, err := g.execute(ctx, tool, params)
	elapsed := g.now().Sub(start)

	res := types.RawResult{
		Source:    g.Name(),
		LatencyMs: elapsed.Milliseconds(),
	}
	metrics.ProviderLatency.WithLabelValues(res.Source, tool).Observe(elapsed.Seconds())

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded)
		res.Error = err.Error()
		res.Timeout = timedOut
		outcome := "error"
		if timedOut {
			outcome = "timeout"
		}
		metrics.ProviderRequests.WithLabelValues(res.Source, tool, outcome).Inc()
		return res, &fault.ProviderFailure{Provider: res.Source, Tool: tool, Timeout: timedOut, Err: err}
	}

	res.Success = true
	res.Data = resp.Data
	if res.Data == nil {
		res.Data = types.Record{}
	}
	res.Timestamp = resp.Timestamp
	if res.Timestamp.IsZero() {
		res.Timestamp = g.now()
	}
	metrics.ProviderRequests.WithLabelValues(res.Source, tool, "success").Inc()
	return res, nil
}

type outcome struct {
	resp Response
	err  error
}

func (g *Guarded) execute(ctx context.Context, tool string, params types.Params) (Response, error) {
	key := tool + "\x00" + dedupe.HashParams(params)
	if err := g.awaitAbandoned(ctx, key); err != nil {
		return Response{}, err
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			// Wait reports a would-exceed-deadline condition without
			// ctx.Err being set; treat it as the timeout it becomes.
			if ctx.Err() == nil {
				return Response{}, fmt.Errorf("rate limited: %w", context.DeadlineExceeded)
			}
			return Response{}, ctx.Err()
		}
	}

	done := make(chan outcome, 1)
	finished := make(chan struct{})
	go func() {
		resp, err := g.p.Execute(ctx, tool, params)
		done <- outcome{resp, err}
		g.release(key, finished)
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return o.resp, o.err
	case <-ctx.Done():
		g.abandon(key, finished)
		return Response{}, ctx.Err()
	}
}

func (g *Guarded) awaitAbandoned(ctx context.Context, key string) error {
	g.mu.Lock()
	ch := g.abandoned[key]
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("previous identical call still running: %w", ctx.Err())
	}
}

func (g *Guarded) abandon(key string, finished chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-finished:
	default:
		g.abandoned[key] = finished
	}
}

func (g *Guarded) release(key string, finished chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.abandoned[key] == finished {
		delete(g.abandoned, key)
	}
	close(finished)
}
