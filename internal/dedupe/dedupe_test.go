// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dedupe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

func TestHashParams_OrderIndependent(t *testing.T) {
	a := types.Params{}
	a["symbol"] = "AAPL"
	a["interval"] = "1d"
	b := types.Params{}
	b["interval"] = "1d"
	b["symbol"] = "AAPL"

	assert.Equal(t, HashParams(a), HashParams(b))
	assert.NotEqual(t, HashParams(a), HashParams(types.Params{"symbol": "MSFT"}))
	assert.Equal(t, HashParams(nil), HashParams(types.Params{}))
}

func TestNewKey_DistinguishesProviderAndTool(t *testing.T) {
	p := types.Params{"symbol": "AAPL"}
	assert.NotEqual(t, NewKey("alpha", "stock_price", p), NewKey("beta", "stock_price", p))
	assert.NotEqual(t, NewKey("alpha", "stock_price", p), NewKey("alpha", "news", p))
	assert.Equal(t, NewKey("alpha", "stock_price", p), NewKey("alpha", "stock_price", types.Params{"symbol": "AAPL"}))
}

func TestDo_ConcurrentCallersShareOneCall(t *testing.T) {
	d := New()
	key := NewKey("alpha", "stock_price", types.Params{"symbol": "AAPL"})

	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (types.ScoredResult, error) {
		calls.Add(1)
		<-release
		return types.ScoredResult{Result: types.RawResult{Source: "alpha", Success: true}}, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]types.ScoredResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = d.Do(context.Background(), key, factory)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), d.Stats().InFlight)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "alpha", results[i].Result.Source)
	}
	// Every caller of a call with duplicates sees it as shared.
	assert.Equal(t, Stats{InFlight: 0, Shared: n}, d.Stats())
}

func TestDo_FailureReleasesKey(t *testing.T) {
	d := New()
	key := NewKey("alpha", "stock_price", nil)
	boom := errors.New("boom")

	_, _, err := d.Do(context.Background(), key, func(context.Context) (types.ScoredResult, error) {
		return types.ScoredResult{}, boom
	})
	assert.ErrorIs(t, err, boom)

	var called bool
	_, _, err = d.Do(context.Background(), key, func(context.Context) (types.ScoredResult, error) {
		called = true
		return types.ScoredResult{}, nil
	})
	require.NoError(t, err)
	assert.True(t, called, "a failed call must not be reused")
}

func TestDo_WaiterCancellationDoesNotCancelSharedCall(t *testing.T) {
	d := New()
	key := NewKey("alpha", "stock_price", nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var factoryErr atomic.Value
	factory := func(ctx context.Context) (types.ScoredResult, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			factoryErr.Store(ctx.Err())
		}
		return types.ScoredResult{Result: types.RawResult{Source: "alpha"}}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := d.Do(context.Background(), key, factory)
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := d.Do(ctx, key, factory)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-done)
	assert.Nil(t, factoryErr.Load())
}
