// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dedupe collapses identical concurrent provider requests into one
// upstream call whose result every waiter shares.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

// Key identifies one in-flight request.
type Key struct {
	Provider   string
	Tool       string
	ParamsHash string
}

// String renders the key for singleflight and logs.
func (k Key) String() string {
	return k.Provider + "\x00" + k.Tool + "\x00" + k.ParamsHash
}

// NewKey builds a key, hashing params canonically.
func NewKey(provider, tool string, params types.Params) Key {
	return Key{Provider: provider, Tool: tool, ParamsHash: HashParams(params)}
}

// HashParams returns the hex SHA-256 of params encoded as JSON. encoding/json
// sorts map keys, so equal maps hash equally regardless of insertion order.
func HashParams(params types.Params) string {
	if params == nil {
		params = types.Params{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		// map[string]string always encodes.
		panic(fmt.Sprintf("encoding params: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Factory performs the upstream call for a key.
type Factory func(ctx context.Context) (types.ScoredResult, error)

// Deduplicator shares in-flight calls between callers with the same key.
type Deduplicator struct {
	group    singleflight.Group
	inflight atomic.Int64
	shared   atomic.Int64
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{}
}

// Do runs factory once per key among concurrent callers. The factory runs
// detached from any single caller's cancellation; a caller whose ctx ends
// returns ctx.Err() while the shared call keeps going for the rest. The key
// is released when the call completes, successfully or not, so the next
// request after completion starts a fresh call.
func (d *Deduplicator) Do(ctx context.Context, key Key, factory Factory) (types.ScoredResult, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key.String(), func() (any, error) {
		d.inflight.Add(1)
		defer d.inflight.Add(-1)
		return factory(detached)
	})

	select {
	case res := <-ch:
		if res.Shared {
			d.shared.Add(1)
		}
		if res.Err != nil {
			return types.ScoredResult{}, res.Shared, res.Err
		}
		return res.Val.(types.ScoredResult), res.Shared, nil
	case <-ctx.Done():
		return types.ScoredResult{}, false, ctx.Err()
	}
}

// Stats reports deduplicator activity.
type Stats struct {
	InFlight int64 `json:"in_flight"`
	Shared   int64 `json:"shared"`
}

// Stats returns the number of upstream calls running now and how many
// callers have received a shared result.
func (d *Deduplicator) Stats() Stats {
	return Stats{InFlight: d.inflight.Load(), Shared: d.shared.Load()}
}
