// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRedisShared(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreFromClient(client, "fe:"), mr
}

// brokenShared fails every operation.
type brokenShared struct{}

var errDown = errors.New("connection refused")

func (brokenShared) Name() string { return "broken" }
func (brokenShared) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errDown
}
func (brokenShared) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (brokenShared) Invalidate(context.Context, string) (int, error)        { return 0, errDown }
func (brokenShared) Count(context.Context) (int, error)                     { return 0, errDown }
func (brokenShared) Sweep(context.Context) (int, error)                     { return 0, errDown }
func (brokenShared) Ping(context.Context) error                             { return errDown }
func (brokenShared) Close() error                                           { return nil }

func TestLocal_RoundTripAndExpiry(t *testing.T) {
	clock := newFakeClock()
	c, err := New(types.CacheConfig{}, nil, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "stock_price:AAPL", []byte(`{"price":100}`), 30*time.Second)
	got, ok := c.Get(ctx, "stock_price:AAPL")
	require.True(t, ok)
	assert.Equal(t, `{"price":100}`, string(got))

	clock.Advance(30 * time.Second)
	_, ok = c.Get(ctx, "stock_price:AAPL")
	assert.True(t, ok, "an entry is served up to its TTL")

	clock.Advance(time.Millisecond)
	_, ok = c.Get(ctx, "stock_price:AAPL")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.Equal(t, "none", s.SharedBackend)
}

func TestLocal_HotEntriesSurviveEviction(t *testing.T) {
	clock := newFakeClock()
	l, err := NewLocal(4, clock.Now)
	require.NoError(t, err)

	l.Set("hot", []byte("h"), time.Hour)
	_, ok := l.Get("hot")
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		l.Set(fmt.Sprintf("cold-%d", i), []byte("c"), time.Hour)
	}
	_, ok = l.Get("hot")
	assert.True(t, ok, "a twice-used entry outlives single-hit entries")
	_, ok = l.Get("cold-0")
	assert.False(t, ok)
	assert.LessOrEqual(t, l.Len(), 4)
}

func TestLocal_InvalidateAndPurge(t *testing.T) {
	clock := newFakeClock()
	l, err := NewLocal(0, clock.Now)
	require.NoError(t, err)

	l.Set("stock_price:AAPL", []byte("a"), time.Minute)
	l.Set("stock_price:MSFT", []byte("m"), time.Hour)
	l.Set("news:AAPL", []byte("n"), time.Minute)

	n, err := l.Invalidate("stock_price:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	l.Set("stock_price:BRK/B:highest_quality", []byte("b"), time.Minute)
	n, err = l.Invalidate("stock_price:*")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "* matches across '/'")

	_, err = l.Invalidate("[")
	assert.Error(t, err)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, l.PurgeExpired())
	assert.Equal(t, 0, l.Len())
}

func TestCache_SharedHitRepopulatesLocal(t *testing.T) {
	clock := newFakeClock()
	store, _ := newRedisShared(t)
	ctx := context.Background()

	writer, err := New(types.CacheConfig{}, store, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	writer.Set(ctx, "stock_price:AAPL", []byte(`{"price":100}`), time.Minute)

	// A second process shares only the Redis tier.
	reader, err := New(types.CacheConfig{}, store, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)

	clock.Advance(40 * time.Second)
	got, ok := reader.Get(ctx, "stock_price:AAPL")
	require.True(t, ok)
	assert.Equal(t, `{"price":100}`, string(got))
	assert.Equal(t, int64(1), reader.Stats().SharedHits)

	_, ok = reader.Get(ctx, "stock_price:AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(1), reader.Stats().LocalHits)

	// The local mirror keeps the original expiry, not a fresh TTL.
	clock.Advance(21 * time.Second)
	_, ok = reader.Get(ctx, "stock_price:AAPL")
	assert.False(t, ok)
}

func TestCache_SharedFailureIsAMissLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	c, err := New(types.CacheConfig{}, brokenShared{}, zerolog.New(&buf))
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
	c.Set(ctx, "k2", []byte("v"), time.Minute)
	_, ok = c.Get(ctx, "k3")
	assert.False(t, ok)

	v, ok := c.Get(ctx, "k2")
	assert.True(t, ok, "the local tier still serves writes")
	assert.Equal(t, "v", string(v))

	s := c.Stats()
	assert.Equal(t, int64(3), s.SharedErrors)
	assert.False(t, s.SharedHealthy)
	assert.Equal(t, 1, strings.Count(buf.String(), "shared cache tier failing"))

	assert.ErrorIs(t, c.Ping(ctx), fault.ErrCacheUnavailable)
	c.Maintain(ctx)
	assert.Equal(t, 1, strings.Count(buf.String(), "shared cache tier failing"))
}

func TestCache_InvalidateBothTiers(t *testing.T) {
	store, mr := newRedisShared(t)
	c, err := New(types.CacheConfig{}, store, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "stock_price:AAPL", []byte("a"), time.Minute)
	c.Set(ctx, "stock_price:MSFT", []byte("m"), time.Minute)
	c.Set(ctx, "news:AAPL", []byte("n"), time.Minute)

	n, err := c.Invalidate(ctx, "stock_price:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("fe:stock_price:AAPL"))
	assert.True(t, mr.Exists("fe:news:AAPL"))

	_, ok := c.Get(ctx, "stock_price:MSFT")
	assert.False(t, ok)
}

func TestCache_InvalidateKeysWithSlash(t *testing.T) {
	store, mr := newRedisShared(t)
	c, err := New(types.CacheConfig{}, store, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	key := "stock_price:BRK/B:highest_quality"
	c.Set(ctx, key, []byte("stale"), time.Hour)

	n, err := c.Invalidate(ctx, "stock_price:*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("fe:"+key))

	_, ok := c.Get(ctx, key)
	assert.False(t, ok, "the local tier must not keep serving the entry")
}

func TestCache_InvalidateCountsSharedKeys(t *testing.T) {
	store, _ := newRedisShared(t)
	ctx := context.Background()

	other, err := New(types.CacheConfig{}, store, zerolog.Nop())
	require.NoError(t, err)
	other.Set(ctx, "news:AAPL", []byte("a"), time.Minute)
	other.Set(ctx, "news:MSFT", []byte("m"), time.Minute)

	c, err := New(types.CacheConfig{}, store, zerolog.Nop())
	require.NoError(t, err)
	c.Set(ctx, "news:AAPL", []byte("a"), time.Minute)

	n, err := c.Invalidate(ctx, "news:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "keys written by other instances count")
}

func TestCache_MaintenanceSweepsOverThreshold(t *testing.T) {
	store, mr := newRedisShared(t)
	c, err := New(types.CacheConfig{MaxSharedKeys: 2}, store, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	require.NoError(t, mr.Set("fe:orphan", "x"))

	c.Maintain(ctx)
	assert.Equal(t, int64(1), c.Stats().Sweeps)
	assert.False(t, mr.Exists("fe:orphan"))
	assert.True(t, mr.Exists("fe:a"))
}

func TestCache_StartMaintenanceRejectsBadSchedule(t *testing.T) {
	c, err := New(types.CacheConfig{MaintenanceSchedule: "every now and then"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, c.StartMaintenance(context.Background()), fault.ErrConfiguration)

	c, err = New(types.CacheConfig{}, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.StartMaintenance(context.Background()))
	require.NoError(t, c.Close())
}

func TestNewRedisStore_URL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := NewRedisStore(ctx, "redis://"+mr.Addr()+"/0", "fe:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Ping(ctx))

	_, err = NewRedisStore(ctx, "", "fe:")
	assert.Error(t, err)
	_, err = NewRedisStore(ctx, " , ", "fe:")
	assert.Error(t, err)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache", "shared.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "stock_price:AAPL", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "news:AAPL", []byte("n"), time.Hour))
	require.NoError(t, store.Set(ctx, "stock_price:AAPL", []byte("a2"), time.Minute))

	got, ok, err := store.Get(ctx, "stock_price:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", string(got))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	clock.Advance(2 * time.Minute)
	_, ok, err = store.Get(ctx, "stock_price:AAPL")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Invalidate(ctx, "news:*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, store.Ping(ctx))
}

func TestOpenShared(t *testing.T) {
	ctx := context.Background()

	s, err := OpenShared(ctx, types.CacheConfig{Shared: types.SharedNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = OpenShared(ctx, types.CacheConfig{Shared: types.SharedSQLite, SQLitePath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Name())
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = OpenShared(ctx, types.CacheConfig{Shared: types.SharedRedis, RedisURL: "redis://" + mr.Addr(), KeyPrefix: "fe:"})
	require.NoError(t, err)
	assert.Equal(t, "redis", s.Name())
	require.NoError(t, s.Close())

	_, err = OpenShared(ctx, types.CacheConfig{Shared: "memcached"})
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}
