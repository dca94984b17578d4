// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// RedisStore is a shared tier backed by Redis, a Redis cluster, or a
// sentinel group. Keys are namespaced by prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to the comma-separated address or URL list in
// redisURL and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, errors.New("redis url must be provided")
	}
	opts, err := universalOptions(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if len(opts.Addrs) > 1 {
		opts.DB = 0
	}

	client := redis.NewUniversalClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func universalOptions(raw string) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "://") {
			opts.Addrs = append(opts.Addrs, part)
			continue
		}
		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, err
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.DB == 0 {
			opts.DB = parsed.DB
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
	}
	if len(opts.Addrs) == 0 {
		return nil, errors.New("no redis addresses provided")
	}
	return opts, nil
}

// Name returns "redis".
func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) key(k string) string { return r.prefix + k }

// Get returns the stored bytes for key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores value with a native Redis expiry.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

// Invalidate unlinks every key matching the glob pattern.
func (r *RedisStore) Invalidate(ctx context.Context, pattern string) (int, error) {
	keys, err := r.scan(ctx, r.key(pattern))
	if err != nil {
		return 0, err
	}
	return r.unlink(ctx, keys)
}

// Count returns the number of keys under the prefix.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := r.scan(ctx, r.prefix+"*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Sweep removes keys under the prefix that carry no expiry. Redis expires
// the rest on its own.
func (r *RedisStore) Sweep(ctx context.Context) (int, error) {
	keys, err := r.scan(ctx, r.prefix+"*")
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, k := range keys {
		ttl, err := r.client.PTTL(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		// go-redis reports "no expiry" as a raw -1.
		if ttl == -1 {
			stale = append(stale, k)
		}
	}
	return r.unlink(ctx, stale)
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) scan(ctx context.Context, match string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", match, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *RedisStore) unlink(ctx context.Context, keys []string) (int, error) {
	n := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		removed, err := r.client.Unlink(ctx, keys[start:end]...).Result()
		if err != nil {
			return n, fmt.Errorf("unlinking keys: %w", err)
		}
		n += int(removed)
	}
	return n, nil
}
