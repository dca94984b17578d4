// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultLocalCapacity bounds the local tier when no capacity is configured.
const DefaultLocalCapacity = 1024

type localEntry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e localEntry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Local is the in-process tier. It uses a 2Q cache: entries seen once sit in
// a recent queue and are evicted before entries promoted to the frequent
// queue by a second hit.
type Local struct {
	entries *lru.TwoQueueCache
	now     func() time.Time
}

// NewLocal creates a local tier holding at most capacity entries.
func NewLocal(capacity int, now func() time.Time) (*Local, error) {
	if capacity <= 0 {
		capacity = DefaultLocalCapacity
	}
	if now == nil {
		now = time.Now
	}
	c, err := lru.New2Q(capacity)
	if err != nil {
		return nil, fmt.Errorf("creating local cache: %w", err)
	}
	return &Local{entries: c, now: now}, nil
}

// Get returns the value for key unless it is missing or expired. Expired
// entries are removed on read.
func (l *Local) Get(key string) ([]byte, bool) {
	v, ok := l.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(localEntry)
	if e.expired(l.now()) {
		l.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (l *Local) Set(key string, value []byte, ttl time.Duration) {
	l.setAt(key, value, l.now(), ttl)
}

func (l *Local) setAt(key string, value []byte, storedAt time.Time, ttl time.Duration) {
	if ttl <= 0 {
		l.entries.Remove(key)
		return
	}
	l.entries.Add(key, localEntry{value: value, storedAt: storedAt, ttl: ttl})
}

// Invalidate removes keys matching the glob pattern and returns the count.
// The pattern is compiled without separators, so * matches any run of
// characters including '/', as Redis MATCH and SQLite GLOB do.
func (l *Local) Invalidate(pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	n := 0
	for _, k := range l.entries.Keys() {
		key := k.(string)
		if g.Match(key) {
			l.entries.Remove(key)
			n++
		}
	}
	return n, nil
}

// PurgeExpired drops every expired entry and returns the count.
func (l *Local) PurgeExpired() int {
	now := l.now()
	n := 0
	for _, k := range l.entries.Keys() {
		v, ok := l.entries.Peek(k)
		if !ok {
			continue
		}
		if v.(localEntry).expired(now) {
			l.entries.Remove(k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired ones included.
func (l *Local) Len() int {
	return l.entries.Len()
}
