// Package cache provides an in-memory TTL cache with lazy expiry.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value together with the moment it was stored.
type Entry[V any] struct {
	Value      V
	InsertedAt time.Time
}

// TTL maps keys to values that go stale ttl after insertion. Stale entries
// are dropped when they are read; nothing sweeps the map in the background.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[K]Entry[V]
}

// New creates a cache with the given time-to-live.
func New[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]Entry[V]),
	}
}

// WithClock replaces time.Now and returns the cache for chaining.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the value for key if it is younger than the TTL. A stale
// entry is evicted and reported as a miss.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.InsertedAt) >= c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.Value, true
}

// Put stores value under key, stamped with the current time.
func (c *TTL[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[V]{Value: value, InsertedAt: c.now()}
}

// Clear drops every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]Entry[V])
}

// Len counts stored entries, stale ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
