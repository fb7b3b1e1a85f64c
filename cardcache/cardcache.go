// Package cardcache is a bounded key→payload store with insertion-order
// FIFO eviction. Entries are cheap to re-fetch, and reads never reorder,
// so FIFO beats LRU on simplicity with no observable cost.
package cardcache

import "sync"

// MaxEntries is the default cache bound.
const MaxEntries = 200

// keyVersion prefixes every key so a payload shape change can invalidate
// old entries without a migration step.
const keyVersion = "v2:"

// Key builds the cache key for a canonical resource URL.
func Key(canonicalURL string) string {
	return keyVersion + canonicalURL
}

// Cache is a bounded FIFO store. A nil-able payload type lets callers
// cache "fetched, but no usable data" identically to real payloads, so a
// failing resource is not re-fetched within a session.
//
// Entries are immutable once written: Set on an existing key is a no-op;
// a key only leaves the cache by eviction.
type Cache[V any] struct {
	mu      sync.Mutex
	max     int
	entries map[string]V
	order   []string // insertion order, oldest first
}

// New creates a cache bounded to max entries. max <= 0 uses MaxEntries.
func New[V any](max int) *Cache[V] {
	if max <= 0 {
		max = MaxEntries
	}
	return &Cache[V]{
		max:     max,
		entries: make(map[string]V, max),
	}
}

// Get returns the payload for key. found distinguishes a cached zero
// payload from a miss.
func (c *Cache[V]) Get(key string) (v V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, found = c.entries[key]
	return v, found
}

// Set inserts key→v, evicting the single oldest entry when the bound is
// exceeded. The size check and the insert happen under one lock, so the
// bound holds without any read-modify-write hazard.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = v
	c.order = append(c.order, key)
}

// Len returns the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Keys returns the keys in insertion order, oldest first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
