// Package cache provides a small bounded, time-expiring map used for
// transaction state and discovery caches. Entries are evicted when the cache
// is full (LRU order) or once they outlive the configured TTL. All methods
// are safe for concurrent use.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded expiring map from string keys to values of type V.
// Values are derived, re-fetchable facts; a miss must always be recoverable
// by the caller, so last-write-wins overwrites are fine.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// New creates a Cache holding at most size entries, each expiring ttl after
// it was last written.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](size, nil, ttl),
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, overwriting any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Remove drops key from the cache. Removing an absent key is a no-op.
func (c *Cache[V]) Remove(key string) {
	c.lru.Remove(key)
}

// Contains reports whether key is present without refreshing its recency.
func (c *Cache[V]) Contains(key string) bool {
	return c.lru.Contains(key)
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
