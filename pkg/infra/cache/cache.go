// Package cache provides a small in-process TTL cache. The object-storage
// backend uses it to memoize digest index lookups.
package cache

import (
	"sync"
	"time"
)

// Cache is a concurrency-safe map with per-entry expiry.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
	opts  options
}

type entry[V any] struct {
	value      V
	expiration time.Time
}

type options struct {
	defaultTTL time.Duration
	maxSize    int
	now        func() time.Time
}

type Option func(*options)

// WithTTL sets the expiry used when Set is called with a zero ttl.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.defaultTTL = ttl
	}
}

// WithMaxSize bounds the number of entries; the entry closest to expiry is
// evicted when the bound is reached.
func WithMaxSize(maxSize int) Option {
	return func(o *options) {
		o.maxSize = maxSize
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func New[V any](opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		items: make(map[string]entry[V]),
		opts:  o,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, found := c.items[key]
	if !found {
		return zero, false
	}
	if !item.expiration.IsZero() && c.opts.now().After(item.expiration) {
		delete(c.items, key)
		return zero, false
	}
	return item.value, true
}

// Set stores value under key. A zero ttl uses the default TTL; a negative
// default means entries never expire.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.maxSize > 0 && len(c.items) >= c.opts.maxSize {
		c.evictOldest()
	}

	if ttl == 0 {
		ttl = c.opts.defaultTTL
	}
	var expiration time.Time
	if ttl > 0 {
		expiration = c.opts.now().Add(ttl)
	}
	c.items[key] = entry[V]{value: value, expiration: expiration}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldest drops expired entries, or the one expiring soonest. Caller
// holds c.mu.
func (c *Cache[V]) evictOldest() {
	now := c.opts.now()
	var oldestKey string
	var oldest time.Time
	for key, item := range c.items {
		if !item.expiration.IsZero() && now.After(item.expiration) {
			delete(c.items, key)
			continue
		}
		if oldestKey == "" || (!item.expiration.IsZero() && (oldest.IsZero() || item.expiration.Before(oldest))) {
			oldestKey = key
			oldest = item.expiration
		}
	}
	if len(c.items) >= c.opts.maxSize && oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
