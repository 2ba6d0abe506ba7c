// Package ratelimit provides a keyed token-bucket limiter used to throttle
// callers of the ops endpoints.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string) (bool, error)
	Reset(key string)
}

type TokenBucketLimiter struct {
	rate     float64
	capacity float64
	now      func() time.Time
	mu       sync.Mutex
	buckets  map[string]*bucket
	swept    time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

type Option func(*TokenBucketLimiter)

func WithClock(now func() time.Time) Option {
	return func(l *TokenBucketLimiter) { l.now = now }
}

// New returns a limiter refilling rate tokens per second up to burst.
func New(rate float64, burst int, opts ...Option) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1.0
	}
	if burst <= 0 {
		burst = 1
	}
	l := &TokenBucketLimiter{
		rate:     rate,
		capacity: float64(burst),
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TokenBucketLimiter) Allow(key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastUpdate: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.tokens+elapsed*l.rate, l.capacity)
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// sweep drops buckets that have refilled to capacity; a fresh bucket is
// identical. It runs at most once per full refill period. Caller must hold
// l.mu.
func (l *TokenBucketLimiter) sweep(now time.Time) {
	period := time.Duration(l.capacity / l.rate * float64(time.Second))
	if now.Sub(l.swept) < period {
		return
	}
	l.swept = now

	for key, b := range l.buckets {
		if b.tokens+now.Sub(b.lastUpdate).Seconds()*l.rate >= l.capacity {
			delete(l.buckets, key)
		}
	}
}

func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
}

// Len reports how many keys are tracked.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
