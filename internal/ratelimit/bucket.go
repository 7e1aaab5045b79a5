// Package ratelimit implements per-key token-bucket rate limiting for
// tool dispatch. Buckets refill continuously as a function of wall-clock
// time; there is no background goroutine.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Clock returns the current time. Injectable so refill behavior is
// deterministic under test.
type Clock func() time.Time

// TokenBucket bounds the call rate of one key, allowing short bursts up to
// capacity while capping sustained throughput at refillRate tokens/second.
// Safe for concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
	now        Clock
}

// BucketOption configures a TokenBucket.
type BucketOption func(*TokenBucket)

// WithClock replaces the wall clock, for tests.
func WithClock(now Clock) BucketOption {
	return func(b *TokenBucket) {
		b.now = now
	}
}

// NewTokenBucket creates a full bucket. Non-positive capacity or refill
// rate is a configuration error, not a runtime condition.
func NewTokenBucket(capacity, refillRate float64, opts ...BucketOption) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("token bucket capacity must be > 0, got %v", capacity)
	}
	if refillRate <= 0 {
		return nil, fmt.Errorf("token bucket refill rate must be > 0, got %v", refillRate)
	}

	b := &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.now()
	return b, nil
}

// refillLocked credits tokens for the time elapsed since the last refill,
// clamped to capacity. Callers must hold b.mu.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	}
	b.lastRefill = now
}

// TryConsume takes n tokens if available and reports whether it did.
// On refusal the bucket state is unchanged apart from the lazy refill.
func (b *TokenBucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// RetryAfter returns how many whole seconds until at least one token is
// available, rounded up so availability is never under-promised. Zero
// means a call would be allowed now.
func (b *TokenBucket) RetryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= 1 {
		return 0
	}
	return int(math.Ceil((1 - b.tokens) / b.refillRate))
}

// Reset refills the bucket to capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = b.capacity
	b.lastRefill = b.now()
}

// AvailableTokens returns the current token count without consuming.
func (b *TokenBucket) AvailableTokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.tokens
}

// Capacity returns the configured maximum.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}
