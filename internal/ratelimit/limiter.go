package ratelimit

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Limit is a (capacity, refill rate) pair for one bucket.
type Limit struct {
	Capacity   float64
	RefillRate float64
}

// Decision is the outcome of a Check: whether the call may proceed, how
// many tokens remain, and how long to wait when refused.
type Decision struct {
	Allowed         bool
	RemainingTokens float64
	RetryAfter      int
}

// BucketStatus is a read-only snapshot of one active bucket.
type BucketStatus struct {
	Available float64 `json:"available"`
	Capacity  float64 `json:"capacity"`
}

// RateLimiter manages one TokenBucket per key (tool name). Buckets are
// created lazily on first use of a key, with the default limit unless an
// override was registered for that key.
type RateLimiter struct {
	mu        sync.Mutex
	def       Limit
	overrides map[string]Limit
	buckets   map[string]*TokenBucket
	opts      []BucketOption
}

// NewRateLimiter creates a limiter with the given default limit. The
// options are applied to every bucket it creates.
func NewRateLimiter(def Limit, opts ...BucketOption) (*RateLimiter, error) {
	// Validate the default eagerly so a bad configuration fails at
	// startup rather than on the first tool call.
	if _, err := NewTokenBucket(def.Capacity, def.RefillRate, opts...); err != nil {
		return nil, err
	}
	return &RateLimiter{
		def:       def,
		overrides: make(map[string]Limit),
		buckets:   make(map[string]*TokenBucket),
		opts:      opts,
	}, nil
}

// SetLimit registers a per-key override. Any existing bucket for the key
// is discarded and recreated, so the key starts over at full capacity.
func (l *RateLimiter) SetLimit(key string, lim Limit) error {
	bucket, err := NewTokenBucket(lim.Capacity, lim.RefillRate, l.opts...)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.overrides[key] = lim
	l.buckets[key] = bucket

	log.Debug().
		Str("key", key).
		Float64("capacity", lim.Capacity).
		Float64("refill_rate", lim.RefillRate).
		Msg("Rate limit override set, bucket recreated")
	return nil
}

// bucketFor returns the key's bucket, creating it on first use.
func (l *RateLimiter) bucketFor(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}

	lim := l.def
	if override, ok := l.overrides[key]; ok {
		lim = override
	}
	// Limits were validated when registered, construction cannot fail.
	b, _ := NewTokenBucket(lim.Capacity, lim.RefillRate, l.opts...)
	l.buckets[key] = b
	return b
}

// Check consumes one token from the key's bucket if available.
func (l *RateLimiter) Check(key string) Decision {
	b := l.bucketFor(key)

	if b.TryConsume(1) {
		return Decision{
			Allowed:         true,
			RemainingTokens: b.AvailableTokens(),
		}
	}
	return Decision{
		Allowed:         false,
		RemainingTokens: b.AvailableTokens(),
		RetryAfter:      b.RetryAfter(),
	}
}

// Status snapshots every active bucket.
func (l *RateLimiter) Status() map[string]BucketStatus {
	l.mu.Lock()
	buckets := make(map[string]*TokenBucket, len(l.buckets))
	for key, b := range l.buckets {
		buckets[key] = b
	}
	l.mu.Unlock()

	status := make(map[string]BucketStatus, len(buckets))
	for key, b := range buckets {
		status[key] = BucketStatus{
			Available: b.AvailableTokens(),
			Capacity:  b.Capacity(),
		}
	}
	return status
}

// ResetAll refills every active bucket to capacity.
func (l *RateLimiter) ResetAll() {
	l.mu.Lock()
	buckets := make([]*TokenBucket, 0, len(l.buckets))
	for _, b := range l.buckets {
		buckets = append(buckets, b)
	}
	l.mu.Unlock()

	for _, b := range buckets {
		b.Reset()
	}
}
