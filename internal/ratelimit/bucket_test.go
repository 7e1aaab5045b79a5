package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic refill tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestNewTokenBucket_Validation(t *testing.T) {
	tests := []struct {
		name       string
		capacity   float64
		refillRate float64
	}{
		{"zero capacity", 0, 1},
		{"negative capacity", -5, 1},
		{"zero refill rate", 10, 0},
		{"negative refill rate", 10, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenBucket(tt.capacity, tt.refillRate)
			require.Error(t, err)
		})
	}
}

func TestTokenBucket_StartsFull(t *testing.T) {
	b, err := NewTokenBucket(10, 1, WithClock(newFakeClock().Now))
	require.NoError(t, err)
	assert.Equal(t, 10.0, b.AvailableTokens())
}

func TestTokenBucket_ConsumeThenAvailable(t *testing.T) {
	clock := newFakeClock()
	b, err := NewTokenBucket(10, 1, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.True(t, b.TryConsume(1))
	}
	assert.Equal(t, 4.0, b.AvailableTokens())
}

func TestTokenBucket_RefillDeterminism(t *testing.T) {
	clock := newFakeClock()
	b, err := NewTokenBucket(100, 10, WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, b.TryConsume(50))
	assert.Equal(t, 50.0, b.AvailableTokens())

	clock.Advance(1 * time.Second)
	assert.Equal(t, 60.0, b.AvailableTokens())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 80.0, b.AvailableTokens())

	// Refill clamps at capacity, never beyond.
	clock.Advance(1 * time.Hour)
	assert.Equal(t, 100.0, b.AvailableTokens())
}

func TestTokenBucket_CapacityInvariant(t *testing.T) {
	clock := newFakeClock()
	b, err := NewTokenBucket(5, 3, WithClock(clock.Now))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		b.TryConsume(1)
		clock.Advance(250 * time.Millisecond)

		available := b.AvailableTokens()
		assert.GreaterOrEqual(t, available, 0.0)
		assert.LessOrEqual(t, available, 5.0)
	}
}

func TestTokenBucket_RefusalLeavesStateUnchanged(t *testing.T) {
	clock := newFakeClock()
	b, err := NewTokenBucket(2, 1, WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, b.TryConsume(2))
	require.False(t, b.TryConsume(1))
	assert.Equal(t, 0.0, b.AvailableTokens())
}

func TestTokenBucket_RetryAfter(t *testing.T) {
	clock := newFakeClock()
	b, err := NewTokenBucket(5, 1, WithClock(clock.Now))
	require.NoError(t, err)

	assert.Equal(t, 0, b.RetryAfter())

	for i := 0; i < 5; i++ {
		require.True(t, b.TryConsume(1))
	}
	assert.Equal(t, 1, b.RetryAfter())
}

func TestTokenBucket_RetryAfterRoundsUp(t *testing.T) {
	clock := newFakeClock()
	// 0.4 tokens/second: an empty bucket needs 2.5s for one token.
	b, err := NewTokenBucket(1, 0.4, WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, b.TryConsume(1))
	assert.Equal(t, 3, b.RetryAfter())
}

func TestTokenBucket_Reset(t *testing.T) {
	clock := newFakeClock()
	b, err := NewTokenBucket(4, 1, WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, b.TryConsume(4))
	b.Reset()
	assert.Equal(t, 4.0, b.AvailableTokens())
}

func TestTokenBucket_FractionalRefill(t *testing.T) {
	clock := newFakeClock()
	b, err := NewTokenBucket(10, 0.5, WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, b.TryConsume(10))
	clock.Advance(3 * time.Second)
	assert.InDelta(t, 1.5, b.AvailableTokens(), 1e-9)
}
