package gemini

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newCircuitBreaker(3, 60*time.Second)
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow(), "below threshold the circuit stays closed")

	b.RecordFailure()
	assert.False(t, b.Allow())

	// Cooldown elapses.
	now = now.Add(61 * time.Second)
	assert.True(t, b.Allow())
}

func TestCircuitSuccessResets(t *testing.T) {
	b := newCircuitBreaker(3, 60*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	// The failure streak restarts, two more failures do not open it.
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())
}

func TestCircuitSuccessClosesOpenCircuit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := newCircuitBreaker(1, time.Hour)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.True(t, b.Allow())
}

func TestKeyPoolRotation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pool := &keyPool{
		keys:         []*apiKey{{}, {}},
		blockSeconds: 300,
		now:          func() time.Time { return now },
	}

	first, err := pool.next()
	require.NoError(t, err)
	assert.Same(t, pool.keys[0], first)

	// Quota failure on the primary key moves selection to the second.
	pool.block(first)
	second, err := pool.next()
	require.NoError(t, err)
	assert.Same(t, pool.keys[1], second)

	// Both blocked: fail fast.
	pool.block(second)
	_, err = pool.next()
	assert.ErrorIs(t, err, ErrAllKeysBlocked)

	// After the block window the primary is preferred again.
	now = now.Add(301 * time.Second)
	k, err := pool.next()
	require.NoError(t, err)
	assert.Same(t, pool.keys[0], k)

	assert.Equal(t, 2, pool.size())
}
