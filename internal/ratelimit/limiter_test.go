package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinBurst(t *testing.T) {
	// 3600/hour resolves to one token per second
	l := NewLimiter(3600, 2)

	ok, remaining := l.Allow("client-a")
	assert.True(t, ok)
	assert.LessOrEqual(t, remaining, 1)

	ok, _ = l.Allow("client-a")
	assert.True(t, ok)

	ok, remaining = l.Allow("client-a")
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)
}

func TestClientsAreIsolated(t *testing.T) {
	l := NewLimiter(3600, 1)

	ok, _ := l.Allow("client-a")
	require.True(t, ok)
	ok, _ = l.Allow("client-a")
	require.False(t, ok)

	ok, _ = l.Allow("client-b")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Size())
}

func TestPruneKeepsDrainedBuckets(t *testing.T) {
	// Refill is one token per hour, so the drained bucket stays drained
	l := NewLimiter(1, 1)

	ok, _ := l.Allow("client-a")
	require.True(t, ok)

	assert.Equal(t, 0, l.Prune())
	assert.Equal(t, 1, l.Size())
}

func TestPruneDropsRefilledBuckets(t *testing.T) {
	// A very fast refill rate so the bucket is full again within the test
	l := NewLimiter(3600000, 1)

	ok, _ := l.Allow("client-a")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		l.Prune()
		return l.Size() == 0
	}, time.Second, 5*time.Millisecond)

	// The pruned client starts over with a full bucket
	ok, _ = l.Allow("client-a")
	assert.True(t, ok)
}
