package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_AllowsWithinBurst(t *testing.T) {
	l := NewLocalLimiter(map[string]Config{
		"test-service": {Capacity: 2, RefillRate: 1},
	})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "test-service"))
	require.NoError(t, l.Acquire(ctx, "test-service"))
}

func TestLocalLimiter_BlocksBeyondBurstUntilRefill(t *testing.T) {
	l := NewLocalLimiter(map[string]Config{
		"test-service": {Capacity: 1, RefillRate: 20}, // refill every 50ms
	})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "test-service"))

	started := time.Now()
	require.NoError(t, l.Acquire(ctx, "test-service"))
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
}

func TestLocalLimiter_UnconfiguredServicePassesThrough(t *testing.T) {
	l := NewLocalLimiter(map[string]Config{})
	require.NoError(t, l.Acquire(context.Background(), "unconfigured"))
}

func TestLocalLimiter_RespectsContextCancellation(t *testing.T) {
	l := NewLocalLimiter(map[string]Config{
		"test-service": {Capacity: 1, RefillRate: 0.001},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(context.Background(), "test-service"))
	err := l.Acquire(ctx, "test-service")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
