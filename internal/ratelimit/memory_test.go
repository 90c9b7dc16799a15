package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterAllows(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}
	ok, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request exceeds the window")

	// Other keys are unaffected.
	ok, err = l.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	defer l.Close()
	ctx := context.Background()

	current := time.Now()
	l.now = func() time.Time { return current }

	ok, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, ok)

	current = current.Add(61 * time.Second)
	ok, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, ok, "window resets after the interval")
}

func TestMemoryLimiterSweep(t *testing.T) {
	l := NewMemoryLimiter(5, time.Minute)
	defer l.Close()
	ctx := context.Background()

	current := time.Now()
	l.now = func() time.Time { return current }

	_, err := l.Allow(ctx, "stale")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	l.sweep()

	l.mu.Lock()
	_, exists := l.windows["stale"]
	l.mu.Unlock()
	assert.False(t, exists, "expired windows are dropped")
}
