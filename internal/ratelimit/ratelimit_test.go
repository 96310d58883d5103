package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquirePacing(t *testing.T) {
	// 10 rps with burst 2: five acquires land at ~0, 0, 100ms, 200ms, 300ms.
	l := New(func(string) (float64, int) { return 10, 2 })

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background(), "test"))
	}
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	require.Less(t, elapsed, 600*time.Millisecond)
}

func TestPerSourceBuckets(t *testing.T) {
	l := New(func(source string) (float64, int) {
		if source == "slow" {
			return 1, 1
		}
		return 1000, 1000
	})

	// Draining one source's bucket must not affect another's.
	require.True(t, l.Allow("slow"))
	require.False(t, l.Allow("slow"))
	require.True(t, l.Allow("fast"))
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l := New(func(string) (float64, int) { return 0.001, 1 })
	require.NoError(t, l.Acquire(context.Background(), "test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "test")
	require.Error(t, err)
}

func TestZeroLimitsFallBack(t *testing.T) {
	l := New(func(string) (float64, int) { return 0, 0 })
	require.True(t, l.Allow("test"))
}
