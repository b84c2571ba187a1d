package raftengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestByteRateLimiterUnlimited(t *testing.T) {
	l := NewByteRateLimiter(0)
	require.NoError(t, l.Wait(context.Background(), 1<<20))
}

func TestByteRateLimiterThrottles(t *testing.T) {
	l := NewByteRateLimiter(1000)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, 500))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, 600))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestByteRateLimiterRespectsCancellation(t *testing.T) {
	l := NewByteRateLimiter(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, 1<<20)
	require.Error(t, err)
}

func TestPriorityFactorNeverCampaign(t *testing.T) {
	require.Greater(t, priorityFactor(-1, 5), 100.0)
}

func TestPriorityFactorAtOrAboveTarget(t *testing.T) {
	require.Equal(t, 1.0, priorityFactor(5, 5))
	require.Equal(t, 1.0, priorityFactor(6, 5))
}

func TestPriorityFactorBelowTarget(t *testing.T) {
	require.Greater(t, priorityFactor(1, 5), 1.0)
}
