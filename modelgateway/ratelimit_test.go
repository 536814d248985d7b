package modelgateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kbrag/kberrors"
)

func TestLimiterAcquireWithoutTokensPerMinuteIgnoresEstimate(t *testing.T) {
	l := newLimiter(1000, 1000, 0, 4)
	require.NoError(t, l.acquire(context.Background(), 1_000_000))
}

func TestLimiterAcquireEnforcesTokensPerMinuteBudget(t *testing.T) {
	l := newLimiter(1000, 1000, 60, 4) // 60 tokens/min burst, 1 token/sec refill

	require.NoError(t, l.acquire(context.Background(), 60)) // drains the whole burst

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.acquire(ctx, 10)
	require.Error(t, err)
}

func TestLimiterAcquireRejectsEstimateAboveBurst(t *testing.T) {
	l := newLimiter(1000, 1000, 60, 4)
	err := l.acquire(context.Background(), 1000)
	require.ErrorIs(t, err, kberrors.ErrOverlongInput)
}

func TestEstimateTokensUsesCharsPerTokenHeuristic(t *testing.T) {
	require.Equal(t, 0, estimateTokens())
	require.Equal(t, 1, estimateTokens("abcd"))
	require.Equal(t, 2, estimateTokens("ab", "cd", "ef"))
}
