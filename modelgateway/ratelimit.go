package modelgateway

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/brunobiangulo/kbrag/kberrors"
)

// limiter enforces a token-bucket QPS cap per model (§5: "D enforces
// outbound QPS ... via a token-bucket scheme per model") plus an optional
// second token-bucket over estimated tokens-per-minute, with a bounded
// FIFO wait queue: a caller that cannot even get in line (queue already
// full) fails fast with Transient instead of blocking forever (§5:
// "waiters are FIFO with a bounded queue and fail with Transient when the
// queue is full").
type limiter struct {
	bucket *rate.Limiter
	tokens *rate.Limiter // nil when TokensPerMinute is unconfigured (0)
	queue  chan struct{} // acts as the bounded waiter slot count
}

func newLimiter(rps float64, burst int, tokensPerMinute int, queueSize int) *limiter {
	if queueSize <= 0 {
		queueSize = 1
	}
	l := &limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		queue:  make(chan struct{}, queueSize),
	}
	if tokensPerMinute > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(tokensPerMinute)/60, tokensPerMinute)
	}
	return l
}

// acquire reserves a waiter slot (FIFO via the channel's own ordering),
// then blocks on the QPS token bucket and, if configured, the
// tokens-per-minute bucket until both have capacity or ctx expires.
// estimatedTokens is a pre-call estimate (exact usage for embed/rerank
// is never reported by the backend, and for generate it is only known
// after the response arrives, too late to gate the request). Releases
// the waiter slot before returning.
func (l *limiter) acquire(ctx context.Context, estimatedTokens int) error {
	select {
	case l.queue <- struct{}{}:
	default:
		return kberrors.ErrRateLimited
	}
	defer func() { <-l.queue }()

	if err := l.bucket.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return kberrors.Wrap(kberrors.ErrTransientBackend, err)
		}
		return kberrors.Wrap(kberrors.ErrRateLimited, err)
	}

	if l.tokens != nil && estimatedTokens > 0 {
		if estimatedTokens > l.tokens.Burst() {
			return kberrors.Wrap(kberrors.ErrOverlongInput, fmt.Errorf("estimated %d tokens exceeds tokens-per-minute burst %d", estimatedTokens, l.tokens.Burst()))
		}
		if err := l.tokens.WaitN(ctx, estimatedTokens); err != nil {
			if ctx.Err() != nil {
				return kberrors.Wrap(kberrors.ErrTransientBackend, err)
			}
			return kberrors.Wrap(kberrors.ErrRateLimited, err)
		}
	}
	return nil
}

// estimateTokens approximates token count from text length using the
// common chars-per-token-of-4 heuristic (no tokenizer dependency for a
// pre-call estimate that only needs to be in the right ballpark).
func estimateTokens(texts ...string) int {
	chars := 0
	for _, t := range texts {
		chars += len(t)
	}
	return (chars + 3) / 4
}
