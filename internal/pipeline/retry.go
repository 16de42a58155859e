package pipeline

import (
	"context"
	"time"

	"radar/internal/hotness"
	"radar/internal/story"
)

// retryDo runs fn up to attempts times with exponential backoff, honoring
// context cancellation between attempts.
func retryDo[T any](ctx context.Context, attempts int, baseDelay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// retryingScoringOracle decorates a scoring oracle with the shared retry
// policy.
type retryingScoringOracle struct {
	inner     hotness.ScoringOracle
	attempts  int
	baseDelay time.Duration
}

// ScoringOracleWithRetry wraps oracle so transient failures are retried with
// exponential backoff before the scorer falls back.
func ScoringOracleWithRetry(oracle hotness.ScoringOracle, attempts int, baseDelay time.Duration) hotness.ScoringOracle {
	return &retryingScoringOracle{inner: oracle, attempts: attempts, baseDelay: baseDelay}
}

func (r *retryingScoringOracle) ScoreHotness(ctx context.Context, summary hotness.ClusterSummary) (*hotness.OracleScore, error) {
	return retryDo(ctx, r.attempts, r.baseDelay, func(ctx context.Context) (*hotness.OracleScore, error) {
		return r.inner.ScoreHotness(ctx, summary)
	})
}

// retryingResearchOracle decorates a research oracle with the same retry
// policy scoring uses.
type retryingResearchOracle struct {
	inner     story.ResearchOracle
	attempts  int
	baseDelay time.Duration
}

// ResearchOracleWithRetry wraps oracle so transient research failures are
// retried before the story builder downgrades to the summary path.
func ResearchOracleWithRetry(oracle story.ResearchOracle, attempts int, baseDelay time.Duration) story.ResearchOracle {
	return &retryingResearchOracle{inner: oracle, attempts: attempts, baseDelay: baseDelay}
}

func (r *retryingResearchOracle) Research(ctx context.Context, query string, maxSources int) (*story.ResearchReport, error) {
	return retryDo(ctx, r.attempts, r.baseDelay, func(ctx context.Context) (*story.ResearchReport, error) {
		return r.inner.Research(ctx, query, maxSources)
	})
}
