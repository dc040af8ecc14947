package metadata

import (
	"context"
	"time"

	"github.com/docforge/docforge/pkg/log"
)

// RetryPolicy retries an operation until it both succeeds and satisfies an
// acceptance predicate. Used around analysis calls that may "succeed" with a
// fallback result worth retrying for.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultAnalysisRetry matches the analyzer contract: up to 3 attempts with
// a fixed delay between them.
var DefaultAnalysisRetry = RetryPolicy{Attempts: 3, Delay: 2 * time.Second}

// Retry runs fn until accept approves the result or attempts run out. The
// last result is returned either way; an error on the final attempt is
// returned as-is.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error), accept func(T) bool) (T, error) {
	var (
		result  T
		lastErr error
	)

	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result, lastErr = fn(ctx)
		if lastErr == nil && (accept == nil || accept(result)) {
			return result, nil
		}

		if attempt == attempts {
			break
		}
		if lastErr != nil {
			log.Warn("Attempt %d/%d failed: %v", attempt, attempts, lastErr)
		} else {
			log.Info("Attempt %d/%d returned a fallback result, retrying", attempt, attempts)
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(policy.Delay):
		}
	}

	return result, lastErr
}
