package applier

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withRetry runs op up to 3 total attempts with exponential backoff starting
// at 500ms and doubling (0.5s, 1s), returning the last error wrapped in
// ErrAllAttemptsFailed if every attempt fails.
func withRetry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, 2), ctx)

	var lastErr error
	attempt := func() error {
		lastErr = op()
		return lastErr
	}
	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("%w: %w", ErrAllAttemptsFailed, lastErr)
	}
	return nil
}
