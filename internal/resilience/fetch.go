package resilience

import (
	"context"
	"fmt"
	"time"
)

// FetchWithRetry executes op up to maxRetries+1 times, sleeping
// backoff * 2^attempt between attempts. It returns the result together with
// the number of attempts actually made; on final failure the returned error
// is annotated with the attempt count. maxRetries == 0 means a single
// attempt and no sleep. Context cancellation aborts the backoff wait.
func FetchWithRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error), maxRetries int, backoff time.Duration) (T, int, error) {
	var zero T
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts = attempt + 1

		val, err := op(ctx)
		if err == nil {
			return val, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt >= maxRetries {
			break
		}

		timer := time.NewTimer(backoff << attempt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempts, fmt.Errorf("%w (after %d attempts)", lastErr, attempts)
		case <-timer.C:
		}
	}

	return zero, attempts, fmt.Errorf("%w (after %d attempts)", lastErr, attempts)
}
