package broker

import (
	"context"
	"errors"
	"time"
)

// Retryable reports whether err is worth another attempt: a 5xx APIError or
// a RateLimitedError. Everything else, 4xx included, is final.
func Retryable(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var api *APIError
	return errors.As(err, &api) && api.Temporary()
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay, stopping early on success or on an error that is not
// Retryable. A RateLimitedError stretches the wait to its RetryAfter.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			wait := delay
			var rl *RateLimitedError
			if errors.As(err, &rl) && rl.RetryAfter > wait {
				wait = rl.RetryAfter
			}
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
			delay *= 2
		}
	}

	return err
}
