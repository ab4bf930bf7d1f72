package vcs

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// maxBackoffFactor caps the fetch backoff at this multiple of the initial delay.
const maxBackoffFactor = 8

// WithFetchRetry retries a failed fetch up to attempts times in total,
// backing off exponentially from backoff. Attempts below 2 disable retries.
func WithFetchRetry(attempts int, backoff time.Duration) Option {
	return func(r *Repository) {
		if attempts < 2 {
			r.retrier = nil
			return
		}
		r.retrier = retry.New[struct{}](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  backoff,
			MaxDelay:      backoff * maxBackoffFactor,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
			Jitter:        true,
			IsRetryable:   retryableFetchError,
		})
	}
}

// fetchWithRetry runs fetchOnce under the configured retry policy and
// returns the error of the last attempt.
func (r *Repository) fetchWithRetry(ctx context.Context) error {
	if r.retrier == nil {
		return r.fetchOnce(ctx)
	}

	attempt := 0
	var last error
	_, err := r.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		attempt++
		if attempt > 1 {
			r.logger.Warn("retrying fetch", "remote", r.remote, "attempt", attempt, "error", last)
		}
		last = r.fetchOnce(ctx)
		return struct{}{}, last
	})
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err
}

// retryableFetchError reports whether a failed fetch may succeed on a later
// attempt. Cancellation and credential problems never do.
func retryableFetchError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrRepositoryNotFound):
		return false
	}
	return true
}
