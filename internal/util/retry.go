// Package util provides shared retry helpers for store callers.
package util

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"modelstore/internal/common"
)

// PendingRetryOptions returns retry options for operations that may fail with
// a pending transaction. Uses exponential backoff capped at ten times delay.
func PendingRetryOptions(ctx context.Context, attempts uint, delay time.Duration) []retry.Option {
	if attempts == 0 {
		attempts = 5
	}
	if delay == 0 {
		delay = 200 * time.Millisecond
	}
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(10 * delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(common.IsPending),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// DefaultRetryOptions returns sensible defaults for retry operations.
func DefaultRetryOptions(ctx context.Context) []retry.Option {
	return PendingRetryOptions(ctx, 0, 0)
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = DefaultRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// RetryPending retries fn with the default policy while it fails with a
// pending transaction. Any other error stops immediately.
func RetryPending(ctx context.Context, fn func() error) error {
	return Retry(ctx, fn, DefaultRetryOptions(ctx)...)
}
