// internal/adapter/storage/retry.go

package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"trendspy/internal/pkg/errs"
)

// RetryPolicy governs the store's write path: how many attempts a
// write gets and the backoff schedule between them. Only write errors
// are retried; query and marshaling failures return immediately.
type RetryPolicy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the write retry schedule used when config
// supplies nothing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Do runs op under the policy. The last write error is returned when
// every attempt fails.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errs.IsWriteError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxAttempts-1), ctx))
}
