// internal/pkg/errs/errs.go

package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks an adapter I/O failure. The source is
	// retried at the next scheduled tick, never immediately.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrRateLimited marks a source signalling throttling. A cool-down
	// applies to that source only.
	ErrRateLimited = errors.New("rate limited")
)

// WriteError wraps a storage I/O failure. It bubbles to the caller of
// the store's write path, where the retry policy decides what to do.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsWriteError reports whether err has a WriteError in its chain.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
