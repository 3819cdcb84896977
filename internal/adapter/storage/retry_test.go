// internal/adapter/storage/retry_test.go

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"trendspy/internal/pkg/errs"
)

func fastPolicy(attempts uint64) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func TestRetryPolicyRetriesWriteErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &errs.WriteError{Op: "record snapshot", Err: errors.New("connection reset")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		return &errs.WriteError{Op: "record trend", Err: errors.New("disk full")}
	})
	if !errs.IsWriteError(err) {
		t.Fatalf("expected the final write error to surface, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want exactly MaxAttempts", calls)
	}
}

func TestRetryPolicyDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	wantErr := errors.New("bad input")
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, non-write errors must not retry", calls)
	}
}

func TestRetryPolicySingleAttemptRunsOnce(t *testing.T) {
	calls := 0
	_ = fastPolicy(1).Do(context.Background(), func() error {
		calls++
		return &errs.WriteError{Op: "x", Err: errors.New("y")}
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
