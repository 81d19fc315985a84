package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), fastPolicy(3), func(error) bool { return true }, nil, func(context.Context) error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if attempts != 2 || calls != 2 {
		t.Fatalf("attempts = %d calls = %d, want 2/2", attempts, calls)
	}
}

func TestRetryIsBounded(t *testing.T) {
	calls := 0
	retries := 0
	attempts, err := Retry(context.Background(), fastPolicy(3), func(error) bool { return true }, func(int, error) { retries++ }, func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("error = %v, want errTransient", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("attempts = %d calls = %d, want 3/3", attempts, calls)
	}
	if retries != 2 {
		t.Fatalf("onRetry calls = %d, want 2", retries)
	}
}

func TestRetrySkipsNonRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	_, err := Retry(context.Background(), fastPolicy(5), func(err error) bool { return errors.Is(err, errTransient) }, nil, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("error = %v, want fatal", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}, func(error) bool { return true }, nil, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("error = %v, want errTransient", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
