package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(errors.New("connection refused"), 1) {
		t.Error("expected connection error to be retryable")
	}

	if policy.ShouldRetry(errors.New("error"), 4) {
		t.Error("should not retry after max attempts")
	}

	for attempt, want := range map[int]time.Duration{
		1: 500 * time.Millisecond,
		2: time.Second,
		3: 2 * time.Second,
	} {
		if got := policy.NextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v delay, got %v", attempt, want, got)
		}
	}
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	for _, err := range []error{
		errors.New("invalid request"),
		errors.New("unauthorized"),
		errors.New("forbidden"),
		context.Canceled,
		fmt.Errorf("upload: %w", context.DeadlineExceeded),
	} {
		if policy.ShouldRetry(err, 1) {
			t.Errorf("expected %q to be non-retryable", err)
		}
	}
}

func TestRetryPolicyStatusErrors(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		code  int
		retry bool
	}{
		{500, true},
		{502, true},
		{503, true},
		{429, true},
		{400, false},
		{404, false},
		{422, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("upload resume: %w", &StatusError{Code: tt.code})
		if got := policy.ShouldRetry(err, 1); got != tt.retry {
			t.Errorf("status %d: expected retry=%v, got %v", tt.code, tt.retry, got)
		}
	}
}

func TestRetryPolicyNilError(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.ShouldRetry(nil, 1) {
		t.Error("nil error should not be retryable")
	}
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		Multiplier:   10.0,
		MaxDelay:     30 * time.Second,
	}

	if delay := policy.NextDelay(5); delay != policy.MaxDelay {
		t.Errorf("expected delay capped at %v, got %v", policy.MaxDelay, delay)
	}
}

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     10 * time.Millisecond,
	}
}

func TestRetryPolicyExecuteSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteNonRetryable(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Execute(context.Background(), func() error {
		calls++
		return &StatusError{Code: 400}
	})

	if err == nil {
		t.Error("expected error for non-retryable failure")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestRetryPolicyExecuteAllFail(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Execute(context.Background(), func() error {
		calls++
		return errors.New("timeout")
	})

	if err == nil {
		t.Error("expected error after all attempts exhausted")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteCancelled(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		Multiplier:   1.0,
		MaxDelay:     time.Hour,
	}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Execute(ctx, func() error {
			calls++
			return errors.New("connection reset")
		})
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected last error on cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not stop on cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}
