package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/vaultcache/vaultcache/pkg/errors"
)

func TestRetryer_SucceedsFirstAttempt(t *testing.T) {
	r := New(DefaultConfig())

	calls := 0
	err := r.Do(func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryer_RetriesRetryableErrors(t *testing.T) {
	r := New(Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeFileSystem,
		},
	})

	calls := 0
	err := r.Do(func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrCodeFileSystem, "stat failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryer_DoesNotRetryNonRetryable(t *testing.T) {
	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeFileSystem,
		},
	})

	calls := 0
	err := r.Do(func() error {
		calls++
		return errors.New(errors.ErrCodeAccessDenied, "denied")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable error", calls)
	}
}

func TestRetryer_ExhaustionWrapsLastError(t *testing.T) {
	r := New(Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeTimeout,
		},
	})

	underlying := errors.New(errors.ErrCodeTimeout, "slow origin")
	err := r.Do(func() error { return underlying })
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !stderrors.Is(err, underlying) {
		t.Errorf("exhaustion error should wrap the last failure, got %v", err)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	r := New(Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeTimeout,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.DoWithContext(ctx, func(context.Context) error {
		calls++
		return errors.New(errors.ErrCodeTimeout, "always failing")
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if calls >= 10 {
		t.Errorf("calls = %d, cancellation should stop the loop early", calls)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	r := New(Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeFileSystem,
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	})

	_ = r.Do(func() error {
		return errors.New(errors.ErrCodeFileSystem, "failing")
	})
	if len(attempts) != 2 {
		t.Errorf("OnRetry fired %d times, want 2", len(attempts))
	}
}

func TestRetryer_FallsBackToRetryableHint(t *testing.T) {
	r := New(Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	})

	calls := 0
	_ = r.Do(func() error {
		calls++
		return errors.New(errors.ErrCodeFileSystem, "stat failed") // retryable by default
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2 via the Retryable hint", calls)
	}
}
