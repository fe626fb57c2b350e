package retry

import (
	"context"
	"testing"
	"time"

	"github.com/sharebox/sharebox/pkg/errors"
)

func TestRetryerSuccess(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryerRetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.CodeStoreTimeout, "store timed out")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected nil error after eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryerNonRetryableError(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 5 * time.Millisecond
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.CodeClassifierDisagreement, "disagreement")
	})

	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetryerExhausted(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 2
	config.InitialDelay = 5 * time.Millisecond
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.CodeStoreCommandFailed, "add failed")
	})

	if err == nil {
		t.Fatal("expected exhausted error")
	}
	if attempts != 2 {
		t.Fatalf("expected %d attempts, got %d", 2, attempts)
	}
}

func TestRetryerContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 50 * time.Millisecond
	config.MaxAttempts = 5
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return errors.New(errors.CodeStoreTimeout, "timeout")
	})

	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
