package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(func() error {
		calls++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_RecoversAfterFailures(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	err := Retry(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, cfg, nil)

	if err != nil {
		t.Errorf("Expected recovery, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("persistent")
	cfg := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	err := Retry(func() error {
		calls++
		return wantErr
	}, cfg, nil)

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error back, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")

	err := Retry(func() error {
		calls++
		return fatal
	}, DefaultRetryConfig(), func(err error) bool {
		return false
	})

	if !errors.Is(err, fatal) {
		t.Errorf("Expected fatal error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestRetry_SingleShot(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxAttempts: 1}

	Retry(func() error {
		calls++
		return errors.New("fail")
	}, cfg, nil)

	if calls != 1 {
		t.Errorf("MaxAttempts 1 must mean no retry, got %d calls", calls)
	}
}

func TestRetry_NilConfigUsesDefault(t *testing.T) {
	if err := Retry(func() error { return nil }, nil, nil); err != nil {
		t.Errorf("Expected success with default config, got %v", err)
	}
}
