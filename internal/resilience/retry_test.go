package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		Name:      "test",
		Attempts:  3,
		BaseDelay: time.Millisecond,
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	sentinel := errors.New("still broken")
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		Name:      "test",
		Attempts:  4,
		BaseDelay: time.Millisecond,
	}, func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry: got %v, want %v", err, sentinel)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestRetryPredicateStopsEarly(t *testing.T) {
	fatal := errors.New("bad input")
	calls := 0
	err := Retry(context.Background(), RetryConfig{
		Name:      "test",
		Attempts:  5,
		BaseDelay: time.Millisecond,
		RetryIf:   func(err error) bool { return !errors.Is(err, fatal) },
	}, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Retry: got %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{
		Name:      "test",
		Attempts:  10,
		BaseDelay: 50 * time.Millisecond,
	}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry: got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	cfg.applyDefaults()
	for n := 1; n <= 12; n++ {
		d := backoff(cfg, n)
		if d > time.Duration(float64(cfg.MaxDelay)*1.25) {
			t.Fatalf("backoff(%d) = %v exceeds cap", n, d)
		}
		if d <= 0 {
			t.Fatalf("backoff(%d) = %v, want positive", n, d)
		}
	}
}
