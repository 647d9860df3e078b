package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectWithBackoff_SucceedsOnFirstTry(t *testing.T) {
	calls := 0
	v, err := ConnectWithBackoff(context.Background(), RetryConfig{BaseDelay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 42, nil
		}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("v = %d, want 42", v)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestConnectWithBackoff_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	cleanupCalls := 0
	v, err := ConnectWithBackoff(context.Background(),
		RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 1.5},
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("not yet")
			}
			return "ok", nil
		},
		func(error) { cleanupCalls++ },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("v = %q, want ok", v)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if cleanupCalls != 2 {
		t.Errorf("cleanupCalls = %d, want 2", cleanupCalls)
	}
}

func TestConnectWithBackoff_ExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("boom")
	calls := 0
	_, err := ConnectWithBackoff(context.Background(),
		RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, wantErr
		}, nil)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error chain does not contain %v: %v", wantErr, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestConnectWithBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := ConnectWithBackoff(ctx, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("should not be reached after cancel")
		}, nil)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if calls > 1 {
		t.Errorf("calls = %d, want at most 1 for an already-cancelled context", calls)
	}
}
