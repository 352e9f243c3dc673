package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"non-transient", errors.New("syntax error"), false},
		{"constraint text", errors.New("UNIQUE constraint failed: events.run_id"), false},
		{"database is locked", errors.New("database is locked"), true},
		{"database table is locked", errors.New("database table is locked"), true},
		{"busy text", errors.New("exec: SQLITE_BUSY"), true},
		{"wrapped locked", fmt.Errorf("insert event P1#1: %w", errors.New("database is locked (5)")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

var fastRetry = retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}

func TestRetryOpSucceedsImmediately(t *testing.T) {
	calls := 0
	err := retryOp(fastRetry, func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d, want nil/1", err, calls)
	}
}

func TestRetryOpNonTransientErrorNoRetry(t *testing.T) {
	calls := 0
	permanent := errors.New("no such table: runs")
	err := retryOp(fastRetry, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("got %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry for non-transient)", calls)
	}
}

func TestRetryOpRetriesOnTransientError(t *testing.T) {
	calls := 0
	err := retryOp(fastRetry, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryOpGivesUp(t *testing.T) {
	calls := 0
	err := retryOp(fastRetry, func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != fastRetry.maxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, fastRetry.maxRetries+1)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	cfg := retryConfig{maxRetries: 10, baseDelay: 10 * time.Millisecond, maxDelay: 50 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		if d < cfg.baseDelay {
			t.Fatalf("attempt %d: delay %v below base %v", attempt, d, cfg.baseDelay)
		}
		if d >= cfg.maxDelay+cfg.baseDelay {
			t.Fatalf("attempt %d: delay %v exceeds cap %v + jitter", attempt, d, cfg.maxDelay)
		}
	}
}
