package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	config := Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Do(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	config := Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Do(context.Background(), config, func() error {
		calls++
		return fmt.Errorf("always fails")
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	// MaxRetries=2 means 1 initial try + 2 retries
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	config := Config{MaxRetries: 100, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, config, func() error {
		return fmt.Errorf("failing")
	})
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
}

func TestPoll_WaitsForCondition(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return ErrNotReady
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestPoll_BoundedAttempts(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), 4, time.Millisecond, func() error {
		calls++
		return ErrNotReady
	})
	if err == nil {
		t.Fatal("Expected error after attempts exhausted")
	}
	if calls != 4 {
		t.Errorf("Expected exactly 4 attempts, got %d", calls)
	}
}

func TestPoll_PermanentErrorAbortsEarly(t *testing.T) {
	permanent := errors.New("instance entered error state")
	calls := 0
	err := Poll(context.Background(), 10, time.Millisecond, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Expected permanent error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Permanent error must stop polling, got %d calls", calls)
	}
}

func TestPoll_WrappedNotReadyKeepsPolling(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return fmt.Errorf("%w: still booting", ErrNotReady)
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 3 {
		t.Errorf("Wrapped ErrNotReady must keep polling, got %d calls", calls)
	}
}
