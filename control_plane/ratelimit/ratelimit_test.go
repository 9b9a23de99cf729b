package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	l := NewSlidingWindowLimiter()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.Allow(ctx, "agent-1", 10, time.Minute)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("Request %d should have been admitted", i+1)
		}
	}

	d, _ := l.Allow(ctx, "agent-1", 10, time.Minute)
	if d.Allowed {
		t.Error("11th request within the window should be denied")
	}
	if d.Limit != 10 || d.Window != time.Minute {
		t.Errorf("Denial must echo the policy, got limit=%d window=%v", d.Limit, d.Window)
	}
}

func TestSlidingWindowIsPerKey(t *testing.T) {
	l := NewSlidingWindowLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Allow(ctx, "agent-a", 5, time.Minute)
	}
	if d, _ := l.Allow(ctx, "agent-a", 5, time.Minute); d.Allowed {
		t.Error("agent-a should be exhausted")
	}
	if d, _ := l.Allow(ctx, "agent-b", 5, time.Minute); !d.Allowed {
		t.Error("agent-b has its own window and should be admitted")
	}
}

func TestSlidingWindowExpiry(t *testing.T) {
	l := NewSlidingWindowLimiter()
	ctx := context.Background()

	// Control the clock instead of sleeping.
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "agent-1", 3, time.Minute)
	}
	if d, _ := l.Allow(ctx, "agent-1", 3, time.Minute); d.Allowed {
		t.Fatal("Window should be full")
	}

	// Advance past the window: old instants fall out.
	now = now.Add(61 * time.Second)
	d, _ := l.Allow(ctx, "agent-1", 3, time.Minute)
	if !d.Allowed {
		t.Error("Request after window expiry should be admitted")
	}
	if d.Remaining != 2 {
		t.Errorf("Expected 2 remaining after readmission, got %d", d.Remaining)
	}
}

func TestSlidingWindowConcurrency(t *testing.T) {
	l := NewSlidingWindowLimiter()
	ctx := context.Background()

	const workers = 50
	admitted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		go func() {
			d, _ := l.Allow(ctx, "hot-key", 10, time.Minute)
			admitted <- d.Allowed
		}()
	}

	count := 0
	for i := 0; i < workers; i++ {
		if <-admitted {
			count++
		}
	}
	if count != 10 {
		t.Errorf("Exactly 10 of %d concurrent requests should be admitted, got %d", workers, count)
	}
}
