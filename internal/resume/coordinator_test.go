package resume

import (
	"context"
	"testing"
	"time"
)

func TestCoordinator_SuspendsBelowGrace(t *testing.T) {
	t.Parallel()

	remaining := 2 * time.Minute
	c := NewCoordinator(BudgetFunc(func() time.Duration { return remaining }), time.Minute)

	if c.Check() {
		t.Fatal("Check = true with budget above grace")
	}
	if c.State() != Running {
		t.Fatalf("state = %s, want running", c.State())
	}

	remaining = 59 * time.Second
	if !c.Check() {
		t.Fatal("Check = false with budget below grace")
	}

	remaining = time.Hour
	if !c.Check() || c.State() != Suspending {
		t.Fatal("coordinator left the suspending state")
	}
}

func TestCoordinator_DefaultGrace(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(BudgetFunc(func() time.Duration { return 61 * time.Second }), 0)
	if c.Check() {
		t.Fatal("suspended with 61s left and the default 60s grace")
	}
}

func TestDeadlineBudget(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	b := DeadlineBudget(now.Add(90*time.Second), func() time.Time { return now })
	if got := b.Remaining(); got != 90*time.Second {
		t.Fatalf("Remaining = %v, want 90s", got)
	}
}

func TestContextBudget(t *testing.T) {
	t.Parallel()

	if got := ContextBudget(context.Background()).Remaining(); got < 24*time.Hour {
		t.Fatalf("Remaining without deadline = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if got := ContextBudget(ctx).Remaining(); got > 30*time.Second || got <= 0 {
		t.Fatalf("Remaining with 30s deadline = %v", got)
	}
}
