// Package resume decides when an invocation must stop pulling records and
// hands the unfinished work to the next invocation.
package resume

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/tinytelemetry/ferry/internal/model"
)

// State is the coordinator state.
type State int

const (
	Running State = iota
	Suspending
)

func (s State) String() string {
	if s == Suspending {
		return "suspending"
	}
	return "running"
}

// Budget reports how much wall-clock time the invocation has left.
type Budget interface {
	Remaining() time.Duration
}

// BudgetFunc adapts a function to Budget.
type BudgetFunc func() time.Duration

func (f BudgetFunc) Remaining() time.Duration { return f() }

// ContextBudget derives the remaining time from the deadline of ctx. A
// context without deadline never runs out.
func ContextBudget(ctx context.Context) Budget {
	deadline, ok := ctx.Deadline()
	if !ok {
		return BudgetFunc(func() time.Duration { return math.MaxInt64 })
	}
	return DeadlineBudget(deadline, nil)
}

// DeadlineBudget measures the time left until deadline using now
// (time.Now when nil).
func DeadlineBudget(deadline time.Time, now func() time.Time) Budget {
	if now == nil {
		now = time.Now
	}
	return BudgetFunc(func() time.Duration { return deadline.Sub(now()) })
}

// Coordinator moves from Running to Suspending once the remaining budget
// falls below the grace threshold. The transition is one-way.
type Coordinator struct {
	budget Budget
	grace  time.Duration
	state  State
}

// NewCoordinator returns a running coordinator. A non-positive grace selects
// model.DefaultGracePeriod.
func NewCoordinator(budget Budget, grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = model.DefaultGracePeriod
	}
	return &Coordinator{budget: budget, grace: grace}
}

// Check is called before pulling each record. It reports whether the caller
// must suspend.
func (c *Coordinator) Check() bool {
	if c.state == Suspending {
		return true
	}
	if remaining := c.budget.Remaining(); remaining < c.grace {
		log.Printf("resume: %s left, below grace period of %s; suspending", remaining.Round(time.Millisecond), c.grace)
		c.state = Suspending
		return true
	}
	return false
}

// State returns the current state.
func (c *Coordinator) State() State { return c.state }
