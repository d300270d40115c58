package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned by Use once the daily budget is spent.
var ErrBudgetExhausted = errors.New("ratelimit: daily budget exhausted")

// Budget caps requests to a paid API per 24 hours.
type Budget struct {
	mu        sync.Mutex
	name      string
	count     int
	max       int
	resetTime time.Time
	now       func() time.Time
}

// NewBudget allows max requests per day. max <= 0 means unlimited.
func NewBudget(name string, max int) *Budget {
	return NewBudgetWithClock(name, max, time.Now)
}

// NewBudgetWithClock is NewBudget with an injected time source.
func NewBudgetWithClock(name string, max int, now func() time.Time) *Budget {
	return &Budget{
		name:      name,
		max:       max,
		now:       now,
		resetTime: now().Add(24 * time.Hour), // Reset daily
	}
}

// CanUse reports whether another request fits in the budget.
func (b *Budget) CanUse() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	return b.max <= 0 || b.count < b.max
}

// Use spends one request.
func (b *Budget) Use() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if b.max > 0 && b.count >= b.max {
		slog.Warn("rate limit reached", "api", b.name, "used", b.count, "max", b.max)
		return fmt.Errorf("%w: %s", ErrBudgetExhausted, b.name)
	}

	b.count++
	slog.Debug("api usage", "api", b.name, "used", b.count, "max", b.max)
	return nil
}

// Used returns requests spent since the last reset.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkReset()
	return b.count
}

func (b *Budget) checkReset() {
	if now := b.now(); !now.Before(b.resetTime) {
		b.count = 0
		b.resetTime = now.Add(24 * time.Hour)
	}
}
