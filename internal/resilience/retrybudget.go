package resilience

import (
	"sync"
	"time"
)

// RetryBudget caps how many retries the whole process may issue inside a
// fixed window, so a provider outage cannot amplify into a retry storm.
// First attempts are never charged against the budget, only retries.
type RetryBudget struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	remaining   int
	windowStart time.Time
	now         func() time.Time
}

// NewRetryBudget creates a budget of max retries per window.
func NewRetryBudget(max int, window time.Duration) *RetryBudget {
	return &RetryBudget{
		max:       max,
		window:    window,
		remaining: max,
		now:       time.Now,
	}
}

// DefaultRetryBudget returns the production budget: 20 retries per minute.
func DefaultRetryBudget() *RetryBudget {
	return NewRetryBudget(20, time.Minute)
}

// Allow consumes one retry token. It returns false when the budget for the
// current window is spent; the caller must then surface the original error
// instead of retrying.
func (b *RetryBudget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.remaining = b.max
	}

	if b.remaining <= 0 {
		return false
	}

	b.remaining--
	return true
}

// Remaining reports the tokens left in the current window.
func (b *RetryBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.windowStart.IsZero() && b.now().Sub(b.windowStart) >= b.window {
		return b.max
	}
	return b.remaining
}
