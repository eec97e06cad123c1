// Package completion provides a counting wait/signal object.
//
// A Completion is owned by the code that waits on it. Each Done call
// records one signal; each successful Wait consumes one.
package completion

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/camhal/internal/errors"
)

// Completion is a condition-variable backed signal counter.
type Completion struct {
	mu      sync.Mutex
	cond    *sync.Cond
	signals int
}

// New returns a completion with no pending signals.
func New() *Completion {
	c := &Completion{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Done records one signal and wakes waiters.
func (c *Completion) Done() {
	c.mu.Lock()
	c.signals++
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Pending returns the number of unconsumed signals.
func (c *Completion) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signals
}

// Reset drops unconsumed signals.
func (c *Completion) Reset() {
	c.mu.Lock()
	c.signals = 0
	c.mu.Unlock()
}

// Wait blocks until one signal is available or ctx ends.
func (c *Completion) Wait(ctx context.Context) error {
	return c.WaitN(ctx, 1)
}

// WaitN blocks until n signals are available and consumes them. On
// cancellation nothing is consumed.
func (c *Completion) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		// Take the lock so the broadcast cannot slip in between a
		// waiter's ctx check and its cond.Wait.
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.signals < n {
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Component("completion").
				Category(errors.CategoryTimeout).
				Context("wanted", n).
				Context("pending", c.signals).
				Build()
		}
		c.cond.Wait()
	}
	c.signals -= n
	return nil
}

// WaitTimeout is Wait bounded by a duration.
func (c *Completion) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Wait(ctx)
}
