package ctxsync

import (
	"context"
	"sync"
)

// Cond is a condition variable whose waits can be abandoned through a
// [context.Context]. L must be held when changing the condition and when
// calling [Cond.WaitWithContext].
type Cond struct {
	L sync.Locker

	mu sync.Mutex
	ch chan struct{}
}

// NewCond returns a new Cond with Locker l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l, ch: make(chan struct{})}
}

// Wait is WaitWithContext without cancellation.
func (c *Cond) Wait() {
	_ = c.WaitWithContext(context.Background())
}

// WaitWithContext releases c.L and blocks until [Cond.Broadcast] is called or
// ctx is done. c.L is locked again before returning, even on cancellation.
// Callers should check the condition in a loop.
func (c *Cond) WaitWithContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	c.L.Unlock()
	defer c.L.Lock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Broadcast wakes every waiting goroutine. The caller does not need to hold
// c.L.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.ch)
	c.ch = make(chan struct{})
}
