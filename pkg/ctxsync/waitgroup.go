package ctxsync

import (
	"context"
	"sync"
)

// WaitGroup waits for a collection of goroutines to finish, like
// [sync.WaitGroup], but waiting can be abandoned through a [context.Context].
type WaitGroup struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

// NewWaitGroup returns a WaitGroup with a zero counter.
func NewWaitGroup() *WaitGroup {
	zero := make(chan struct{})
	close(zero)
	return &WaitGroup{zero: zero}
}

// Add adds delta to the counter. Waiters are released when it reaches zero.
// A negative counter panics.
func (wg *WaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	if wg.n == 0 && delta > 0 {
		wg.zero = make(chan struct{})
	}
	wg.n += delta
	switch {
	case wg.n < 0:
		panic("ctxsync: negative WaitGroup counter")
	case wg.n == 0 && delta < 0:
		close(wg.zero)
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait blocks until the counter is zero.
func (wg *WaitGroup) Wait() {
	_ = wg.WaitWithContext(context.Background())
}

// WaitWithContext blocks until the counter is zero or ctx is done.
func (wg *WaitGroup) WaitWithContext(ctx context.Context) error {
	wg.mu.Lock()
	zero := wg.zero
	wg.mu.Unlock()
	select {
	case <-zero:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
