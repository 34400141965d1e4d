package ctxsync_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vinicius-lino-figueiredo/aggdb/pkg/ctxsync"
)

// Every waiter should see the condition once it is broadcast.
func TestCondBroadcast(t *testing.T) {
	var mu sync.Mutex
	c := ctxsync.NewCond(&mu)
	ready := false
	woke := make(chan struct{}, 3)

	for range 3 {
		go func() {
			mu.Lock()
			defer mu.Unlock()
			for !ready {
				c.Wait()
			}
			woke <- struct{}{}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, woke)

	mu.Lock()
	ready = true
	mu.Unlock()
	c.Broadcast()

	for range 3 {
		select {
		case <-woke:
		case <-time.After(time.Second):
			t.Fatal("waiter not woken")
		}
	}
}

// A canceled wait returns the context error holding the lock again.
func TestCondCancel(t *testing.T) {
	mu := ctxsync.NewMutex()
	c := ctxsync.NewCond(mu)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	mu.Lock()
	err := c.WaitWithContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, mu.TryLock())
	mu.Unlock()

	mu.Lock()
	assert.ErrorIs(t, c.WaitWithContext(ctx), context.DeadlineExceeded)
	mu.Unlock()
}

func TestWaitGroup(t *testing.T) {
	wg := ctxsync.NewWaitGroup()
	wg.Wait()

	wg.Add(2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, wg.WaitWithContext(ctx), context.DeadlineExceeded)

	go wg.Done()
	go wg.Done()
	assert.NoError(t, wg.WaitWithContext(context.Background()))

	assert.Panics(t, wg.Done)
}
