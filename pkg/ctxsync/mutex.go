// Package ctxsync contains synchronization primitives whose blocking
// operations can be abandoned through a [context.Context].
package ctxsync

import (
	"context"
)

// NewMutex creates a new unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{sema: make(chan struct{}, 1)}
}

// A Mutex is a mutual exclusion lock. The zero value is not usable; create
// instances with [NewMutex].
type Mutex struct {
	sema chan struct{}
}

// Lock locks m, waiting as long as needed.
func (m *Mutex) Lock() {
	m.sema <- struct{}{}
}

// LockWithContext locks m or returns the context error if ctx is done first.
// An already done context never acquires the lock.
func (m *Mutex) LockWithContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.sema <- struct{}{}:
		return nil
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool {
	select {
	case m.sema <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock unlocks m. Unlocking an unlocked mutex panics.
func (m *Mutex) Unlock() {
	select {
	case <-m.sema:
	default:
		panic("ctxsync: unlock of unlocked mutex")
	}
}
