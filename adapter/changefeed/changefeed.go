// Package changefeed keeps the change listeners registered per namespace and
// delivers published change events to them.
package changefeed

import (
	"context"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/ctxsync"
)

type subscription struct {
	id       uint64
	listener domain.ChangeListener
}

// Feed delivers change events to the listeners watching their namespace.
// Listeners registered on a database-level namespace receive the events of
// every collection in that database.
type Feed struct {
	mu     *ctxsync.Mutex
	subs   map[domain.Namespace][]subscription
	nextID uint64
}

// NewFeed returns an empty [Feed].
func NewFeed() *Feed {
	return &Feed{
		mu:   ctxsync.NewMutex(),
		subs: make(map[domain.Namespace][]subscription),
	}
}

// Watch registers listener for ns and returns a function that removes it.
// Calling the returned function more than once has no effect.
func (f *Feed) Watch(ns domain.Namespace, listener domain.ChangeListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs[ns] = append(f.subs[ns], subscription{id: id, listener: listener})
	return func() { f.unwatch(ns, id) }
}

func (f *Feed) unwatch(ns domain.Namespace, id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[ns]
	for n, sub := range subs {
		if sub.id == id {
			subs = append(subs[:n:n], subs[n+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(f.subs, ns)
		return
	}
	f.subs[ns] = subs
}

// Watching reports whether any listener would receive events of ns.
func (f *Feed) Watching(ns domain.Namespace) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[ns])+len(f.subs[domain.NewNamespace(ns.DB, "")]) > 0
}

// Publish delivers changes in order. Listeners run on the calling goroutine,
// outside the feed lock, so they may publish or watch themselves.
func (f *Feed) Publish(ctx context.Context, changes ...domain.ChangeStreamDocument) error {
	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		listeners, err := f.listeners(ctx, change.Ns)
		if err != nil {
			return err
		}
		for _, l := range listeners {
			l(ctx, change)
		}
	}
	return nil
}

func (f *Feed) listeners(ctx context.Context, ns domain.Namespace) ([]domain.ChangeListener, error) {
	if err := f.mu.LockWithContext(ctx); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	var res []domain.ChangeListener
	for _, sub := range f.subs[ns] {
		res = append(res, sub.listener)
	}
	if !ns.IsDatabase() {
		for _, sub := range f.subs[domain.NewNamespace(ns.DB, "")] {
			res = append(res, sub.listener)
		}
	}
	return res, nil
}
