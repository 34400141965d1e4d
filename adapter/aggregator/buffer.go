package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// buffer holds the contents of the foreign collections of one execution. It
// is private to that execution.
type buffer struct {
	mu   sync.Mutex
	docs map[domain.Namespace][]domain.Document
}

// Get returns the buffered contents of ns.
func (b *buffer) Get(ns domain.Namespace) ([]domain.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs, ok := b.docs[ns]
	if !ok {
		return nil, domain.ErrUnresolvedCollection{Stage: ns.String()}
	}
	return docs, nil
}

func (b *buffer) put(ns domain.Namespace, docs []domain.Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[ns] = docs
}

// loadBuffer reads every namespace into memory. Reads run on the pool when
// one is configured.
func (a *Aggregator) loadBuffer(ctx context.Context, namespaces []domain.Namespace) (*buffer, error) {
	buf := &buffer{docs: make(map[domain.Namespace][]domain.Document, len(namespaces))}
	if len(namespaces) == 0 {
		return buf, nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	load := func(ns domain.Namespace) {
		defer wg.Done()
		docs, err := a.readAll(ctx, ns)
		if err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("reading %s: %w", ns, err))
			mu.Unlock()
			return
		}
		buf.put(ns, docs)
	}

	for _, ns := range namespaces {
		wg.Add(1)
		if a.pool == nil {
			load(ns)
			continue
		}
		if err := a.pool.Submit(func() { load(ns) }); err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return buf, nil
}

func (a *Aggregator) readAll(ctx context.Context, ns domain.Namespace) ([]domain.Document, error) {
	seq, err := a.store.Read(ctx, ns, domain.ReadOptions{})
	if err != nil {
		return nil, err
	}
	return cursor.Collect(ctx, seq)
}

func newPool(workers int, log domain.Logger) (*ants.Pool, error) {
	return ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		log.Error("collection buffer worker panic", "panic", v)
	}))
}
