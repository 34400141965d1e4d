package cache

import (
	"context"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// Cursor reads through a [Store]. A read that is not covered by the mirror
// fills it from the backing store, and every answer comes from the mirror.
type Cursor struct {
	store *Store
	ns    domain.Namespace
	opts  domain.ReadOptions
}

// ToArray returns every matching document.
func (c *Cursor) ToArray(ctx context.Context) ([]domain.Document, error) {
	docs, err := c.store.query(ctx, c.ns, c.opts)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = make([]domain.Document, 0)
	}
	return docs, nil
}

// Count returns the number of matching documents.
func (c *Cursor) Count(ctx context.Context) (int, error) {
	docs, err := c.store.query(ctx, c.ns, c.opts)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
