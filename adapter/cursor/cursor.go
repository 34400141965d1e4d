// Package cursor contains the default [domain.Cursor] implementation and the
// registry that keeps cursors alive between getMore calls.
package cursor

import (
	"context"
	"iter"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// Cursor implements domain.Cursor over a pull iterator. It is not safe for
// concurrent use.
type Cursor struct {
	id        int64
	ns        domain.Namespace
	next      func() (domain.Document, error, bool)
	stop      func()
	ctx       context.Context
	cancel    context.CancelCauseFunc
	exhausted bool
}

// NewCursor returns a cursor reading from data. The source is only advanced by
// [Cursor.NextBatch].
func NewCursor(id int64, ns domain.Namespace, data iter.Seq2[domain.Document, error]) *Cursor {
	if data == nil {
		data = Seq(nil)
	}
	next, stop := iter.Pull2(data)
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Cursor{
		id:     id,
		ns:     ns,
		next:   next,
		stop:   stop,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID implements domain.Cursor.
func (c *Cursor) ID() int64 { return c.id }

// Namespace implements domain.Cursor.
func (c *Cursor) Namespace() domain.Namespace { return c.ns }

// Exhausted implements domain.Cursor.
func (c *Cursor) Exhausted() bool { return c.exhausted }

// Err returns the reason the cursor stopped, if any.
func (c *Cursor) Err() error {
	return context.Cause(c.ctx)
}

// NextBatch implements domain.Cursor. A source error closes the cursor.
func (c *Cursor) NextBatch(ctx context.Context, size int) ([]domain.Document, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	if c.exhausted {
		return nil, domain.ErrCursorClosed
	}

	res := make([]domain.Document, 0, max(min(size, 1024), 0))
	for size < 1 || len(res) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err, ok := c.next()
		if !ok {
			c.exhausted = true
			c.stop()
			break
		}
		if err != nil {
			c.stop()
			c.cancel(err)
			return nil, err
		}
		res = append(res, doc)
	}
	return res, nil
}

// Close implements domain.Cursor.
func (c *Cursor) Close() error {
	if err := c.Err(); err != nil {
		return err
	}
	c.stop()
	c.cancel(domain.ErrCursorClosed)
	return nil
}

// Seq returns a sequence over docs.
func Seq(docs []domain.Document) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// Collect reads the whole sequence into a slice.
func Collect(ctx context.Context, data iter.Seq2[domain.Document, error]) ([]domain.Document, error) {
	res := make([]domain.Document, 0)
	if data == nil {
		return res, nil
	}
	for doc, err := range data {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, nil
}
