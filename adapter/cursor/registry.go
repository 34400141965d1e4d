package cursor

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// Registry keeps open cursors by id. Cursors are removed as soon as they are
// exhausted, closed or fail.
type Registry struct {
	mu      sync.Mutex
	cursors map[int64]domain.Cursor
	lastID  int64
	log     domain.Logger
}

// NewRegistry returns an empty [Registry].
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		cursors: make(map[int64]domain.Cursor),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open reads the first batch of data. If the source has more documents, a
// cursor is registered and its id returned; otherwise the id is zero.
func (r *Registry) Open(ctx context.Context, ns domain.Namespace, data iter.Seq2[domain.Document, error], batchSize int) ([]domain.Document, int64, error) {
	r.mu.Lock()
	r.lastID++
	id := r.lastID
	r.mu.Unlock()

	cur := NewCursor(id, ns, data)
	batch, err := cur.NextBatch(ctx, batchSize)
	if err != nil {
		_ = cur.Close()
		return nil, 0, err
	}
	if cur.Exhausted() {
		return batch, 0, nil
	}

	r.mu.Lock()
	r.cursors[id] = cur
	r.mu.Unlock()
	r.log.Debug("cursor opened", "id", id, "ns", ns.String())
	return batch, id, nil
}

// GetMore reads the next batch of cursor id, which must have been opened on
// ns. A cursor asked for by another namespace is left untouched.
func (r *Registry) GetMore(ctx context.Context, ns domain.Namespace, id int64, batchSize int) ([]domain.Document, domain.Cursor, error) {
	r.mu.Lock()
	cur, ok := r.cursors[id]
	r.mu.Unlock()
	if !ok {
		return nil, nil, domain.ErrInvalidCursor{ID: id}
	}
	if cur.Namespace() != ns {
		return nil, nil, fmt.Errorf("%w: opened on %s, not %s", domain.ErrInvalidCursor{ID: id}, cur.Namespace(), ns)
	}

	batch, err := cur.NextBatch(ctx, batchSize)
	if err != nil {
		r.remove(id)
		_ = cur.Close()
		return nil, nil, err
	}
	if cur.Exhausted() {
		r.remove(id)
		r.log.Debug("cursor exhausted", "id", id)
	}
	return batch, cur, nil
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, id)
}

// Kill closes the given cursors, reporting which ids were open.
func (r *Registry) Kill(ids ...int64) (killed []int64, unknown []int64) {
	killed, unknown = make([]int64, 0), make([]int64, 0)
	for _, id := range ids {
		r.mu.Lock()
		cur, ok := r.cursors[id]
		delete(r.cursors, id)
		r.mu.Unlock()
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		_ = cur.Close()
		killed = append(killed, id)
		r.log.Debug("cursor closed", "id", id)
	}
	return killed, unknown
}

// Len returns the number of open cursors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cursors)
}

// Close closes every open cursor.
func (r *Registry) Close() {
	r.mu.Lock()
	cursors := r.cursors
	r.cursors = make(map[int64]domain.Cursor)
	r.mu.Unlock()
	for _, cur := range cursors {
		_ = cur.Close()
	}
}
