// Package command dispatches command documents to the handlers contributed by
// controllers. The runner itself only serves the cursor protocol (getMore and
// killCursors); every other verb comes from a [Controller].
package command

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/decoder"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// DefaultBatchSize is the number of documents returned by cursor commands
// that do not set a batch size.
const DefaultBatchSize = 101

// Handler executes one command. ns is the database the command was sent to,
// with the collection named by the command value when it is a string.
type Handler func(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error)

// Controller contributes command handlers to a [Runner].
type Controller interface {
	// Commands returns handlers by command name.
	Commands() map[string]Handler
}

// Runner implements command dispatch.
type Runner struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	controllers []Controller
	cursors     *cursor.Registry
	decoder     domain.Decoder
	batchSize   int
	log         domain.Logger
}

// NewRunner returns a [Runner] serving getMore, killCursors and the commands
// of the given controllers.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		handlers:  make(map[string]Handler),
		decoder:   decoder.NewDecoder(),
		batchSize: DefaultBatchSize,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Scope("command")
	if r.cursors == nil {
		r.cursors = cursor.NewRegistry(cursor.WithLogger(r.log))
	}
	r.handlers["getMore"] = r.getMore
	r.handlers["killCursors"] = r.killCursors
	for _, c := range r.controllers {
		r.Register(c)
	}
	return r
}

// Cursors returns the registry shared with the controllers.
func (r *Runner) Cursors() *cursor.Registry {
	return r.cursors
}

// Register adds the handlers of c, replacing handlers with the same name.
func (r *Runner) Register(c Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, h := range c.Commands() {
		r.handlers[name] = h
	}
}

// Handle adds a single handler.
func (r *Runner) Handle(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Commands returns the registered command names, sorted.
func (r *Runner) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}

// Command runs cmd against the database of ns. The operation is the first key
// of ordered documents and the only registered key of unordered ones.
func (r *Runner) Command(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	name, h, err := r.resolve(cmd)
	if err != nil {
		r.log.Warn("rejected command", "db", ns.DB, "error", err)
		return nil, err
	}
	target := domain.NewNamespace(ns.DB, "")
	if coll, ok := cmd.Get(name).(string); ok {
		target.Collection = coll
	}
	r.log.Debug("running command", "name", name, "ns", target.String())
	res, err := h(ctx, target, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

func (r *Runner) resolve(cmd domain.Document) (string, Handler, error) {
	if cmd == nil || cmd.Len() == 0 {
		return "", nil, domain.ErrInvalidCommand
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ordered := cmd.(*data.D); ordered {
		name, _ := data.FirstKey(cmd)
		h, ok := r.handlers[name]
		if !ok {
			return "", nil, domain.ErrCommandNotSupported{Name: name}
		}
		return name, h, nil
	}

	var found []string
	for k := range cmd.Keys() {
		if _, ok := r.handlers[k]; ok {
			found = append(found, k)
		}
	}
	switch len(found) {
	case 1:
		return found[0], r.handlers[found[0]], nil
	case 0:
		keys := slices.Sorted(cmd.Keys())
		return "", nil, domain.ErrCommandNotSupported{Name: keys[0]}
	default:
		slices.Sort(found)
		return "", nil, fmt.Errorf("%w: ambiguous operation %v", domain.ErrInvalidCommand, found)
	}
}

type getMoreCommand struct {
	ID         int64  `aggdb:"getMore"`
	Collection string `aggdb:"collection"`
	BatchSize  int    `aggdb:"batchSize"`
}

func (r *Runner) getMore(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c getMoreCommand
	if err := r.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	size := c.BatchSize
	if size <= 0 {
		size = r.batchSize
	}
	batch, cur, err := r.cursors.GetMore(ctx, domain.NewNamespace(ns.DB, c.Collection), c.ID, size)
	if err != nil {
		return nil, err
	}
	id := cur.ID()
	if cur.Exhausted() {
		id = 0
	}
	return CursorReply(cur.Namespace(), "nextBatch", batch, id), nil
}

type killCursorsCommand struct {
	Cursors []int64 `aggdb:"cursors"`
}

func (r *Runner) killCursors(_ context.Context, _ domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c killCursorsCommand
	if err := r.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	killed, unknown := r.cursors.Kill(c.Cursors...)
	return OK(data.M{
		"cursorsKilled":  Int64s(killed),
		"cursorsUnknown": Int64s(unknown),
	}), nil
}
