// Package controller contains the command handlers of the engine, grouped by
// concern: [Read] serves queries, [Write] serves insert, update and delete, and
// [Admin] manages collections. Each controller is a [command.Controller].
package controller

import (
	"context"
	"fmt"
	"iter"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/command"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/planner"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/projector"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/querier"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

// Read serves find, aggregate, count and distinct.
type Read struct {
	config
	store      domain.Store
	aggregator domain.Aggregator
}

// NewRead returns a [Read] controller querying store and running pipelines
// through agg.
func NewRead(store domain.Store, agg domain.Aggregator, opts ...Option) *Read {
	return &Read{
		config:     newConfig("read", opts),
		store:      store,
		aggregator: agg,
	}
}

// Commands implements [command.Controller].
func (r *Read) Commands() map[string]command.Handler {
	return map[string]command.Handler{
		"find":      r.find,
		"aggregate": r.aggregate,
		"count":     r.count,
		"distinct":  r.distinct,
	}
}

type findCommand struct {
	Filter      domain.Document `aggdb:"filter"`
	Sort        domain.Document `aggdb:"sort"`
	Projection  domain.Document `aggdb:"projection"`
	Skip        int64           `aggdb:"skip"`
	Limit       int64           `aggdb:"limit"`
	BatchSize   int             `aggdb:"batchSize"`
	SingleBatch bool            `aggdb:"singleBatch"`
}

func (c *findCommand) readOptions() (domain.ReadOptions, error) {
	opts := domain.ReadOptions{Filter: c.Filter}
	if c.Skip < 0 {
		return opts, fmt.Errorf("%w: negative skip", domain.ErrInvalidCommand)
	}
	opts.Skip = c.Skip
	opts.Limit = max(c.Limit, -c.Limit)
	if c.Sort != nil {
		sort, err := querier.ParseSort(c.Sort)
		if err != nil {
			return opts, err
		}
		opts.Sort = sort
	}
	if c.Projection != nil && c.Projection.Len() > 0 {
		proj, ok := projector.ParseProjection(c.Projection)
		if !ok {
			return opts, fmt.Errorf("%w: unsupported projection", domain.ErrInvalidCommand)
		}
		opts.Projection = proj
	}
	return opts, nil
}

func (r *Read) find(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c findCommand
	if err := r.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	opts, err := c.readOptions()
	if err != nil {
		return nil, err
	}
	seq, err := r.store.Read(ctx, ns, opts)
	if err != nil {
		return nil, err
	}
	// a negative limit asks for a single batch
	if c.SingleBatch || c.Limit < 0 {
		return r.single(ctx, ns, seq, c.BatchSize)
	}
	return r.open(ctx, ns, seq, c.BatchSize)
}

func (r *Read) size(n int) int {
	if n <= 0 {
		return r.batchSize
	}
	return n
}

func (r *Read) open(ctx context.Context, ns domain.Namespace, seq iter.Seq2[domain.Document, error], size int) (domain.Document, error) {
	batch, id, err := r.cursors.Open(ctx, ns, seq, r.size(size))
	if err != nil {
		return nil, err
	}
	return command.CursorReply(ns, "firstBatch", batch, id), nil
}

func (r *Read) single(ctx context.Context, ns domain.Namespace, seq iter.Seq2[domain.Document, error], size int) (domain.Document, error) {
	cur := cursor.NewCursor(0, ns, seq)
	defer cur.Close()
	batch, err := cur.NextBatch(ctx, r.size(size))
	if err != nil {
		return nil, err
	}
	return command.CursorReply(ns, "firstBatch", batch, 0), nil
}

type aggregateCommand struct {
	Pipeline []any `aggdb:"pipeline"`
	Cursor   struct {
		BatchSize int `aggdb:"batchSize"`
	} `aggdb:"cursor"`
}

func (r *Read) aggregate(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c aggregateCommand
	if err := r.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	stages, err := planner.Stages(c.Pipeline)
	if err != nil {
		return nil, err
	}
	seq, err := r.aggregator.Aggregate(ctx, ns, stages)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, ns, seq, c.Cursor.BatchSize)
}

type countCommand struct {
	Query domain.Document `aggdb:"query"`
	Skip  int64           `aggdb:"skip"`
	Limit int64           `aggdb:"limit"`
}

func (r *Read) count(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c countCommand
	if err := r.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	find := findCommand{Filter: c.Query, Skip: c.Skip, Limit: c.Limit}
	opts, err := find.readOptions()
	if err != nil {
		return nil, err
	}
	seq, err := r.store.Read(ctx, ns, opts)
	if err != nil {
		return nil, err
	}
	var n int64
	for _, err := range seq {
		if err != nil {
			return nil, err
		}
		n++
	}
	return command.OK(r.newDoc("n", n)), nil
}

type distinctCommand struct {
	Key   string          `aggdb:"key"`
	Query domain.Document `aggdb:"query"`
}

func (r *Read) distinct(ctx context.Context, ns domain.Namespace, cmd domain.Document) (domain.Document, error) {
	var c distinctCommand
	if err := r.decoder.Decode(cmd, &c); err != nil {
		return nil, err
	}
	if c.Key == "" {
		return nil, fmt.Errorf("%w: distinct requires a key", domain.ErrInvalidCommand)
	}
	addr, err := r.fieldNavigator.GetAddress(c.Key)
	if err != nil {
		return nil, err
	}
	seq, err := r.store.Read(ctx, ns, domain.ReadOptions{Filter: c.Query})
	if err != nil {
		return nil, err
	}

	seen := uncomparable.New[struct{}](r.hasher, r.comparer)
	values := make([]any, 0)
	add := func(v any) error {
		ok, err := seen.Has(v)
		if err != nil || ok {
			return err
		}
		values = append(values, v)
		return seen.Set(v, struct{}{})
	}
	for doc, err := range seq {
		if err != nil {
			return nil, err
		}
		fields, _, err := r.fieldNavigator.GetField(doc, addr...)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			v, defined := f.Get()
			if !defined {
				continue
			}
			list, isList := v.([]any)
			if !isList {
				list = []any{v}
			}
			for _, item := range list {
				if err := add(item); err != nil {
					return nil, err
				}
			}
		}
	}
	return command.OK(r.newDoc("values", values)), nil
}

func (c *config) newDoc(key string, value any) domain.Document {
	doc, _ := c.docFac(nil)
	doc.Set(key, value)
	return doc
}
