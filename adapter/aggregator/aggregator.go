// Package aggregator executes aggregation pipelines. Stages run as a chain of
// lazy sequences: streamable stages handle one document at a time and
// buffered stages drain their upstream first. Collections referenced by
// $lookup, $merge and $out are read into a per-execution buffer before the
// pipeline starts, and materialization targets are written back as the diff
// between their previous and new contents.
package aggregator

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/panjf2000/ants/v2"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/changeset"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/expression"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/idgenerator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/planner"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/projector"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/querier"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

// DefaultPrefetchWorkers is the default number of foreign collections read at
// the same time.
const DefaultPrefetchWorkers = 4

// ErrMaterialization is returned when the store rejects part of the changes
// of a $merge or $out stage. Changes before the first failure were applied
// and published.
type ErrMaterialization struct {
	Target      domain.Namespace
	WriteErrors []domain.WriteError
}

// Error implements [error].
func (e ErrMaterialization) Error() string {
	return fmt.Sprintf("writing to %s: %d changes failed, first: %s", e.Target, len(e.WriteErrors), e.WriteErrors[0].ErrMsg)
}

type sorter interface {
	Sort([]domain.Document, domain.Sort) error
}

// Aggregator implements [domain.Aggregator].
type Aggregator struct {
	store          domain.Store
	evaluator      *expression.Evaluator
	matcher        domain.Matcher
	projector      domain.Projector
	sorter         sorter
	comparer       domain.Comparer
	hasher         domain.Hasher
	fieldNavigator domain.FieldNavigator
	docFac         domain.DocumentFactory
	idGen          domain.IDGenerator
	publisher      domain.Publisher
	operators      map[string]OperatorFactory
	workers        int
	pool           *ants.Pool
	log            domain.Logger
}

// NewAggregator returns an [Aggregator] reading and writing through store.
// [Aggregator.Close] must be called to release the prefetch workers.
func NewAggregator(store domain.Store, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{
		store:     store,
		comparer:  comparer.NewComparer(),
		hasher:    hasher.NewHasher(),
		docFac:    data.NewDocument,
		idGen:     idgenerator.NewIDGenerator(),
		operators: make(map[string]OperatorFactory),
		workers:   DefaultPrefetchWorkers,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.Scope("aggregator")
	a.fieldNavigator = fieldnavigator.NewFieldNavigator(a.docFac)
	a.evaluator = expression.NewEvaluator(
		expression.WithComparer(a.comparer),
		expression.WithFieldNavigator(a.fieldNavigator),
		expression.WithHasher(a.hasher),
	)
	if a.matcher == nil {
		a.matcher = matcher.NewMatcher(
			matcher.WithComparer(a.comparer),
			matcher.WithFieldNavigator(a.fieldNavigator),
			matcher.WithEvaluator(a.evaluator),
		)
	}
	a.projector = projector.NewProjector(
		projector.WithDocumentFactory(a.docFac),
		projector.WithFieldNavigator(a.fieldNavigator),
	)
	a.sorter = querier.NewQuerier(
		querier.WithComparer(a.comparer),
		querier.WithFieldNavigator(a.fieldNavigator),
		querier.WithDocumentFactory(a.docFac),
		querier.WithMatcher(a.matcher),
	).(*querier.Querier)

	if a.workers > 0 {
		pool, err := newPool(a.workers, a.log)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}
	return a, nil
}

// Close releases the prefetch workers.
func (a *Aggregator) Close() {
	if a.pool != nil {
		a.pool.Release()
	}
}

// Validate compiles pipeline without running it.
func (a *Aggregator) Validate(ns domain.Namespace, pipeline []domain.Document) error {
	_, err := a.compile(ns, pipeline)
	return err
}

// Aggregate implements [domain.Aggregator]. Configuration errors such as
// unknown stages are returned before anything is read.
func (a *Aggregator) Aggregate(ctx context.Context, ns domain.Namespace, pipeline []domain.Document) (iter.Seq2[domain.Document, error], error) {
	plan, err := planner.CreatePlan(ns, pipeline)
	if err != nil {
		return nil, err
	}
	stages, err := a.compile(ns, plan.Remainder)
	if err != nil {
		return nil, err
	}
	a.log.Debug("plan",
		"ns", ns.String(),
		"folded", len(pipeline)-len(plan.Remainder),
		"remaining", len(plan.Remainder),
		"foreign", len(plan.ForeignCollections),
	)

	buf, err := a.loadBuffer(ctx, plan.ForeignCollections)
	if err != nil {
		return nil, err
	}
	source, err := a.store.Read(ctx, ns, plan.ReadOptions())
	if err != nil {
		return nil, err
	}

	if plan.Target == nil {
		// the result outlives the command when it is read by getMore
		r := a.newRun(context.WithoutCancel(ctx), buf, nil)
		return r.pipe(stages, source), nil
	}

	last := stages[len(stages)-1]
	r := a.newRun(ctx, buf, nil)
	results, err := cursor.Collect(ctx, r.pipe(stages[:len(stages)-1], source))
	if err != nil {
		return nil, err
	}
	if err := a.materialize(ctx, *plan.Target, last, results, buf); err != nil {
		return nil, err
	}
	return cursor.Seq(nil), nil
}

func (a *Aggregator) materialize(ctx context.Context, target domain.Namespace, st *stage, results []domain.Document, buf *buffer) error {
	snapshot, err := buf.Get(target)
	if err != nil {
		return err
	}

	var next []domain.Document
	if st.kind == KindOut {
		next, err = a.outState(results)
	} else {
		next, err = a.mergeState(st.merge, snapshot, results)
	}
	if err != nil {
		return err
	}
	buf.put(target, next)

	cs, err := changeset.New(next, snapshot,
		changeset.WithComparer(a.comparer),
		changeset.WithHasher(a.hasher),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", st.name, err)
	}
	changes := cs.Changes(target)
	a.log.Debug("materializing", "target", target.String(), "changes", len(changes))
	if len(changes) == 0 {
		return nil
	}

	writeErrs, err := a.store.Write(ctx, changes, domain.WriteOptions{Ordered: true})
	if err != nil {
		return err
	}
	applied := changes
	if len(writeErrs) > 0 {
		first := slices.MinFunc(writeErrs, func(x, y domain.WriteError) int { return x.Index - y.Index })
		applied = changes[:first.Index]
	}
	if a.publisher != nil && len(applied) > 0 {
		if err := a.publisher.Publish(ctx, applied...); err != nil {
			return err
		}
	}
	if len(writeErrs) > 0 {
		return ErrMaterialization{Target: target, WriteErrors: writeErrs}
	}
	return nil
}

func (a *Aggregator) withID(doc domain.Document) (domain.Document, error) {
	if doc.Has("_id") {
		return doc, nil
	}
	id, err := a.idGen.GenerateID()
	if err != nil {
		return nil, err
	}
	res, err := a.docFac(doc)
	if err != nil {
		return nil, err
	}
	res.Set("_id", id)
	return res, nil
}

// outState returns the new contents of an $out target.
func (a *Aggregator) outState(results []domain.Document) ([]domain.Document, error) {
	next := make([]domain.Document, len(results))
	for n, doc := range results {
		var err error
		if next[n], err = a.withID(doc); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// mergeState returns the new contents of a $merge target.
func (a *Aggregator) mergeState(spec mergeSpec, snapshot, results []domain.Document) ([]domain.Document, error) {
	next := slices.Clone(snapshot)
	index := uncomparable.New[int](a.hasher, a.comparer)
	for n, doc := range next {
		if err := index.Set(doc.ID(), n); err != nil {
			return nil, err
		}
	}

	for _, doc := range results {
		doc, err := a.withID(doc)
		if err != nil {
			return nil, err
		}
		n, found, err := index.Get(doc.ID())
		if err != nil {
			return nil, err
		}
		if !found {
			switch spec.whenNotMatched {
			case "insert":
				if err := index.Set(doc.ID(), len(next)); err != nil {
					return nil, err
				}
				next = append(next, doc)
			case "fail":
				return nil, ErrStageArgument{Stage: planner.StageMerge, Reason: fmt.Sprintf("found no target document with _id %v", doc.ID())}
			}
			continue
		}
		switch spec.whenMatched {
		case "replace":
			next[n] = doc
		case "merge":
			merged, err := a.docFac(next[n])
			if err != nil {
				return nil, err
			}
			for k, v := range doc.Iter() {
				merged.Set(k, v)
			}
			next[n] = merged
		case "fail":
			return nil, ErrStageArgument{Stage: planner.StageMerge, Reason: fmt.Sprintf("found a target document with _id %v", doc.ID())}
		}
	}
	return next, nil
}

func (a *Aggregator) newDoc(key string, value any) domain.Document {
	return data.M{key: value}
}
