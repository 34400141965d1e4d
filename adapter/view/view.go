// Package view keeps materialized views up to date. A view is a pipeline ending
// in $merge or $out that is run again whenever one of the collections it reads
// changes. Runs never overlap: changes arriving during a run are coalesced
// into a single run started after it.
package view

import (
	"context"
	"errors"
	"sync"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/planner"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/ctxsync"
)

var (
	// ErrNoTarget is returned for pipelines that do not end in $merge or
	// $out.
	ErrNoTarget = errors.New("view pipeline must end with $merge or $out")
	// ErrClosed is returned by a closed view.
	ErrClosed = errors.New("view closed")
)

// View is a materialized view.
type View struct {
	agg      domain.Aggregator
	source   domain.Namespace
	target   domain.Namespace
	sources  []domain.Namespace
	pipeline []domain.Document
	log      domain.Logger

	// run serializes recomputations.
	run *ctxsync.Mutex

	mu        sync.Mutex
	cond      *ctxsync.Cond
	requested uint64
	completed uint64
	lastErr   error
	closed    bool

	pending chan struct{}
	done    chan struct{}
	worker  *ctxsync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New returns a view of pipeline run against source and starts its worker.
// The target is not computed until [View.Refresh] or [View.Notify] is called.
// [View.Close] must be called to stop the worker.
func New(agg domain.Aggregator, source domain.Namespace, pipeline []domain.Document, opts ...Option) (*View, error) {
	plan, err := planner.CreatePlan(source, pipeline)
	if err != nil {
		return nil, err
	}
	if plan.Target == nil {
		return nil, ErrNoTarget
	}

	v := &View{
		agg:      agg,
		source:   source,
		target:   *plan.Target,
		sources:  append([]domain.Namespace{source}, plan.Foreign()...),
		pipeline: pipeline,
		log:      logger.Nop(),
		run:      ctxsync.NewMutex(),
		pending:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		worker:   ctxsync.NewWaitGroup(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.Scope("view").Scope(v.target.String())
	v.cond = ctxsync.NewCond(&v.mu)
	v.ctx, v.cancel = context.WithCancel(context.Background())

	v.worker.Add(1)
	go v.loop()
	return v, nil
}

// Target returns the namespace written by the view.
func (v *View) Target() domain.Namespace {
	return v.target
}

// Sources returns the namespaces whose changes make the view stale: the
// pipeline source followed by the collections read by $lookup.
func (v *View) Sources() []domain.Namespace {
	return v.sources
}

// Notify implements [domain.ChangeListener]. It queues a recomputation and
// returns without waiting for it. Changes to the target itself are ignored.
func (v *View) Notify(_ context.Context, change domain.ChangeStreamDocument) {
	if change.Ns == v.target {
		return
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.requested++
	v.mu.Unlock()

	select {
	case v.pending <- struct{}{}:
	default:
		// a queued run will see this change too
	}
}

func (v *View) loop() {
	defer v.worker.Done()
	for {
		select {
		case <-v.done:
			return
		case <-v.pending:
		}

		v.mu.Lock()
		gen := v.requested
		v.mu.Unlock()

		err := v.Refresh(v.ctx)

		v.mu.Lock()
		if gen > v.completed {
			v.completed = gen
			v.lastErr = err
		}
		v.mu.Unlock()
		v.cond.Broadcast()
	}
}

// Refresh recomputes the view now, waiting for any running recomputation
// first.
func (v *View) Refresh(ctx context.Context) error {
	if err := v.run.LockWithContext(ctx); err != nil {
		return err
	}
	defer v.run.Unlock()

	seq, err := v.agg.Aggregate(ctx, v.source, v.pipeline)
	if err == nil {
		for _, err = range seq {
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		v.log.Error("recompute failed", "source", v.source.String(), "error", err)
		return err
	}
	v.log.Debug("recomputed", "source", v.source.String())
	return nil
}

// Flush waits until every change notified before the call has been applied
// and returns the error of the last recomputation.
func (v *View) Flush(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	gen := v.requested
	for v.completed < gen && !v.closed {
		if err := v.cond.WaitWithContext(ctx); err != nil {
			return err
		}
	}
	if v.closed {
		return ErrClosed
	}
	return v.lastErr
}

// Close stops the worker, waiting for a running recomputation to end or for
// ctx to be done, whichever comes first. Pending notifications are dropped.
func (v *View) Close(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()
	v.cond.Broadcast()

	close(v.done)
	err := v.worker.WaitWithContext(ctx)
	v.cancel()
	return err
}
