// Package cache keeps a fast mirror store in sync with a slower backing store.
// Reads are answered by the mirror when the evaluators of the namespace say the
// mirror covers them; otherwise the backing store is queried, its results are
// copied into the mirror and the evaluators are told about it. Writes go to
// the backing store first and are then applied to the mirror.
package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/ctxsync"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

// EvaluatorFactory creates the evaluators of one namespace.
type EvaluatorFactory func(ns domain.Namespace) (domain.CacheEvaluator, error)

// DefaultEvaluators combines an [IdentifierEvaluator] and a [QueryEvaluator]
// built with opts.
func DefaultEvaluators(opts ...Option) EvaluatorFactory {
	return func(domain.Namespace) (domain.CacheEvaluator, error) {
		q, err := NewQueryEvaluator(opts...)
		if err != nil {
			return nil, err
		}
		return Any(NewIdentifierEvaluator(opts...), q), nil
	}
}

// Store implements [domain.Store] in front of a backing store. Every access
// to the mirror goes through the store lock.
type Store struct {
	backing    domain.Store
	mirror     domain.Store
	factory    EvaluatorFactory
	evaluators map[domain.Namespace]domain.CacheEvaluator
	comparer   domain.Comparer
	hasher     domain.Hasher
	mu         *ctxsync.Mutex
	log        domain.Logger
}

// NewStore returns a [Store] caching backing into mirror. The mirror must not
// be written by anything else.
func NewStore(backing, mirror domain.Store, opts ...Option) *Store {
	c := newConfig(opts)
	if c.evaluators == nil {
		c.evaluators = DefaultEvaluators(opts...)
	}
	return &Store{
		backing:    backing,
		mirror:     mirror,
		factory:    c.evaluators,
		evaluators: make(map[domain.Namespace]domain.CacheEvaluator),
		comparer:   c.comparer,
		hasher:     c.hasher,
		mu:         ctxsync.NewMutex(),
		log:        c.log.Scope("cache"),
	}
}

func (s *Store) evaluator(ns domain.Namespace) (domain.CacheEvaluator, error) {
	if e, ok := s.evaluators[ns]; ok {
		return e, nil
	}
	e, err := s.factory(ns)
	if err != nil {
		return nil, err
	}
	s.evaluators[ns] = e
	return e, nil
}

// Find returns a caching cursor over the documents of ns matching opts.
// Nothing is read before one of its methods is called.
func (s *Store) Find(ns domain.Namespace, opts domain.ReadOptions) *Cursor {
	return &Cursor{store: s, ns: ns, opts: opts}
}

// Read implements [domain.Store].
func (s *Store) Read(ctx context.Context, ns domain.Namespace, opts domain.ReadOptions) (iter.Seq2[domain.Document, error], error) {
	docs, err := s.Find(ns, opts).ToArray(ctx)
	if err != nil {
		return nil, err
	}
	return cursor.Seq(docs), nil
}

// fetch copies the backing documents needed to answer opts into the mirror.
// It returns false if the mirror could not be brought up to date.
func (s *Store) fetch(ctx context.Context, ns domain.Namespace, e domain.CacheEvaluator, opts domain.ReadOptions) (bool, error) {
	filter, err := e.Optimize(opts.Filter, opts.FindOptions)
	if err != nil {
		s.log.Warn("optimize failed", "ns", ns.String(), "error", err)
		return false, nil
	}

	// the mirror needs whole documents and every document a skip passes
	// over
	read := domain.ReadOptions{Filter: filter}
	if comparer.Equal(s.comparer, filter, opts.Filter) {
		read.Sort = opts.Sort
		if opts.Limit > 0 {
			read.Limit = opts.Skip + opts.Limit
		}
	}
	seq, err := s.backing.Read(ctx, ns, read)
	if err != nil {
		return false, err
	}
	docs, err := cursor.Collect(ctx, seq)
	if err != nil {
		return false, err
	}

	if len(docs) > 0 {
		changes := make([]domain.ChangeStreamDocument, len(docs))
		for n, doc := range docs {
			changes[n] = domain.ChangeStreamDocument{
				OperationType: domain.OperationReplace,
				Ns:            ns,
				DocumentKey:   doc.ID(),
				FullDocument:  doc,
			}
		}
		writeErrs, err := s.mirror.Write(ctx, changes, domain.WriteOptions{})
		if err != nil || len(writeErrs) > 0 {
			s.log.Warn("mirror write failed", "ns", ns.String(), "error", err, "writeErrors", len(writeErrs))
			s.forget(ns, e, changes)
			return false, nil
		}
	}
	if err := s.evict(ctx, ns, read, docs); err != nil {
		s.log.Warn("mirror eviction failed", "ns", ns.String(), "error", err)
		return false, nil
	}
	if err := e.Success(opts.Filter, opts.FindOptions); err != nil {
		s.log.Warn("recording cached query failed", "ns", ns.String(), "error", err)
	}
	return true, nil
}

// evict deletes the mirrored documents that read selects but the backing
// store no longer returns. With a limit, deleting may pull further stale
// documents into the window, so it repeats until the window is clean.
func (s *Store) evict(ctx context.Context, ns domain.Namespace, read domain.ReadOptions, fresh []domain.Document) error {
	keep := uncomparable.New[struct{}](s.hasher, s.comparer)
	for _, doc := range fresh {
		if err := keep.Set(doc.ID(), struct{}{}); err != nil {
			return err
		}
	}
	for {
		seq, err := s.mirror.Read(ctx, ns, read)
		if err != nil {
			return err
		}
		mirrored, err := cursor.Collect(ctx, seq)
		if err != nil {
			return err
		}
		var stale []domain.ChangeStreamDocument
		for _, doc := range mirrored {
			found, err := keep.Has(doc.ID())
			if err != nil {
				return err
			}
			if !found {
				stale = append(stale, domain.ChangeStreamDocument{
					OperationType: domain.OperationDelete,
					Ns:            ns,
					DocumentKey:   doc.ID(),
				})
			}
		}
		if len(stale) == 0 {
			return nil
		}
		s.log.Debug("evicting stale documents", "ns", ns.String(), "count", len(stale))
		writeErrs, err := s.mirror.Write(ctx, stale, domain.WriteOptions{})
		if err != nil {
			return err
		}
		if len(writeErrs) > 0 {
			return fmt.Errorf("mirror rejected %d deletions: %s", len(writeErrs), writeErrs[0].ErrMsg)
		}
		if read.Limit == 0 {
			return nil
		}
	}
}

// reset forgets what is known about ns and empties its mirror.
func (s *Store) reset(ctx context.Context, ns domain.Namespace) {
	delete(s.evaluators, ns)
	c, ok := s.mirror.(domain.Catalog)
	if !ok {
		return
	}
	if err := c.Drop(ctx, ns); err != nil && !errors.Is(err, domain.ErrNamespaceNotFound) {
		s.log.Warn("dropping mirror failed", "ns", ns.String(), "error", err)
	}
}

// forget invalidates the documents touched by changes.
func (s *Store) forget(ns domain.Namespace, e domain.CacheEvaluator, changes []domain.ChangeStreamDocument) {
	for _, change := range changes {
		if err := e.Remove(document(change)); err != nil {
			s.log.Warn("invalidation failed", "ns", ns.String(), "error", err)
		}
	}
}

// query answers opts from the mirror, reading the backing store first if the
// mirror does not cover it. Mirror failures fall back to the backing store.
func (s *Store) query(ctx context.Context, ns domain.Namespace, opts domain.ReadOptions) ([]domain.Document, error) {
	if err := s.mu.LockWithContext(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	e, err := s.evaluator(ns)
	if err != nil {
		return nil, err
	}
	covered, err := e.IsCached(opts.Filter, opts.FindOptions)
	if err != nil {
		s.log.Warn("coverage check failed", "ns", ns.String(), "error", err)
		return s.fallback(ctx, ns, opts)
	}
	if covered {
		s.log.Debug("cache hit", "ns", ns.String())
	} else {
		s.log.Debug("cache miss", "ns", ns.String())
		ok, err := s.fetch(ctx, ns, e, opts)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.fallback(ctx, ns, opts)
		}
	}

	seq, err := s.mirror.Read(ctx, ns, opts)
	if err == nil {
		var docs []domain.Document
		if docs, err = cursor.Collect(ctx, seq); err == nil {
			return docs, nil
		}
	}
	if ctx.Err() != nil {
		return nil, err
	}
	s.log.Warn("mirror read failed", "ns", ns.String(), "error", err)
	return s.fallback(ctx, ns, opts)
}

func (s *Store) fallback(ctx context.Context, ns domain.Namespace, opts domain.ReadOptions) ([]domain.Document, error) {
	s.log.Warn("reading backing store directly", "ns", ns.String())
	seq, err := s.backing.Read(ctx, ns, opts)
	if err != nil {
		return nil, err
	}
	return cursor.Collect(ctx, seq)
}

// Write implements [domain.Store]. Changes are written to the backing store
// and the ones it applied are then handled as by [Store.HandleChange].
func (s *Store) Write(ctx context.Context, changes []domain.ChangeStreamDocument, opts domain.WriteOptions) ([]domain.WriteError, error) {
	writeErrs, err := s.backing.Write(ctx, changes, opts)
	if err != nil {
		// some changes may have been applied
		s.distrust(ctx, changes)
		return writeErrs, err
	}

	failed := make(map[int]bool, len(writeErrs))
	last := len(changes) - 1
	for _, we := range writeErrs {
		failed[we.Index] = true
		if opts.Ordered {
			last = min(last, we.Index-1)
		}
	}
	var applied []domain.ChangeStreamDocument
	for n, change := range changes[:last+1] {
		if !failed[n] {
			applied = append(applied, change)
		}
	}
	if err := s.HandleChange(ctx, applied...); err != nil {
		return writeErrs, err
	}
	return writeErrs, nil
}

// distrust drops the evaluators of every namespace in changes, so the next
// reads go to the backing store and evict what the mirror kept.
func (s *Store) distrust(ctx context.Context, changes []domain.ChangeStreamDocument) {
	if err := s.mu.LockWithContext(context.WithoutCancel(ctx)); err != nil {
		return
	}
	defer s.mu.Unlock()
	for _, change := range changes {
		if _, ok := s.evaluators[change.Ns]; ok {
			s.log.Warn("backing write failed, namespace no longer cached", "ns", change.Ns.String())
			delete(s.evaluators, change.Ns)
		}
	}
}

// HandleChange applies changes already applied to the backing store to the
// mirror and the evaluators. Changes the mirror rejects are invalidated
// instead.
func (s *Store) HandleChange(ctx context.Context, changes ...domain.ChangeStreamDocument) error {
	if len(changes) == 0 {
		return nil
	}
	if err := s.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	byNs := make(map[domain.Namespace][]domain.ChangeStreamDocument)
	var order []domain.Namespace
	for _, change := range changes {
		if _, ok := byNs[change.Ns]; !ok {
			order = append(order, change.Ns)
			byNs[change.Ns] = nil
		}
		if document(change).ID() == nil {
			// without a key the mirror cannot follow this namespace
			s.log.Warn("change without document key", "ns", change.Ns.String())
			s.reset(ctx, change.Ns)
			continue
		}
		if change.OperationType != domain.OperationDelete {
			change.OperationType = domain.OperationReplace
		}
		byNs[change.Ns] = append(byNs[change.Ns], change)
	}

	var errs []error
	for _, ns := range order {
		errs = append(errs, s.apply(ctx, ns, byNs[ns]))
	}
	return errors.Join(errs...)
}

func (s *Store) apply(ctx context.Context, ns domain.Namespace, changes []domain.ChangeStreamDocument) error {
	if len(changes) == 0 {
		return nil
	}
	e, err := s.evaluator(ns)
	if err != nil {
		return err
	}
	before := s.previous(ctx, ns, changes)
	writeErrs, err := s.mirror.Write(ctx, changes, domain.WriteOptions{})
	if err != nil {
		s.log.Warn("mirror write failed", "ns", ns.String(), "error", err)
		s.forget(ns, e, changes)
		return nil
	}
	rejected := make([]domain.ChangeStreamDocument, 0, len(writeErrs))
	for _, we := range writeErrs {
		rejected = append(rejected, changes[we.Index])
	}
	if len(rejected) > 0 {
		s.log.Warn("mirror rejected changes", "ns", ns.String(), "count", len(rejected))
		s.forget(ns, e, rejected)
	}

	var errs []error
	for n, change := range changes {
		if slices.ContainsFunc(writeErrs, func(we domain.WriteError) bool { return we.Index == n }) {
			continue
		}
		prev := before[n]
		if change.OperationType == domain.OperationDelete {
			if prev == nil {
				prev = document(change)
			}
			errs = append(errs, e.Remove(prev))
			continue
		}
		// queries the old version matched may lose a document
		if prev != nil {
			errs = append(errs, e.Add(prev))
		}
		errs = append(errs, e.Add(document(change)))
	}
	return errors.Join(errs...)
}

// previous returns, by change index, the mirrored documents the changes are
// about to overwrite. Failures only cost precision, so they are logged.
func (s *Store) previous(ctx context.Context, ns domain.Namespace, changes []domain.ChangeStreamDocument) map[int]domain.Document {
	keys := make([]any, 0, len(changes))
	for _, change := range changes {
		if id := document(change).ID(); id != nil {
			keys = append(keys, id)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	seq, err := s.mirror.Read(ctx, ns, domain.ReadOptions{Filter: data.M{"_id": data.M{"$in": keys}}})
	var docs []domain.Document
	if err == nil {
		docs, err = cursor.Collect(ctx, seq)
	}
	if err != nil {
		s.log.Warn("reading mirrored documents failed", "ns", ns.String(), "error", err)
		return nil
	}
	res := make(map[int]domain.Document, len(docs))
	for n, change := range changes {
		id := document(change).ID()
		for _, doc := range docs {
			if comparer.Equal(s.comparer, id, doc.ID()) {
				res[n] = doc
				break
			}
		}
	}
	return res
}

// document returns the document of change, or a document holding only its
// key.
func document(change domain.ChangeStreamDocument) domain.Document {
	if change.FullDocument != nil {
		if change.FullDocument.Has("_id") || change.DocumentKey == nil {
			return change.FullDocument
		}
	}
	return data.M{"_id": change.DocumentKey}
}

// ErrNoCatalog is returned by the catalog methods of a [Store] whose backing
// store does not implement [domain.Catalog].
var ErrNoCatalog = errors.New("backing store has no catalog")

func (s *Store) catalog() (domain.Catalog, error) {
	c, ok := s.backing.(domain.Catalog)
	if !ok {
		return nil, ErrNoCatalog
	}
	return c, nil
}

// Create implements [domain.Catalog].
func (s *Store) Create(ctx context.Context, ns domain.Namespace) error {
	c, err := s.catalog()
	if err != nil {
		return err
	}
	return c.Create(ctx, ns)
}

// Collections implements [domain.Catalog].
func (s *Store) Collections(ctx context.Context, db string) ([]domain.Namespace, error) {
	c, err := s.catalog()
	if err != nil {
		return nil, err
	}
	return c.Collections(ctx, db)
}

// Drop implements [domain.Catalog]. The dropped namespaces are removed from
// the mirror and forgotten by their evaluators.
func (s *Store) Drop(ctx context.Context, ns domain.Namespace) error {
	c, err := s.catalog()
	if err != nil {
		return err
	}
	if err := c.Drop(ctx, ns); err != nil {
		return err
	}

	if err := s.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for k := range s.evaluators {
		if k == ns || (ns.IsDatabase() && k.DB == ns.DB) {
			delete(s.evaluators, k)
		}
	}
	if m, ok := s.mirror.(domain.Catalog); ok {
		if err := m.Drop(ctx, ns); err != nil && !errors.Is(err, domain.ErrNamespaceNotFound) {
			s.log.Warn("dropping from mirror", "ns", ns.String(), "error", err)
		}
	}
	return nil
}
