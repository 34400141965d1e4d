// Package memstore contains an in-memory [domain.Store]. Each collection keeps
// its documents in an AVL tree keyed by _id, which enforces _id uniqueness and
// answers equality, $in and range filters on _id without a full scan.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/vinicius-lino-figueiredo/bst"
	"github.com/vinicius-lino-figueiredo/bst/adapter/avl"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/idgenerator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/querier"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/ctxsync"
)

// Store implements [domain.Store] and [domain.Catalog] in memory.
type Store struct {
	mu       *ctxsync.Mutex
	colls    map[domain.Namespace]bst.BST[any, domain.Document]
	comparer domain.Comparer
	keys     bst.Comparer[any, domain.Document]
	querier  domain.Querier
	idGen    domain.IDGenerator
	docFac   domain.DocumentFactory
}

// NewStore returns an empty [Store].
func NewStore(opts ...Option) *Store {
	s := &Store{
		mu:     ctxsync.NewMutex(),
		colls:  make(map[domain.Namespace]bst.BST[any, domain.Document]),
		docFac: data.NewDocument,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.comparer == nil {
		s.comparer = comparer.NewComparer()
	}
	if s.querier == nil {
		s.querier = querier.NewQuerier(
			querier.WithComparer(s.comparer),
			querier.WithDocumentFactory(s.docFac),
		)
	}
	if s.idGen == nil {
		s.idGen = idgenerator.NewIDGenerator()
	}
	s.keys = newKeyComparer(s.comparer)
	return s
}

func (s *Store) tree(ns domain.Namespace, create bool) bst.BST[any, domain.Document] {
	t, ok := s.colls[ns]
	if !ok && create {
		t = avl.NewBST(true, 8, s.keys)
		s.colls[ns] = t
	}
	return t
}

// Read implements [domain.Store]. Documents are copied before the lock is
// released, so the returned sequence never sees later writes.
func (s *Store) Read(ctx context.Context, ns domain.Namespace, opts domain.ReadOptions) (iter.Seq2[domain.Document, error], error) {
	if err := s.mu.LockWithContext(ctx); err != nil {
		return nil, err
	}
	candidates, err := s.candidates(ns, opts.Filter)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	res, err := s.querier.Query(ctx, cursor.Seq(candidates), opts)
	if err != nil {
		return nil, err
	}
	return cursor.Seq(res), nil
}

// candidates returns copies of the documents that may match filter, in _id
// order.
func (s *Store) candidates(ns domain.Namespace, filter domain.Document) ([]domain.Document, error) {
	t := s.tree(ns, false)
	if t == nil {
		return nil, nil
	}

	var found iter.Seq2[domain.Document, error]
	if filter != nil && filter.Has("_id") {
		var err error
		if found, err = s.byID(t, filter.Get("_id")); err != nil {
			return nil, err
		}
	}
	if found == nil {
		found = func(yield func(domain.Document, error) bool) {
			for doc := range t.GetAll() {
				if !yield(doc, nil) {
					return
				}
			}
		}
	}

	res := make([]domain.Document, 0)
	for doc, err := range found {
		if err != nil {
			return nil, err
		}
		cp, err := s.docFac(doc)
		if err != nil {
			return nil, err
		}
		res = append(res, cp)
	}
	return res, nil
}

// byID narrows the scan for _id equality, $in and range filters. It returns a
// nil sequence when the tree cannot help.
func (s *Store) byID(t bst.BST[any, domain.Document], cond any) (iter.Seq2[domain.Document, error], error) {
	sub, ok := cond.(domain.Document)
	if !ok {
		if _, isList := cond.([]any); isList {
			return nil, nil
		}
		return s.search(t, cond)
	}

	var qry bst.Query[any]
	for k, v := range sub.Iter() {
		switch k {
		case "$eq":
			if _, isDoc := v.(domain.Document); isDoc {
				return nil, nil
			}
			return s.search(t, v)
		case "$in":
			list, ok := v.([]any)
			if !ok || sub.Len() > 1 {
				return nil, nil
			}
			for _, item := range list {
				if _, isDoc := item.(domain.Document); isDoc {
					return nil, nil
				}
			}
			return s.search(t, list...)
		case "$gt":
			qry.GreaterThan = &bst.Bound[any]{Value: v, IncludeEqual: false}
		case "$gte":
			qry.GreaterThan = &bst.Bound[any]{Value: v, IncludeEqual: true}
		case "$lt":
			qry.LowerThan = &bst.Bound[any]{Value: v, IncludeEqual: false}
		case "$lte":
			qry.LowerThan = &bst.Bound[any]{Value: v, IncludeEqual: true}
		default:
			return nil, nil
		}
	}
	if qry.GreaterThan == nil && qry.LowerThan == nil {
		return nil, nil
	}
	return t.Query(qry), nil
}

func (s *Store) search(t bst.BST[any, domain.Document], keys ...any) (iter.Seq2[domain.Document, error], error) {
	var docs []domain.Document
	for _, k := range keys {
		found, err := t.Search(k)
		if err != nil {
			return nil, err
		}
		if found == nil {
			continue
		}
		docs = append(docs, found.Values()...)
	}
	// $in lists may repeat or reorder ids
	var err error
	slices.SortFunc(docs, func(a, b domain.Document) int {
		c, cErr := s.comparer.Compare(a.ID(), b.ID())
		if cErr != nil {
			err = cErr
		}
		return c
	})
	if err != nil {
		return nil, err
	}
	docs = slices.CompactFunc(docs, func(a, b domain.Document) bool {
		return comparer.Equal(s.comparer, a.ID(), b.ID())
	})
	return cursor.Seq(docs), nil
}

// Write implements [domain.Store]. Insert, replace and update events carry the
// full new document; replace and update events for a missing key insert it.
func (s *Store) Write(ctx context.Context, changes []domain.ChangeStreamDocument, opts domain.WriteOptions) ([]domain.WriteError, error) {
	if err := s.mu.LockWithContext(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var writeErrs []domain.WriteError
	for n, change := range changes {
		if err := ctx.Err(); err != nil {
			return writeErrs, err
		}
		if we := s.apply(n, change); we != nil {
			writeErrs = append(writeErrs, *we)
			if opts.Ordered {
				break
			}
		}
	}
	return writeErrs, nil
}

func (s *Store) apply(n int, change domain.ChangeStreamDocument) *domain.WriteError {
	t := s.tree(change.Ns, true)
	var err error
	switch change.OperationType {
	case domain.OperationInsert:
		err = s.insert(t, change.FullDocument)
	case domain.OperationReplace, domain.OperationUpdate:
		err = s.replace(t, change.DocumentKey, change.FullDocument)
	case domain.OperationDelete:
		key := change.DocumentKey
		if key == nil && change.FullDocument != nil {
			key = change.FullDocument.ID()
		}
		err = s.delete(t, key)
	default:
		err = fmt.Errorf("%w: unknown operation %q", errBadChange, change.OperationType)
	}
	if err == nil {
		return nil
	}
	return writeError(n, change.Ns, err)
}

var (
	errBadChange = errors.New("bad change")
	errKeyChange = errors.New("document key differs from _id")
)

func writeError(n int, ns domain.Namespace, err error) *domain.WriteError {
	we := &domain.WriteError{Index: n, Code: domain.CodeInternal, ErrMsg: err.Error()}
	switch {
	case errors.Is(err, domain.ErrDuplicateKey):
		we.Code = domain.CodeDuplicateKey
		we.ErrMsg = fmt.Sprintf("E11000 duplicate key error collection: %s index: _id_ %s", ns, err)
	case errors.Is(err, errBadChange):
		we.Code = domain.CodeBadValue
	case errors.Is(err, errKeyChange):
		we.Code = domain.CodeImmutableField
	}
	return we
}

func (s *Store) insert(t bst.BST[any, domain.Document], doc domain.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: insert without document", errBadChange)
	}
	cp, err := s.docFac(doc)
	if err != nil {
		return err
	}
	if !cp.Has("_id") {
		id, err := s.idGen.GenerateID()
		if err != nil {
			return err
		}
		cp.Set("_id", id)
	}
	if err := t.Insert(cp.ID(), cp); err != nil {
		if errors.As(err, new(bst.ErrUniqueViolated)) {
			return fmt.Errorf("%w: %v", domain.ErrDuplicateKey, cp.ID())
		}
		return err
	}
	return nil
}

func (s *Store) replace(t bst.BST[any, domain.Document], key any, doc domain.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: replace without document", errBadChange)
	}
	if key == nil {
		key = doc.ID()
	}
	if doc.Has("_id") {
		if !comparer.Equal(s.comparer, key, doc.ID()) {
			return errKeyChange
		}
	}
	cp, err := s.docFac(doc)
	if err != nil {
		return err
	}
	cp.Set("_id", key)
	if err := s.delete(t, key); err != nil {
		return err
	}
	return t.Insert(key, cp)
}

func (s *Store) delete(t bst.BST[any, domain.Document], key any) error {
	found, err := t.Search(key)
	if err != nil {
		return err
	}
	if found == nil {
		return nil
	}
	for _, doc := range slices.Clone(found.Values()) {
		if err := t.Delete(key, &doc); err != nil {
			return err
		}
	}
	return nil
}

// Create implements [domain.Catalog].
func (s *Store) Create(ctx context.Context, ns domain.Namespace) error {
	if err := s.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.colls[ns]; ok {
		return fmt.Errorf("%w: %s", domain.ErrNamespaceExists, ns)
	}
	s.tree(ns, true)
	return nil
}

// Collections implements [domain.Catalog].
func (s *Store) Collections(ctx context.Context, db string) ([]domain.Namespace, error) {
	if err := s.mu.LockWithContext(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	res := make([]domain.Namespace, 0)
	for ns := range maps.Keys(s.colls) {
		if ns.DB == db {
			res = append(res, ns)
		}
	}
	slices.SortFunc(res, func(a, b domain.Namespace) int {
		return strings.Compare(a.Collection, b.Collection)
	})
	return res, nil
}

// Drop implements [domain.Catalog].
func (s *Store) Drop(ctx context.Context, ns domain.Namespace) error {
	if err := s.mu.LockWithContext(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !ns.IsDatabase() {
		if _, ok := s.colls[ns]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrNamespaceNotFound, ns)
		}
		delete(s.colls, ns)
		return nil
	}
	maps.DeleteFunc(s.colls, func(k domain.Namespace, _ bst.BST[any, domain.Document]) bool {
		return k.DB == ns.DB
	})
	return nil
}

// Len returns the number of documents stored in ns.
func (s *Store) Len(ctx context.Context, ns domain.Namespace) (int, error) {
	if err := s.mu.LockWithContext(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	t := s.tree(ns, false)
	if t == nil {
		return 0, nil
	}
	return t.GetNumberOfKeys(), nil
}
