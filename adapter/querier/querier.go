// Package querier contains the default [domain.Querier] implementation.
package querier

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/projector"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
)

// ErrSortOrder is returned when a sort specification has a direction other
// than 1 or -1.
type ErrSortOrder struct {
	Key   string
	Order any
}

// Error implements [error].
func (e ErrSortOrder) Error() string {
	return fmt.Sprintf("invalid sort order %v for field %q", e.Order, e.Key)
}

// Querier implements [domain.Querier].
type Querier struct {
	mtchr  domain.Matcher
	cmpr   domain.Comparer
	fn     domain.FieldNavigator
	proj   domain.Projector
	docFac domain.DocumentFactory
}

// NewQuerier returns a new implementation of [domain.Querier].
func NewQuerier(opts ...Option) domain.Querier {
	q := Querier{
		docFac: data.NewDocument,
		cmpr:   comparer.NewComparer(),
	}
	for _, opt := range opts {
		opt(&q)
	}
	if q.fn == nil {
		q.fn = fieldnavigator.NewFieldNavigator(q.docFac)
	}
	if q.proj == nil {
		q.proj = projector.NewProjector(
			projector.WithDocumentFactory(q.docFac),
			projector.WithFieldNavigator(q.fn),
		)
	}
	if q.mtchr == nil {
		q.mtchr = matcher.NewMatcher(
			matcher.WithComparer(q.cmpr),
			matcher.WithFieldNavigator(q.fn),
		)
	}
	return &q
}

// Query implements [domain.Querier].
func (q *Querier) Query(ctx context.Context, data iter.Seq2[domain.Document, error], opts domain.ReadOptions) ([]domain.Document, error) {
	if data == nil {
		return make([]domain.Document, 0), nil
	}

	var filter any
	if opts.Filter != nil && opts.Filter.Len() > 0 {
		// compiled once for the whole sequence
		if m, ok := q.mtchr.(*matcher.Matcher); ok {
			compiled, err := m.Compile(opts.Filter)
			if err != nil {
				return nil, err
			}
			filter = compiled
		} else {
			filter = opts.Filter
		}
	}

	res, err := q.filter(ctx, data, filter, opts.FindOptions)
	if err != nil {
		return nil, err
	}

	if len(opts.Sort) > 0 {
		sorted, err := q.sort(res, opts.Sort)
		if err != nil {
			return nil, fmt.Errorf("sorting: %w", err)
		}
		res = q.skipAndLimit(sorted, opts.Skip, opts.Limit)
	}

	res, err = q.proj.Project(res, opts.Projection)
	if err != nil {
		return nil, fmt.Errorf("projecting: %w", err)
	}
	return res, nil
}

// filter collects matching documents. Without a sort, skip and limit are
// applied while reading so the source is not read past the limit.
func (q *Querier) filter(ctx context.Context, data iter.Seq2[domain.Document, error], filter any, opts domain.FindOptions) ([]domain.Document, error) {
	var skipped int64
	res := make([]domain.Document, 0)
	sorted := len(opts.Sort) > 0

	for doc, err := range data {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if filter != nil {
			matches, err := q.mtchr.Match(doc, filter)
			if err != nil {
				return nil, fmt.Errorf("matching document: %w", err)
			}
			if !matches {
				continue
			}
		}
		if !sorted {
			if skipped < opts.Skip {
				skipped++
				continue
			}
		}
		res = append(res, doc)
		if !sorted && opts.Limit > 0 && int64(len(res)) == opts.Limit {
			break
		}
	}
	return res, nil
}

// Sort orders docs in place by the given criteria, keeping the relative order
// of equivalent documents.
func (q *Querier) Sort(docs []domain.Document, sort domain.Sort) error {
	sorted, err := q.sort(docs, sort)
	if err != nil {
		return err
	}
	copy(docs, sorted)
	return nil
}

func (q *Querier) sort(data []domain.Document, sort domain.Sort) ([]domain.Document, error) {
	type keyed struct {
		doc  domain.Document
		keys []any
	}
	items := make([]keyed, len(data))
	for n, doc := range data {
		items[n].doc = doc
		items[n].keys = make([]any, len(sort))
		for c, crit := range sort {
			key, err := q.sortKey(doc, crit)
			if err != nil {
				return nil, err
			}
			items[n].keys[c] = key
		}
	}

	var err error
	slices.SortStableFunc(items, func(a, b keyed) int {
		if err != nil {
			return 0
		}
		for c, crit := range sort {
			comp, cErr := q.cmpr.Compare(a.keys[c], b.keys[c])
			if cErr != nil {
				err = fmt.Errorf("comparing: %w", cErr)
				return 0
			}
			if comp != 0 {
				if crit.Order < 0 {
					return -comp
				}
				return comp
			}
		}
		return 0
	})
	if err != nil {
		return nil, err
	}

	res := make([]domain.Document, len(items))
	for n, item := range items {
		res[n] = item.doc
	}
	return res, nil
}

// sortKey returns the value a document is sorted by. Arrays sort by their
// lowest element in ascending order and by their highest one in descending
// order. Missing fields sort as null.
func (q *Querier) sortKey(doc domain.Document, crit domain.SortName) (any, error) {
	addr, err := q.fn.GetAddress(crit.Key)
	if err != nil {
		return nil, fmt.Errorf("getting address: %w", err)
	}
	fields, _, err := q.fn.GetField(doc, addr...)
	if err != nil {
		return nil, fmt.Errorf("getting field: %w", err)
	}

	var candidates []any
	for _, v := range fieldnavigator.Values(fields) {
		if list, ok := v.([]any); ok && len(list) > 0 {
			candidates = append(candidates, list...)
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	key := candidates[0]
	for _, c := range candidates[1:] {
		comp, err := q.cmpr.Compare(c, key)
		if err != nil {
			return nil, fmt.Errorf("comparing: %w", err)
		}
		if (crit.Order >= 0 && comp < 0) || (crit.Order < 0 && comp > 0) {
			key = c
		}
	}
	return key, nil
}

func (q *Querier) skipAndLimit(data []domain.Document, skip, limit int64) []domain.Document {
	length := int64(len(data))

	skip = max(skip, 0)
	skip = min(skip, length)

	end := length
	if limit > 0 {
		end = min(skip+limit, length)
	}

	return data[skip:end]
}

// ParseSort reads a sort specification such as {"a": 1, "b": -1}. Ordered
// documents keep their key order; other documents are sorted by key name.
func ParseSort(spec domain.Document) (domain.Sort, error) {
	if spec == nil {
		return nil, nil
	}
	keys := slices.Collect(spec.Keys())
	if _, ordered := spec.(*data.D); !ordered {
		slices.Sort(keys)
	}
	res := make(domain.Sort, 0, len(keys))
	for _, k := range keys {
		order, ok := structure.AsInteger(spec.Get(k))
		if !ok || (order != 1 && order != -1) {
			return nil, ErrSortOrder{Key: k, Order: spec.Get(k)}
		}
		res = append(res, domain.SortName{Key: k, Order: int64(order)})
	}
	return res, nil
}
