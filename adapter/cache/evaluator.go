package cache

import (
	"errors"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

// ErrInvalidSize is returned for query evaluators with a size lower than one.
var ErrInvalidSize = errors.New("query cache size must be positive")

func expired(c config, cachedAt time.Time) bool {
	return c.ttl > 0 && c.timeGetter.GetTime().Sub(cachedAt) > c.ttl
}

// IdentifierEvaluator implements [domain.CacheEvaluator] for filters that
// select documents by _id only. A filter is covered when every id it names is
// valid.
type IdentifierEvaluator struct {
	config
	mu    sync.Mutex
	valid *uncomparable.Map[time.Time]
}

// NewIdentifierEvaluator returns an [IdentifierEvaluator] with no valid ids.
func NewIdentifierEvaluator(opts ...Option) *IdentifierEvaluator {
	c := newConfig(opts)
	return &IdentifierEvaluator{
		config: c,
		valid:  uncomparable.New[time.Time](c.hasher, c.comparer),
	}
}

// ids returns the ids selected by filter and whether filter is a plain
// equality or $in test on _id. list reports the $in form.
func ids(filter domain.Document) (res []any, list bool, ok bool) {
	if filter == nil || filter.Len() != 1 || !filter.Has("_id") {
		return nil, false, false
	}
	cond := filter.Get("_id")
	sub, isDoc := cond.(domain.Document)
	if !isDoc || !operators(sub) {
		if _, isList := cond.([]any); isList {
			return nil, false, false
		}
		return []any{cond}, false, true
	}
	if sub.Len() != 1 {
		return nil, false, false
	}
	switch {
	case sub.Has("$eq"):
		return []any{sub.Get("$eq")}, false, true
	case sub.Has("$in"):
		l, isList := sub.Get("$in").([]any)
		return l, isList, isList
	}
	return nil, false, false
}

func operators(doc domain.Document) bool {
	for k := range doc.Keys() {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func (e *IdentifierEvaluator) isValid(id any) (bool, error) {
	at, ok, err := e.valid.Get(id)
	if err != nil || !ok {
		return false, err
	}
	if expired(e.config, at) {
		return false, e.valid.Delete(id)
	}
	return true, nil
}

// Add implements [domain.CacheEvaluator].
func (e *IdentifierEvaluator) Add(doc domain.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid.Set(doc.ID(), e.timeGetter.GetTime())
}

// Remove implements [domain.CacheEvaluator].
func (e *IdentifierEvaluator) Remove(doc domain.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.valid.Delete(doc.ID())
}

// Optimize implements [domain.CacheEvaluator]. Valid ids are removed from $in
// lists; other filters are returned as they are.
func (e *IdentifierEvaluator) Optimize(filter domain.Document, _ domain.FindOptions) (domain.Document, error) {
	list, isList, ok := ids(filter)
	if !ok || !isList {
		return filter, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	missing := make([]any, 0, len(list))
	for _, id := range list {
		valid, err := e.isValid(id)
		if err != nil {
			return nil, err
		}
		if !valid {
			missing = append(missing, id)
		}
	}
	return data.M{"_id": data.M{"$in": missing}}, nil
}

// IsCached implements [domain.CacheEvaluator].
func (e *IdentifierEvaluator) IsCached(filter domain.Document, _ domain.FindOptions) (bool, error) {
	list, _, ok := ids(filter)
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range list {
		valid, err := e.isValid(id)
		if err != nil || !valid {
			return false, err
		}
	}
	return true, nil
}

// Success implements [domain.CacheEvaluator]. Every id named by filter
// becomes valid, including the ones the backing store did not have.
func (e *IdentifierEvaluator) Success(filter domain.Document, _ domain.FindOptions) error {
	list, _, ok := ids(filter)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.timeGetter.GetTime()
	for _, id := range list {
		if err := e.valid.Set(id, now); err != nil {
			return err
		}
	}
	return nil
}

type queryRecord struct {
	filter   domain.Document
	cachedAt time.Time
}

// QueryEvaluator implements [domain.CacheEvaluator] for exact repeats of
// queries that succeeded before. Writes invalidate every record whose filter
// matches the written document.
type QueryEvaluator struct {
	config
	mu      sync.Mutex
	records *lru.Cache[uint64, queryRecord]
}

// NewQueryEvaluator returns an empty [QueryEvaluator]. The least recently used
// records are dropped once the configured size is reached.
func NewQueryEvaluator(opts ...Option) (*QueryEvaluator, error) {
	c := newConfig(opts)
	if c.size < 1 {
		return nil, ErrInvalidSize
	}
	records, err := lru.New[uint64, queryRecord](c.size)
	if err != nil {
		return nil, err
	}
	return &QueryEvaluator{config: c, records: records}, nil
}

func (e *QueryEvaluator) key(filter domain.Document, opts domain.FindOptions) (uint64, error) {
	if filter == nil {
		filter = data.M{}
	}
	return e.hasher.Hash([]any{filter, opts.Sort, opts.Skip, opts.Limit, opts.Projection})
}

func (e *QueryEvaluator) invalidate(doc domain.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range e.records.Keys() {
		rec, ok := e.records.Peek(k)
		if !ok {
			continue
		}
		matches, err := e.matcher.Match(doc, rec.filter)
		if err != nil {
			return err
		}
		if matches {
			e.records.Remove(k)
		}
	}
	return nil
}

// Add implements [domain.CacheEvaluator].
func (e *QueryEvaluator) Add(doc domain.Document) error {
	return e.invalidate(doc)
}

// Remove implements [domain.CacheEvaluator].
func (e *QueryEvaluator) Remove(doc domain.Document) error {
	return e.invalidate(doc)
}

// Optimize implements [domain.CacheEvaluator]. Query shapes cannot be split,
// so filter is returned as it is.
func (e *QueryEvaluator) Optimize(filter domain.Document, _ domain.FindOptions) (domain.Document, error) {
	return filter, nil
}

// IsCached implements [domain.CacheEvaluator].
func (e *QueryEvaluator) IsCached(filter domain.Document, opts domain.FindOptions) (bool, error) {
	k, err := e.key(filter, opts)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records.Get(k)
	if !ok {
		return false, nil
	}
	if expired(e.config, rec.cachedAt) {
		e.records.Remove(k)
		return false, nil
	}
	return true, nil
}

// Success implements [domain.CacheEvaluator].
func (e *QueryEvaluator) Success(filter domain.Document, opts domain.FindOptions) error {
	k, err := e.key(filter, opts)
	if err != nil {
		return err
	}
	if filter == nil {
		filter = data.M{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records.Add(k, queryRecord{filter: filter, cachedAt: e.timeGetter.GetTime()})
	return nil
}

type anyOf []domain.CacheEvaluator

// Any combines evaluators: a query is covered if any of them covers it.
// Updates reach every evaluator and Optimize narrows the filter through each
// one in turn.
func Any(evaluators ...domain.CacheEvaluator) domain.CacheEvaluator {
	return anyOf(evaluators)
}

// Add implements [domain.CacheEvaluator].
func (a anyOf) Add(doc domain.Document) error {
	var errs []error
	for _, e := range a {
		errs = append(errs, e.Add(doc))
	}
	return errors.Join(errs...)
}

// Remove implements [domain.CacheEvaluator].
func (a anyOf) Remove(doc domain.Document) error {
	var errs []error
	for _, e := range a {
		errs = append(errs, e.Remove(doc))
	}
	return errors.Join(errs...)
}

// Optimize implements [domain.CacheEvaluator].
func (a anyOf) Optimize(filter domain.Document, opts domain.FindOptions) (domain.Document, error) {
	for _, e := range a {
		var err error
		if filter, err = e.Optimize(filter, opts); err != nil {
			return nil, err
		}
	}
	return filter, nil
}

// IsCached implements [domain.CacheEvaluator].
func (a anyOf) IsCached(filter domain.Document, opts domain.FindOptions) (bool, error) {
	for _, e := range a {
		ok, err := e.IsCached(filter, opts)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Success implements [domain.CacheEvaluator].
func (a anyOf) Success(filter domain.Document, opts domain.FindOptions) error {
	var errs []error
	for _, e := range a {
		errs = append(errs, e.Success(filter, opts))
	}
	return errors.Join(errs...)
}
