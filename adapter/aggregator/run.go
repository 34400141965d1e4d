package aggregator

import (
	"context"
	"fmt"
	"iter"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/expression"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

// run holds the state shared by the stages of one execution: the collection
// buffer and the variables bound by an enclosing $lookup.
type run struct {
	a       *Aggregator
	ctx     context.Context
	buf     *buffer
	vars    map[string]any
	matcher domain.Matcher
}

func (a *Aggregator) newRun(ctx context.Context, buf *buffer, vars map[string]any) *run {
	r := &run{a: a, ctx: ctx, buf: buf, vars: vars, matcher: a.matcher}
	if m, ok := a.matcher.(*matcher.Matcher); ok && len(vars) > 0 {
		r.matcher = m.WithVariables(vars)
	}
	return r
}

// pipe chains stages over in. Nothing is read until the result is iterated.
func (r *run) pipe(stages []*stage, in iter.Seq2[domain.Document, error]) iter.Seq2[domain.Document, error] {
	out := in
	for _, st := range stages {
		if st.buffered() {
			out = r.buffered(st, out)
		} else {
			out = r.streamed(st, out)
		}
	}
	return out
}

func (st *stage) buffered() bool {
	if st.kind == KindCustom {
		return st.custom.Buffered()
	}
	return st.kind.Buffered()
}

// streamed applies st to one document at a time.
func (r *run) streamed(st *stage, in iter.Seq2[domain.Document, error]) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		var seen int64
		for doc, err := range in {
			if err != nil {
				yield(nil, err)
				return
			}
			if err := r.ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			var out []domain.Document
			switch st.kind {
			case KindSkip:
				seen++
				if seen > st.n {
					out = []domain.Document{doc}
				}
			case KindLimit:
				seen++
				if !yield(doc, nil) || seen >= st.n {
					return
				}
				continue
			default:
				out, err = r.process(st, doc)
				if err != nil {
					yield(nil, fmt.Errorf("%s: %w", st.name, err))
					return
				}
			}
			for _, o := range out {
				if !yield(o, nil) {
					return
				}
			}
		}
	}
}

// buffered drains in before applying st.
func (r *run) buffered(st *stage, in iter.Seq2[domain.Document, error]) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		docs, err := cursor.Collect(r.ctx, in)
		if err != nil {
			yield(nil, err)
			return
		}
		out, err := r.processAll(st, docs)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", st.name, err))
			return
		}
		for _, doc := range out {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// process applies a streamable stage to one document.
func (r *run) process(st *stage, doc domain.Document) ([]domain.Document, error) {
	switch st.kind {
	case KindMatch:
		ok, err := r.matcher.Match(doc, st.filter)
		if err != nil || !ok {
			return nil, err
		}
		return []domain.Document{doc}, nil
	case KindProject:
		res, err := r.project(st, doc)
		return single(res, err)
	case KindSet:
		res, err := r.set(st.fields, doc)
		return single(res, err)
	case KindUnset:
		res, err := r.a.projector.Project([]domain.Document{doc}, st.projection)
		return res, err
	case KindUnwind:
		return r.unwind(st.unwind, doc)
	case KindReplaceRoot:
		res, err := r.replaceRoot(st, doc)
		return single(res, err)
	case KindLookup:
		res, err := r.lookup(st.lookup, doc)
		return single(res, err)
	case KindCustom:
		return st.custom.Apply(r.ctx, []domain.Document{doc})
	default:
		return nil, fmt.Errorf("%s cannot process single documents", st.name)
	}
}

// processAll applies a buffered stage to the whole upstream result.
func (r *run) processAll(st *stage, docs []domain.Document) ([]domain.Document, error) {
	switch st.kind {
	case KindGroup:
		return r.group(docs, st.groupID, st.accums)
	case KindSort:
		if err := r.a.sorter.Sort(docs, st.sort); err != nil {
			return nil, err
		}
		return docs, nil
	case KindBucket:
		return r.bucket(st.bucket, docs)
	case KindFacet:
		return r.facet(st.facets, docs)
	case KindCount:
		if len(docs) == 0 {
			return nil, nil
		}
		return []domain.Document{r.a.newDoc(st.countField, int64(len(docs)))}, nil
	case KindSortByCount:
		return r.sortByCount(st.expr, docs)
	case KindCustom:
		return st.custom.Apply(r.ctx, docs)
	default:
		return nil, fmt.Errorf("%s cannot process buffered documents", st.name)
	}
}

func single(doc domain.Document, err error) ([]domain.Document, error) {
	if err != nil || doc == nil {
		return nil, err
	}
	return []domain.Document{doc}, nil
}

func (r *run) eval(expr any, doc domain.Document) (any, error) {
	return r.a.evaluator.Evaluate(expr, doc, r.vars)
}

// setPath sets v at a dotted path of doc, creating intermediate documents.
// Missing values unset the path.
func (r *run) setPath(doc domain.Document, path string, v any) error {
	addr, err := r.a.fieldNavigator.GetAddress(path)
	if err != nil {
		return err
	}
	if expression.IsMissing(v) {
		gss, _, err := r.a.fieldNavigator.GetField(doc, addr...)
		if err != nil {
			return err
		}
		for _, gs := range gss {
			gs.Unset()
		}
		return nil
	}
	gss, err := r.a.fieldNavigator.EnsureField(doc, addr...)
	if err != nil {
		return err
	}
	for _, gs := range gss {
		gs.Set(v)
	}
	return nil
}

func (r *run) set(fields []fieldExpr, doc domain.Document) (domain.Document, error) {
	res, err := r.a.docFac(doc)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		v, err := r.eval(f.expr, doc)
		if err != nil {
			return nil, err
		}
		if err := r.setPath(res, f.path, v); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *run) project(st *stage, doc domain.Document) (domain.Document, error) {
	var res domain.Document
	if len(st.computed) == 0 || hasInclusion(st.projection) {
		projected, err := r.a.projector.Project([]domain.Document{doc}, st.projection)
		if err != nil {
			return nil, err
		}
		res = projected[0]
	} else {
		var err error
		if res, err = r.a.docFac(nil); err != nil {
			return nil, err
		}
		// without inclusions the projection can only hold an _id exclusion
		if _, excluded := st.projection["_id"]; !excluded && doc.Has("_id") {
			res.Set("_id", doc.ID())
		}
	}
	for _, f := range st.computed {
		v, err := r.eval(f.expr, doc)
		if err != nil {
			return nil, err
		}
		if err := r.setPath(res, f.path, v); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func hasInclusion(p domain.Projection) bool {
	for _, v := range p {
		if v == 1 {
			return true
		}
	}
	return false
}

func (r *run) unwind(spec unwindSpec, doc domain.Document) ([]domain.Document, error) {
	addr, err := r.a.fieldNavigator.GetAddress(spec.path)
	if err != nil {
		return nil, err
	}
	gss, _, err := r.a.fieldNavigator.GetField(doc, addr...)
	if err != nil {
		return nil, err
	}
	value, defined := gss[0].Get()

	emit := func(v any, index any, unset bool) (domain.Document, error) {
		res, err := r.a.docFac(doc)
		if err != nil {
			return nil, err
		}
		if unset {
			err = r.setPath(res, spec.path, expression.Missing)
		} else if defined {
			err = r.setPath(res, spec.path, v)
		}
		if err != nil {
			return nil, err
		}
		if spec.indexField != "" {
			if err := r.setPath(res, spec.indexField, index); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	list, isList := value.([]any)
	switch {
	case isList && len(list) > 0:
		res := make([]domain.Document, len(list))
		for n, item := range list {
			if res[n], err = emit(item, int64(n), false); err != nil {
				return nil, err
			}
		}
		return res, nil
	case !defined || value == nil || isList:
		if !spec.preserveEmpty {
			return nil, nil
		}
		res, err := emit(value, nil, isList)
		return single(res, err)
	default:
		res, err := emit(value, nil, false)
		return single(res, err)
	}
}

func (r *run) replaceRoot(st *stage, doc domain.Document) (domain.Document, error) {
	v, err := r.eval(st.expr, doc)
	if err != nil {
		return nil, err
	}
	res, ok := v.(domain.Document)
	if !ok {
		return nil, ErrStageArgument{Stage: st.name, Reason: "expression must evaluate to an object"}
	}
	return r.a.docFac(res)
}

func (r *run) lookup(spec *lookupSpec, doc domain.Document) (domain.Document, error) {
	foreign, err := r.buf.Get(spec.from)
	if err != nil {
		return nil, err
	}

	if spec.localField != "" {
		filter, err := r.equality(spec, doc)
		if err != nil {
			return nil, err
		}
		matched := make([]domain.Document, 0)
		for _, f := range foreign {
			ok, err := r.a.matcher.Match(f, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, f)
			}
		}
		foreign = matched
	}

	if spec.pipeline != nil {
		vars := make(map[string]any, len(r.vars)+len(spec.let))
		for k, v := range r.vars {
			vars[k] = v
		}
		for _, l := range spec.let {
			v, err := r.eval(l.expr, doc)
			if err != nil {
				return nil, err
			}
			vars[l.path] = expression.Value(v)
		}
		sub := r.a.newRun(r.ctx, r.buf, vars)
		if foreign, err = cursor.Collect(r.ctx, sub.pipe(spec.pipeline, cursor.Seq(foreign))); err != nil {
			return nil, err
		}
	}

	joined := make([]any, len(foreign))
	for n, f := range foreign {
		if joined[n], err = r.a.docFac(f); err != nil {
			return nil, err
		}
	}
	res, err := r.a.docFac(doc)
	if err != nil {
		return nil, err
	}
	if err := r.setPath(res, spec.as, joined); err != nil {
		return nil, err
	}
	return res, nil
}

// equality builds the filter matching foreign documents whose foreignField
// equals any local value. A missing local value matches null and missing
// foreign values.
func (r *run) equality(spec *lookupSpec, doc domain.Document) (domain.Document, error) {
	addr, err := r.a.fieldNavigator.GetAddress(spec.localField)
	if err != nil {
		return nil, err
	}
	gss, _, err := r.a.fieldNavigator.GetField(doc, addr...)
	if err != nil {
		return nil, err
	}
	var values []any
	for _, v := range fieldnavigator.Values(gss) {
		if list, ok := v.([]any); ok {
			values = append(values, list...)
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		values = []any{nil}
	}
	return r.a.newDoc(spec.foreignField, r.a.newDoc("$in", values)), nil
}

type group struct {
	id    any
	accs  []expression.Accumulator
	first domain.Document
}

func (r *run) newGroup(id any, specs []accumulatorSpec) (*group, error) {
	g := &group{id: id, accs: make([]expression.Accumulator, len(specs))}
	for n, spec := range specs {
		acc, err := r.a.evaluator.NewAccumulator(spec.op)
		if err != nil {
			return nil, err
		}
		g.accs[n] = acc
	}
	return g, nil
}

func (r *run) accumulate(g *group, specs []accumulatorSpec, doc domain.Document) error {
	for n, spec := range specs {
		v, err := r.eval(spec.expr, doc)
		if err != nil {
			return err
		}
		if err := g.accs[n].Accumulate(expression.Value(v)); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) result(g *group, specs []accumulatorSpec) domain.Document {
	res := data.NewD(data.E{Key: "_id", Value: g.id})
	for n, spec := range specs {
		res.Set(spec.field, g.accs[n].Result())
	}
	return res
}

// group keeps groups in order of first appearance.
func (r *run) group(docs []domain.Document, idExpr any, specs []accumulatorSpec) ([]domain.Document, error) {
	index := uncomparable.New[int](r.a.hasher, r.a.comparer)
	var groups []*group
	for _, doc := range docs {
		id, err := r.eval(idExpr, doc)
		if err != nil {
			return nil, err
		}
		id = expression.Value(id)
		n, found, err := index.Get(id)
		if err != nil {
			return nil, err
		}
		if !found {
			g, err := r.newGroup(id, specs)
			if err != nil {
				return nil, err
			}
			n = len(groups)
			groups = append(groups, g)
			if err := index.Set(id, n); err != nil {
				return nil, err
			}
		}
		if err := r.accumulate(groups[n], specs, doc); err != nil {
			return nil, err
		}
	}
	res := make([]domain.Document, len(groups))
	for n, g := range groups {
		res[n] = r.result(g, specs)
	}
	return res, nil
}

func (r *run) bucket(spec *bucketSpec, docs []domain.Document) ([]domain.Document, error) {
	groups := make([]*group, len(spec.boundaries))
	for _, doc := range docs {
		v, err := r.eval(spec.groupBy, doc)
		if err != nil {
			return nil, err
		}
		v = expression.Value(v)
		slot := -1
		for n := 0; n < len(spec.boundaries)-1; n++ {
			if !r.a.comparer.Comparable(v, spec.boundaries[n]) {
				continue
			}
			lo, err := r.a.comparer.Compare(v, spec.boundaries[n])
			if err != nil {
				return nil, err
			}
			hi, err := r.a.comparer.Compare(v, spec.boundaries[n+1])
			if err != nil {
				return nil, err
			}
			if lo >= 0 && hi < 0 {
				slot = n
				break
			}
		}
		id := any(nil)
		switch {
		case slot >= 0:
			id = spec.boundaries[slot]
		case spec.hasDefault:
			slot, id = len(spec.boundaries)-1, spec.def
		default:
			return nil, ErrStageArgument{Stage: "$bucket", Reason: "found a value outside the boundaries and no default was given"}
		}
		if groups[slot] == nil {
			if groups[slot], err = r.newGroup(id, spec.output); err != nil {
				return nil, err
			}
		}
		if err := r.accumulate(groups[slot], spec.output, doc); err != nil {
			return nil, err
		}
	}
	res := make([]domain.Document, 0, len(groups))
	for _, g := range groups {
		if g != nil {
			res = append(res, r.result(g, spec.output))
		}
	}
	return res, nil
}

func (r *run) facet(facets []facetSpec, docs []domain.Document) ([]domain.Document, error) {
	res, err := r.a.docFac(nil)
	if err != nil {
		return nil, err
	}
	for _, f := range facets {
		out, err := cursor.Collect(r.ctx, r.pipe(f.pipeline, cursor.Seq(docs)))
		if err != nil {
			return nil, err
		}
		list := make([]any, len(out))
		for n, doc := range out {
			list[n] = doc
		}
		res.Set(f.name, list)
	}
	return []domain.Document{res}, nil
}

func (r *run) sortByCount(expr any, docs []domain.Document) ([]domain.Document, error) {
	specs := []accumulatorSpec{{field: "count", op: "$sum", expr: 1}}
	groups, err := r.group(docs, expr, specs)
	if err != nil {
		return nil, err
	}
	err = r.a.sorter.Sort(groups, domain.Sort{{Key: "count", Order: -1}})
	return groups, err
}
