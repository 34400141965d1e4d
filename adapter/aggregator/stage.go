package aggregator

import (
	"fmt"
	"strings"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/planner"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/projector"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/querier"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
)

// Kind identifies a built-in stage.
type Kind uint8

// Built-in stage kinds.
const (
	KindMatch Kind = iota
	KindProject
	KindSet
	KindUnset
	KindUnwind
	KindSkip
	KindLimit
	KindReplaceRoot
	KindLookup
	KindGroup
	KindSort
	KindBucket
	KindFacet
	KindCount
	KindSortByCount
	KindMerge
	KindOut
	KindCustom
)

var kinds = map[string]Kind{
	"$match":       KindMatch,
	"$project":     KindProject,
	"$set":         KindSet,
	"$addFields":   KindSet,
	"$unset":       KindUnset,
	"$unwind":      KindUnwind,
	"$skip":        KindSkip,
	"$limit":       KindLimit,
	"$replaceRoot": KindReplaceRoot,
	"$replaceWith": KindReplaceRoot,
	"$lookup":      KindLookup,
	"$group":       KindGroup,
	"$sort":        KindSort,
	"$bucket":      KindBucket,
	"$facet":       KindFacet,
	"$count":       KindCount,
	"$sortByCount": KindSortByCount,
	"$merge":       KindMerge,
	"$out":         KindOut,
}

// Buffered reports whether stages of kind k need the whole upstream result
// before producing output.
func (k Kind) Buffered() bool {
	switch k {
	case KindGroup, KindSort, KindBucket, KindFacet, KindCount, KindSortByCount:
		return true
	default:
		return false
	}
}

// ErrStageArgument is returned when a stage receives an invalid argument.
type ErrStageArgument struct {
	Stage  string
	Reason string
}

// Error implements [error].
func (e ErrStageArgument) Error() string {
	return fmt.Sprintf("%s %s", e.Stage, e.Reason)
}

type fieldExpr struct {
	path string
	expr any
}

type accumulatorSpec struct {
	field string
	op    string
	expr  any
}

type unwindSpec struct {
	path          string
	indexField    string
	preserveEmpty bool
}

type lookupSpec struct {
	from         domain.Namespace
	as           string
	localField   string
	foreignField string
	let          []fieldExpr
	pipeline     []*stage
}

type facetSpec struct {
	name     string
	pipeline []*stage
}

type bucketSpec struct {
	groupBy    any
	boundaries []any
	def        any
	hasDefault bool
	output     []accumulatorSpec
}

type mergeSpec struct {
	whenMatched    string
	whenNotMatched string
}

// stage is one compiled pipeline stage. Only the fields of its kind are set.
type stage struct {
	kind Kind
	name string

	filter     any
	projection domain.Projection
	computed   []fieldExpr
	exclude    bool
	fields     []fieldExpr
	n          int64
	expr       any
	sort       domain.Sort
	unwind     unwindSpec
	lookup     *lookupSpec
	groupID    any
	accums     []accumulatorSpec
	bucket     *bucketSpec
	facets     []facetSpec
	countField string
	merge      mergeSpec
	custom     Operator
}

// compile validates every stage, nested pipelines included, before anything
// runs.
func (a *Aggregator) compile(ns domain.Namespace, pipeline []domain.Document) ([]*stage, error) {
	res := make([]*stage, 0, len(pipeline))
	for n, doc := range pipeline {
		name, err := planner.StageName(doc)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", n, err)
		}
		st, err := a.compileStage(ns, name, doc.Get(name))
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, nil
}

func (a *Aggregator) compileNested(ns domain.Namespace, raw any, stage string) ([]*stage, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, ErrStageArgument{Stage: stage, Reason: "pipeline must be an array"}
	}
	docs, err := planner.Stages(list)
	if err != nil {
		return nil, err
	}
	return a.compile(ns, docs)
}

func (a *Aggregator) compileStage(ns domain.Namespace, name string, arg any) (*stage, error) {
	kind, builtin := kinds[name]
	if !builtin {
		factory, ok := a.operators[name]
		if !ok {
			return nil, domain.ErrUnsupportedOperator{Operator: name}
		}
		op, err := factory(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &stage{kind: KindCustom, name: name, custom: op}, nil
	}

	st := &stage{kind: kind, name: name}
	var err error
	switch kind {
	case KindMatch:
		err = a.compileMatch(st, arg)
	case KindProject:
		err = a.compileProject(st, arg)
	case KindSet:
		st.fields, err = a.fieldExprs(name, arg)
	case KindUnset:
		err = a.compileUnset(st, arg)
	case KindUnwind:
		err = a.compileUnwind(st, arg)
	case KindSkip, KindLimit:
		n, ok := structure.AsInteger(arg)
		if !ok || n < 0 || (kind == KindLimit && n == 0) {
			return nil, ErrStageArgument{Stage: name, Reason: "requires a positive integer"}
		}
		st.n = int64(n)
	case KindReplaceRoot:
		err = a.compileReplaceRoot(st, arg)
	case KindLookup:
		err = a.compileLookup(ns, st, arg)
	case KindGroup:
		err = a.compileGroup(st, arg)
	case KindSort:
		spec, ok := arg.(domain.Document)
		if !ok {
			return nil, ErrStageArgument{Stage: name, Reason: "requires an object"}
		}
		if st.sort, err = querier.ParseSort(spec); err == nil && len(st.sort) == 0 {
			err = ErrStageArgument{Stage: name, Reason: "requires at least one sort key"}
		}
	case KindBucket:
		err = a.compileBucket(st, arg)
	case KindFacet:
		err = a.compileFacet(ns, st, arg)
	case KindCount:
		field, ok := arg.(string)
		if !ok || field == "" || strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
			return nil, ErrStageArgument{Stage: name, Reason: "requires a non-empty field name without '$' or '.'"}
		}
		st.countField = field
	case KindSortByCount:
		st.expr = arg
	case KindMerge:
		err = a.compileMerge(st, arg)
	case KindOut:
		// the target is resolved by the planner
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (a *Aggregator) compileMatch(st *stage, arg any) error {
	filter, ok := arg.(domain.Document)
	if !ok {
		return ErrStageArgument{Stage: st.name, Reason: "requires an object"}
	}
	st.filter = filter
	if m, ok := a.matcher.(*matcher.Matcher); ok {
		q, err := m.Compile(filter)
		if err != nil {
			return err
		}
		st.filter = q
	}
	return nil
}

func (a *Aggregator) compileProject(st *stage, arg any) error {
	spec, ok := arg.(domain.Document)
	if !ok || spec.Len() == 0 {
		return ErrStageArgument{Stage: st.name, Reason: "requires a non-empty object"}
	}
	if proj, ok := projector.ParseProjection(spec); ok {
		st.projection = proj
		return nil
	}
	// computed fields mixed with inclusions
	st.projection = domain.Projection{}
	for k, v := range spec.Iter() {
		switch {
		case isFlag(v) && structure.Truthy(v):
			st.projection[k] = 1
		case isFlag(v) && k == "_id":
			st.projection[k] = 0
		case isFlag(v):
			return ErrStageArgument{Stage: st.name, Reason: fmt.Sprintf("cannot exclude %q in inclusion projection", k)}
		default:
			st.computed = append(st.computed, fieldExpr{path: k, expr: v})
		}
	}
	return nil
}

func isFlag(v any) bool {
	_, isBool := v.(bool)
	return isBool || structure.IsNumber(v)
}

func (a *Aggregator) fieldExprs(stage string, arg any) ([]fieldExpr, error) {
	spec, ok := arg.(domain.Document)
	if !ok {
		return nil, ErrStageArgument{Stage: stage, Reason: "requires an object"}
	}
	res := make([]fieldExpr, 0, spec.Len())
	for k, v := range spec.Iter() {
		if k == "" || strings.HasPrefix(k, "$") {
			return nil, ErrStageArgument{Stage: stage, Reason: fmt.Sprintf("invalid field name %q", k)}
		}
		res = append(res, fieldExpr{path: k, expr: v})
	}
	return res, nil
}

func (a *Aggregator) compileUnset(st *stage, arg any) error {
	var fields []any
	switch t := arg.(type) {
	case string:
		fields = []any{t}
	case []any:
		fields = t
	}
	if len(fields) == 0 {
		return ErrStageArgument{Stage: st.name, Reason: "requires a field name or a list of field names"}
	}
	st.projection = make(domain.Projection, len(fields))
	for _, f := range fields {
		name, ok := f.(string)
		if !ok || name == "" {
			return ErrStageArgument{Stage: st.name, Reason: "requires string field names"}
		}
		st.projection[name] = 0
	}
	return nil
}

func (a *Aggregator) compileUnwind(st *stage, arg any) error {
	path, ok := arg.(string)
	if spec, isDoc := arg.(domain.Document); isDoc {
		path, ok = spec.Get("path").(string)
		st.unwind.indexField, _ = spec.Get("includeArrayIndex").(string)
		st.unwind.preserveEmpty, _ = spec.Get("preserveNullAndEmptyArrays").(bool)
	}
	if !ok || !strings.HasPrefix(path, "$") || len(path) < 2 {
		return ErrStageArgument{Stage: st.name, Reason: "path must be a field path prefixed with '$'"}
	}
	st.unwind.path = path[1:]
	return nil
}

func (a *Aggregator) compileReplaceRoot(st *stage, arg any) error {
	if st.name == "$replaceWith" {
		st.expr = arg
		return nil
	}
	spec, ok := arg.(domain.Document)
	if !ok || !spec.Has("newRoot") {
		return ErrStageArgument{Stage: st.name, Reason: "requires 'newRoot'"}
	}
	st.expr = spec.Get("newRoot")
	return nil
}

func (a *Aggregator) compileLookup(ns domain.Namespace, st *stage, arg any) error {
	spec, ok := arg.(domain.Document)
	if !ok {
		return ErrStageArgument{Stage: st.name, Reason: "requires an object"}
	}
	from, ok := spec.Get("from").(string)
	if !ok || from == "" {
		fromDoc, isDoc := spec.Get("from").(domain.Document)
		coll, _ := docString(fromDoc, "coll")
		if !isDoc || coll == "" {
			return domain.ErrUnresolvedCollection{Stage: st.name}
		}
		db, _ := docString(fromDoc, "db")
		if db == "" {
			db = ns.DB
		}
		ns = domain.NewNamespace(db, coll)
	} else {
		ns = domain.NewNamespace(ns.DB, from)
	}

	ls := &lookupSpec{from: ns}
	ls.as, _ = spec.Get("as").(string)
	if ls.as == "" {
		return ErrStageArgument{Stage: st.name, Reason: "requires 'as'"}
	}
	ls.localField, _ = spec.Get("localField").(string)
	ls.foreignField, _ = spec.Get("foreignField").(string)
	if (ls.localField == "") != (ls.foreignField == "") {
		return ErrStageArgument{Stage: st.name, Reason: "requires both 'localField' and 'foreignField'"}
	}
	if spec.Has("let") {
		var err error
		if ls.let, err = a.fieldExprs(st.name, spec.Get("let")); err != nil {
			return err
		}
	}
	if spec.Has("pipeline") {
		sub, err := a.compileNested(ns, spec.Get("pipeline"), st.name)
		if err != nil {
			return err
		}
		ls.pipeline = sub
	} else if ls.localField == "" {
		return ErrStageArgument{Stage: st.name, Reason: "requires 'localField' and 'foreignField' or 'pipeline'"}
	}
	st.lookup = ls
	return nil
}

func docString(doc domain.Document, key string) (string, bool) {
	if doc == nil {
		return "", false
	}
	s, ok := doc.Get(key).(string)
	return s, ok
}

func (a *Aggregator) compileAccumulators(stage string, spec domain.Document, skip string) ([]accumulatorSpec, error) {
	var res []accumulatorSpec
	for k, v := range spec.Iter() {
		if k == skip {
			continue
		}
		acc, ok := v.(domain.Document)
		if !ok || acc.Len() != 1 {
			return nil, ErrStageArgument{Stage: stage, Reason: fmt.Sprintf("field %q must be an accumulator object", k)}
		}
		var op string
		for key := range acc.Keys() {
			op = key
		}
		if _, err := a.evaluator.NewAccumulator(op); err != nil {
			return nil, err
		}
		res = append(res, accumulatorSpec{field: k, op: op, expr: acc.Get(op)})
	}
	return res, nil
}

func (a *Aggregator) compileGroup(st *stage, arg any) error {
	spec, ok := arg.(domain.Document)
	if !ok || !spec.Has("_id") {
		return ErrStageArgument{Stage: st.name, Reason: "requires an '_id' field"}
	}
	st.groupID = spec.Get("_id")
	var err error
	st.accums, err = a.compileAccumulators(st.name, spec, "_id")
	return err
}

func (a *Aggregator) compileBucket(st *stage, arg any) error {
	spec, ok := arg.(domain.Document)
	if !ok || !spec.Has("groupBy") || !spec.Has("boundaries") {
		return ErrStageArgument{Stage: st.name, Reason: "requires 'groupBy' and 'boundaries'"}
	}
	bounds, ok := spec.Get("boundaries").([]any)
	if !ok || len(bounds) < 2 {
		return ErrStageArgument{Stage: st.name, Reason: "requires at least two boundaries"}
	}
	for n := 1; n < len(bounds); n++ {
		comp, err := a.comparer.Compare(bounds[n-1], bounds[n])
		if err != nil || comp >= 0 {
			return ErrStageArgument{Stage: st.name, Reason: "boundaries must be sorted in ascending order"}
		}
	}
	bs := &bucketSpec{
		groupBy:    spec.Get("groupBy"),
		boundaries: bounds,
		def:        spec.Get("default"),
		hasDefault: spec.Has("default"),
	}
	if out, ok := spec.Get("output").(domain.Document); ok {
		var err error
		if bs.output, err = a.compileAccumulators(st.name, out, ""); err != nil {
			return err
		}
	} else {
		bs.output = []accumulatorSpec{{field: "count", op: "$sum", expr: 1}}
	}
	st.bucket = bs
	return nil
}

func (a *Aggregator) compileFacet(ns domain.Namespace, st *stage, arg any) error {
	spec, ok := arg.(domain.Document)
	if !ok || spec.Len() == 0 {
		return ErrStageArgument{Stage: st.name, Reason: "requires a non-empty object"}
	}
	for k, v := range spec.Iter() {
		sub, err := a.compileNested(ns, v, st.name)
		if err != nil {
			return err
		}
		for _, s := range sub {
			if s.kind == KindMerge || s.kind == KindOut || s.kind == KindFacet {
				return ErrStageArgument{Stage: st.name, Reason: s.name + " is not allowed inside $facet"}
			}
		}
		st.facets = append(st.facets, facetSpec{name: k, pipeline: sub})
	}
	return nil
}

func (a *Aggregator) compileMerge(st *stage, arg any) error {
	st.merge = mergeSpec{whenMatched: "merge", whenNotMatched: "insert"}
	spec, ok := arg.(domain.Document)
	if !ok {
		return nil
	}
	if on, ok := spec.Get("on").(string); ok && on != "_id" {
		return ErrStageArgument{Stage: st.name, Reason: "only supports merging on '_id'"}
	}
	if wm, ok := spec.Get("whenMatched").(string); ok {
		switch wm {
		case "merge", "replace", "keepExisting", "fail":
			st.merge.whenMatched = wm
		default:
			return ErrStageArgument{Stage: st.name, Reason: fmt.Sprintf("unsupported whenMatched %q", wm)}
		}
	}
	if wn, ok := spec.Get("whenNotMatched").(string); ok {
		switch wn {
		case "insert", "discard", "fail":
			st.merge.whenNotMatched = wn
		default:
			return ErrStageArgument{Stage: st.name, Reason: fmt.Sprintf("unsupported whenNotMatched %q", wn)}
		}
	}
	return nil
}
