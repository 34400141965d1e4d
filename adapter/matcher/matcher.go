// Package matcher contains the default implementation of [domain.Matcher]
// using a mongo-like query language. Queries are compiled into a [Query] tree
// before being evaluated against values.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/expression"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
)

// ErrMixedOperators is returned when user provides a query with mixed use of
// normal fields and operators.
var ErrMixedOperators = errors.New("cannot mix operators and normal fields")

// ErrUnknownOperator is returned when user provides an unknown dollar field.
type ErrUnknownOperator struct {
	Operator string
}

// Error implements [error].
func (e ErrUnknownOperator) Error() string {
	return fmt.Sprintf("unknown operator %q", e.Operator)
}

// ErrCompArgType is returned when an operator is called with an argument of
// invalid type.
type ErrCompArgType struct {
	Comp   string
	Want   string
	Actual any
}

// Error implements [error].
func (e ErrCompArgType) Error() string {
	return fmt.Sprintf("%s value should be of type %s, got %T", e.Comp, e.Want, e.Actual)
}

// Matcher implements [domain.Matcher].
type Matcher struct {
	comparer       domain.Comparer
	fieldNavigator domain.FieldNavigator
	evaluator      domain.Evaluator
	vars           map[string]any
}

// NewMatcher returns a new implementation of domain.Matcher.
func NewMatcher(options ...Option) domain.Matcher {
	m := &Matcher{
		comparer:       comparer.NewComparer(),
		fieldNavigator: fieldnavigator.NewFieldNavigator(data.NewDocument),
	}
	for _, option := range options {
		option(m)
	}
	if m.evaluator == nil {
		m.evaluator = expression.NewEvaluator(
			expression.WithComparer(m.comparer),
			expression.WithFieldNavigator(m.fieldNavigator),
		)
	}
	return m
}

// WithVariables returns a copy of m whose $expr clauses can read vars as
// "$$name".
func (m *Matcher) WithVariables(vars map[string]any) *Matcher {
	cp := *m
	cp.vars = vars
	return &cp
}

// Match implements [domain.Matcher]. query may be a filter document or a
// [Query] returned by [Matcher.Compile].
func (m *Matcher) Match(value any, query any) (bool, error) {
	var q Query
	switch t := query.(type) {
	case Query:
		q = t
	case *Query:
		q = *t
	default:
		var err error
		if q, err = m.Compile(query); err != nil {
			return false, err
		}
	}
	return m.matchQuery(value, q)
}

// Compile parses a filter document. A nil filter matches everything.
func (m *Matcher) Compile(query any) (Query, error) {
	var q Query
	if query == nil {
		return q, nil
	}
	fields, err := structure.Seq2(query)
	if err != nil {
		return q, ErrCompArgType{Comp: "query", Want: "document", Actual: query}
	}
	for k, v := range fields {
		lo, skip, err := m.compileEntry(k, v)
		if err != nil {
			return q, err
		}
		if !skip {
			q.Lo = append(q.Lo, lo)
		}
	}
	return q, nil
}

func (m *Matcher) compileEntry(k string, v any) (LogicOp, bool, error) {
	switch k {
	case "$and":
		return m.compileLogic(And, k, v)
	case "$or":
		return m.compileLogic(Or, k, v)
	case "$nor":
		return m.compileLogic(Nor, k, v)
	case "$where":
		where, ok := v.(func(any) (bool, error))
		if !ok {
			return LogicOp{}, false, ErrCompArgType{Comp: k, Want: "func(any) (bool, error)", Actual: v}
		}
		return LogicOp{Type: Where, Where: where}, false, nil
	case "$expr":
		return LogicOp{Type: Expr, Expr: v}, false, nil
	case "$comment":
		return LogicOp{}, true, nil
	}
	if strings.HasPrefix(k, "$") {
		return LogicOp{}, false, ErrUnknownOperator{Operator: k}
	}
	addr, err := m.fieldNavigator.GetAddress(k)
	if err != nil {
		return LogicOp{}, false, err
	}
	conds, err := m.compileConds(v)
	if err != nil {
		return LogicOp{}, false, err
	}
	return LogicOp{Type: Field, Rule: FieldRule{Addr: addr, Conds: conds}}, false, nil
}

func (m *Matcher) compileLogic(typ uint8, name string, v any) (LogicOp, bool, error) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return LogicOp{}, false, ErrCompArgType{Comp: name, Want: "non-empty list", Actual: v}
	}
	lo := LogicOp{Type: typ, Sub: make([]Query, len(items))}
	for n, item := range items {
		var err error
		if lo.Sub[n], err = m.Compile(item); err != nil {
			return lo, false, err
		}
	}
	return lo, false, nil
}

// isOperatorDoc reports whether v is a document of operators. Documents mixing
// operators and plain fields are rejected.
func isOperatorDoc(v any) (domain.Document, bool, error) {
	doc, ok := v.(domain.Document)
	if !ok || doc.Len() == 0 {
		return nil, false, nil
	}
	var dollar int
	for k := range doc.Keys() {
		if strings.HasPrefix(k, "$") {
			dollar++
		}
	}
	switch dollar {
	case 0:
		return doc, false, nil
	case doc.Len():
		return doc, true, nil
	default:
		return nil, false, ErrMixedOperators
	}
}

func (m *Matcher) compileConds(v any) ([]Cond, error) {
	if re, ok := v.(*regexp.Regexp); ok {
		return []Cond{{Op: Regex, Re: re}}, nil
	}
	doc, operators, err := isOperatorDoc(v)
	if err != nil {
		return nil, err
	}
	if !operators {
		return []Cond{{Op: Eq, Val: v}}, nil
	}

	conds := make([]Cond, 0, doc.Len())
	for k, val := range doc.Iter() {
		if k == "$options" {
			if !doc.Has("$regex") {
				return nil, ErrCompArgType{Comp: k, Want: "$regex sibling", Actual: val}
			}
			continue
		}
		cond, err := m.compileCond(k, val, doc)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func (m *Matcher) compileCond(k string, v any, parent domain.Document) (Cond, error) {
	switch k {
	case "$eq":
		return Cond{Op: Eq, Val: v}, nil
	case "$ne":
		return Cond{Op: Ne, Val: v}, nil
	case "$lt":
		return Cond{Op: Lt, Val: v}, nil
	case "$lte":
		return Cond{Op: Lte, Val: v}, nil
	case "$gt":
		return Cond{Op: Gt, Val: v}, nil
	case "$gte":
		return Cond{Op: Gte, Val: v}, nil
	case "$exists":
		return Cond{Op: Exists, Val: structure.Truthy(v)}, nil
	case "$in", "$nin", "$all":
		list, ok := v.([]any)
		if !ok {
			return Cond{}, ErrCompArgType{Comp: k, Want: "list", Actual: v}
		}
		op := map[string]uint8{"$in": In, "$nin": Nin, "$all": All}[k]
		return Cond{Op: op, List: list}, nil
	case "$size":
		size, ok := structure.AsInteger(v)
		if !ok || size < 0 {
			return Cond{}, ErrCompArgType{Comp: k, Want: "non-negative integer", Actual: v}
		}
		return Cond{Op: Size, Size: size}, nil
	case "$regex":
		re, err := compileRegex(v, parent.Get("$options"))
		if err != nil {
			return Cond{}, err
		}
		return Cond{Op: Regex, Re: re}, nil
	case "$not":
		conds, err := m.compileNot(v)
		return Cond{Op: Not, Conds: conds}, err
	case "$elemMatch":
		return m.compileElemMatch(v)
	case "$type":
		types, err := compileTypes(v)
		return Cond{Op: Type, Types: types}, err
	case "$mod":
		return compileMod(v)
	default:
		return Cond{}, ErrUnknownOperator{Operator: k}
	}
}

func (m *Matcher) compileNot(v any) ([]Cond, error) {
	if re, ok := v.(*regexp.Regexp); ok {
		return []Cond{{Op: Regex, Re: re}}, nil
	}
	_, operators, err := isOperatorDoc(v)
	if err != nil {
		return nil, err
	}
	if !operators {
		return nil, ErrCompArgType{Comp: "$not", Want: "operator document or regex", Actual: v}
	}
	return m.compileConds(v)
}

func (m *Matcher) compileElemMatch(v any) (Cond, error) {
	doc, operators, err := isOperatorDoc(v)
	if err != nil {
		return Cond{}, err
	}
	if doc == nil {
		return Cond{}, ErrCompArgType{Comp: "$elemMatch", Want: "document", Actual: v}
	}
	if operators && !doc.Has("$and") && !doc.Has("$or") && !doc.Has("$nor") && !doc.Has("$expr") && !doc.Has("$where") {
		conds, err := m.compileConds(doc)
		return Cond{Op: ElemMatch, Conds: conds}, err
	}
	sub, err := m.Compile(doc)
	return Cond{Op: ElemMatch, Sub: &sub}, err
}

func compileRegex(v any, options any) (*regexp.Regexp, error) {
	var pattern string
	switch t := v.(type) {
	case *regexp.Regexp:
		if options == nil {
			return t, nil
		}
		pattern = t.String()
	case string:
		pattern = t
	default:
		return nil, ErrCompArgType{Comp: "$regex", Want: "string or regexp", Actual: v}
	}
	if options != nil {
		opts, ok := options.(string)
		if !ok {
			return nil, ErrCompArgType{Comp: "$options", Want: "string", Actual: options}
		}
		var flags strings.Builder
		for _, o := range opts {
			switch o {
			case 'i', 'm', 's':
				flags.WriteRune(o)
			default:
				return nil, ErrCompArgType{Comp: "$options", Want: "flags among i, m and s", Actual: options}
			}
		}
		if flags.Len() > 0 {
			pattern = "(?" + flags.String() + ")" + pattern
		}
	}
	return regexp.Compile(pattern)
}

var typeCodes = map[int]string{
	1: "double", 2: "string", 3: "object", 4: "array", 5: "binData",
	8: "bool", 9: "date", 10: "null", 11: "regex", 16: "int", 18: "long",
}

func compileTypes(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	types := make([]string, len(items))
	for n, item := range items {
		switch t := item.(type) {
		case string:
			types[n] = t
		default:
			code, ok := structure.AsInteger(item)
			if !ok || typeCodes[code] == "" {
				return nil, ErrCompArgType{Comp: "$type", Want: "type alias or code", Actual: item}
			}
			types[n] = typeCodes[code]
		}
	}
	return types, nil
}

func compileMod(v any) (Cond, error) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return Cond{}, ErrCompArgType{Comp: "$mod", Want: "[divisor, remainder]", Actual: v}
	}
	div, ok1 := structure.AsFloat(list[0])
	rem, ok2 := structure.AsFloat(list[1])
	if !ok1 || !ok2 || math.Trunc(div) == 0 {
		return Cond{}, ErrCompArgType{Comp: "$mod", Want: "[divisor, remainder]", Actual: v}
	}
	return Cond{Op: Mod, List: []any{math.Trunc(div), math.Trunc(rem)}}, nil
}

func (m *Matcher) matchQuery(value any, q Query) (bool, error) {
	for _, lo := range q.Lo {
		ok, err := m.matchLogicOp(value, lo)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) matchLogicOp(value any, lo LogicOp) (bool, error) {
	switch lo.Type {
	case And, Or, Nor:
		for _, sub := range lo.Sub {
			ok, err := m.matchQuery(value, sub)
			if err != nil {
				return false, err
			}
			switch {
			case lo.Type == And && !ok:
				return false, nil
			case lo.Type == Or && ok:
				return true, nil
			case lo.Type == Nor && ok:
				return false, nil
			}
		}
		return lo.Type != Or, nil
	case Where:
		return lo.Where(value)
	case Expr:
		doc, ok := value.(domain.Document)
		if !ok {
			return false, nil
		}
		res, err := m.evaluator.Evaluate(lo.Expr, doc, m.vars)
		if err != nil {
			return false, err
		}
		return structure.Truthy(res), nil
	default:
		values, _, err := m.fieldNavigator.GetField(value, lo.Rule.Addr...)
		if err != nil {
			return false, err
		}
		return m.matchConds(values, lo.Rule.Conds)
	}
}

func (m *Matcher) matchConds(values []domain.GetSetter, conds []Cond) (bool, error) {
	for n := range conds {
		ok, err := m.matchCond(values, &conds[n])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// matchCond reports whether any of the addressed values satisfies cond.
// Negated operators hold when no value satisfies their positive counterpart.
func (m *Matcher) matchCond(values []domain.GetSetter, cond *Cond) (bool, error) {
	switch cond.Op {
	case Ne:
		ok, err := m.matchCond(values, &Cond{Op: Eq, Val: cond.Val})
		return !ok, err
	case Nin:
		ok, err := m.matchCond(values, &Cond{Op: In, List: cond.List})
		return !ok, err
	case Not:
		ok, err := m.matchConds(values, cond.Conds)
		return !ok, err
	case Exists:
		for _, gs := range values {
			if _, defined := gs.Get(); defined {
				return cond.Val.(bool), nil
			}
		}
		return !cond.Val.(bool), nil
	}
	for _, gs := range values {
		v, defined := gs.Get()
		ok, err := m.matchValue(v, defined, cond)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (m *Matcher) matchValue(v any, defined bool, cond *Cond) (bool, error) {
	switch cond.Op {
	case Eq:
		return m.eq(v, defined, cond.Val), nil
	case In:
		return m.in(v, defined, cond.List)
	case Lt, Lte, Gt, Gte:
		return m.compare(v, defined, cond), nil
	case Size:
		list, ok := v.([]any)
		return ok && len(list) == cond.Size, nil
	case Regex:
		return m.regex(v, cond.Re), nil
	case All:
		if len(cond.List) == 0 || !defined {
			return false, nil
		}
		for _, item := range cond.List {
			if ok, err := m.in(v, defined, []any{item}); err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ElemMatch:
		return m.elemMatch(v, cond)
	case Type:
		return defined && m.hasType(v, cond.Types), nil
	case Mod:
		return m.mod(v, cond.List[0].(float64), cond.List[1].(float64)), nil
	default:
		return false, fmt.Errorf("unexpected operator %d", cond.Op)
	}
}

// candidates returns v and, for arrays, each of its elements.
func candidates(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return []any{v}
	}
	return append([]any{v}, list...)
}

func (m *Matcher) eq(v any, defined bool, target any) bool {
	if !defined {
		return target == nil
	}
	if re, ok := target.(*regexp.Regexp); ok {
		return m.regex(v, re)
	}
	for _, c := range candidates(v) {
		if comparer.Equal(m.comparer, c, target) {
			return true
		}
	}
	return false
}

func (m *Matcher) in(v any, defined bool, list []any) (bool, error) {
	for _, item := range list {
		if _, operators, err := isOperatorDoc(item); err != nil || operators {
			return false, ErrCompArgType{Comp: "$in", Want: "values without operators", Actual: item}
		}
		if m.eq(v, defined, item) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Matcher) compare(v any, defined bool, cond *Cond) bool {
	if !defined {
		return false
	}
	for _, c := range candidates(v) {
		if !m.comparer.Comparable(c, cond.Val) {
			continue
		}
		comp, err := m.comparer.Compare(c, cond.Val)
		if err != nil {
			continue
		}
		switch {
		case cond.Op == Lt && comp < 0,
			cond.Op == Lte && comp <= 0,
			cond.Op == Gt && comp > 0,
			cond.Op == Gte && comp >= 0:
			return true
		}
	}
	return false
}

func (m *Matcher) regex(v any, re *regexp.Regexp) bool {
	for _, c := range candidates(v) {
		if s, ok := c.(string); ok && re.MatchString(s) {
			return true
		}
	}
	return false
}

func (m *Matcher) elemMatch(v any, cond *Cond) (bool, error) {
	list, ok := v.([]any)
	if !ok {
		return false, nil
	}
	for _, item := range list {
		var ok bool
		var err error
		if cond.Sub != nil {
			if _, isDoc := item.(domain.Document); !isDoc {
				continue
			}
			ok, err = m.matchQuery(item, *cond.Sub)
		} else {
			ok, err = m.matchConds([]domain.GetSetter{fieldnavigator.NewReadOnly(item)}, cond.Conds)
		}
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (m *Matcher) hasType(v any, types []string) bool {
	name := structure.TypeName(v)
	for _, t := range types {
		if t == name || (t == "number" && structure.IsNumber(v)) {
			return true
		}
	}
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if _, nested := item.([]any); !nested && m.hasType(item, types) {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) mod(v any, div, rem float64) bool {
	for _, c := range candidates(v) {
		f, ok := structure.AsFloat(c)
		if ok && !math.IsNaN(f) && !math.IsInf(f, 0) && math.Mod(math.Trunc(f), div) == rem {
			return true
		}
	}
	return false
}
