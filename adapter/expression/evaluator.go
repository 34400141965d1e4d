// Package expression evaluates aggregation expressions: field paths ("$a.b"),
// variables ("$$ROOT", "$$name"), literals, object expressions and operator
// documents such as {"$add": ["$a", 1]}. It also provides the accumulators
// used by grouping stages.
package expression

import (
	"fmt"
	"strings"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// ErrUnknownExpression is returned for unsupported expression operators.
type ErrUnknownExpression struct {
	Operator string
}

// Error implements [error].
func (e ErrUnknownExpression) Error() string {
	return fmt.Sprintf("unrecognized expression %q", e.Operator)
}

// ErrUndefinedVariable is returned when an expression references a variable
// that was never bound.
type ErrUndefinedVariable struct {
	Name string
}

// Error implements [error].
func (e ErrUndefinedVariable) Error() string {
	return fmt.Sprintf("use of undefined variable: %s", e.Name)
}

// ErrArgument is returned when an operator receives an invalid argument.
type ErrArgument struct {
	Operator string
	Reason   string
}

// Error implements [error].
func (e ErrArgument) Error() string {
	return fmt.Sprintf("%s %s", e.Operator, e.Reason)
}

// Missing is the result of expressions that resolve to nothing, such as paths
// to unset fields or "$$REMOVE". Stages drop fields set to a missing value.
var Missing = fieldnavigator.Undefined()

// IsMissing reports whether v is a missing value.
func IsMissing(v any) bool {
	g, ok := v.(domain.Getter)
	if !ok {
		return false
	}
	_, defined := g.Get()
	return !defined
}

// Value converts missing values into nil.
func Value(v any) any {
	if IsMissing(v) {
		return nil
	}
	return v
}

// Evaluator implements [domain.Evaluator].
type Evaluator struct {
	comparer       domain.Comparer
	fieldNavigator domain.FieldNavigator
	hasher         domain.Hasher
}

// NewEvaluator returns a new implementation of [domain.Evaluator].
func NewEvaluator(options ...Option) *Evaluator {
	e := &Evaluator{
		comparer:       comparer.NewComparer(),
		fieldNavigator: fieldnavigator.NewFieldNavigator(data.NewDocument),
		hasher:         hasher.NewHasher(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

type scope struct {
	root domain.Document
	vars map[string]any
}

func (s *scope) with(name string, value any) *scope {
	vars := make(map[string]any, len(s.vars)+1)
	for k, v := range s.vars {
		vars[k] = v
	}
	vars[name] = value
	return &scope{root: s.root, vars: vars}
}

// Evaluate implements [domain.Evaluator].
func (e *Evaluator) Evaluate(expr any, root domain.Document, vars map[string]any) (any, error) {
	return e.eval(&scope{root: root, vars: vars}, expr)
}

func (e *Evaluator) eval(sc *scope, expr any) (any, error) {
	switch t := expr.(type) {
	case string:
		switch {
		case strings.HasPrefix(t, "$$"):
			return e.variable(sc, t[2:])
		case strings.HasPrefix(t, "$"):
			return e.path(sc.root, t[1:])
		default:
			return t, nil
		}
	case []any:
		res := make([]any, len(t))
		for n, item := range t {
			v, err := e.eval(sc, item)
			if err != nil {
				return nil, err
			}
			res[n] = Value(v)
		}
		return res, nil
	case domain.Document:
		return e.evalDoc(sc, t)
	default:
		return t, nil
	}
}

func (e *Evaluator) evalDoc(sc *scope, doc domain.Document) (any, error) {
	if key, ok := data.FirstKey(doc); ok && strings.HasPrefix(key, "$") {
		if doc.Len() > 1 {
			return nil, ErrArgument{Operator: key, Reason: "must be the only field of an expression object"}
		}
		op, ok := operators[key]
		if !ok {
			return nil, ErrUnknownExpression{Operator: key}
		}
		return op(e, sc, doc.Get(key))
	}
	res := make(data.M, doc.Len())
	for k, v := range doc.Iter() {
		if strings.HasPrefix(k, "$") {
			return nil, ErrArgument{Operator: k, Reason: "cannot be used as a field name"}
		}
		val, err := e.eval(sc, v)
		if err != nil {
			return nil, err
		}
		if !IsMissing(val) {
			res[k] = val
		}
	}
	return res, nil
}

func (e *Evaluator) variable(sc *scope, name string) (any, error) {
	base, rest, _ := strings.Cut(name, ".")
	var v any
	switch base {
	case "ROOT", "CURRENT":
		v = sc.root
	case "REMOVE":
		return Missing, nil
	default:
		var ok bool
		if v, ok = sc.vars[base]; !ok {
			return nil, ErrUndefinedVariable{Name: base}
		}
	}
	if rest == "" {
		return v, nil
	}
	return e.path(v, rest)
}

// path resolves a dotted path. Paths crossing arrays return the list of every
// value found.
func (e *Evaluator) path(v any, p string) (any, error) {
	addr, err := e.fieldNavigator.GetAddress(p)
	if err != nil {
		return nil, err
	}
	gss, expanded, err := e.fieldNavigator.GetField(v, addr...)
	if err != nil {
		return nil, err
	}
	if expanded {
		return fieldnavigator.Values(gss), nil
	}
	if val, defined := gss[0].Get(); defined {
		return val, nil
	}
	return Missing, nil
}

// args evaluates an operator argument. Lists are argument lists; any other
// value is a single argument.
func (e *Evaluator) args(sc *scope, raw any) ([]any, error) {
	list, ok := raw.([]any)
	if !ok {
		list = []any{raw}
	}
	res := make([]any, len(list))
	for n, item := range list {
		v, err := e.eval(sc, item)
		if err != nil {
			return nil, err
		}
		res[n] = v
	}
	return res, nil
}

func (e *Evaluator) nArgs(sc *scope, op string, raw any, n int) ([]any, error) {
	args, err := e.args(sc, raw)
	if err != nil {
		return nil, err
	}
	if len(args) != n {
		return nil, ErrArgument{Operator: op, Reason: fmt.Sprintf("takes exactly %d arguments, %d given", n, len(args))}
	}
	return args, nil
}

// named reads the fields of an operator taking a document argument.
func named(op string, raw any, required ...string) (domain.Document, error) {
	doc, ok := raw.(domain.Document)
	if !ok {
		return nil, ErrArgument{Operator: op, Reason: "expects an object"}
	}
	for _, r := range required {
		if !doc.Has(r) {
			return nil, ErrArgument{Operator: op, Reason: fmt.Sprintf("requires '%s'", r)}
		}
	}
	return doc, nil
}

func nullish(v any) bool {
	return v == nil || IsMissing(v)
}
