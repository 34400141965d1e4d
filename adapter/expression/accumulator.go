package expression

import (
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/uncomparable"
)

// Accumulator folds the values of a group into a single result.
type Accumulator interface {
	// Accumulate adds an evaluated value to the group.
	Accumulate(v any) error
	// Result returns the accumulated value.
	Result() any
}

// NewAccumulator returns a new accumulator for op, such as "$sum" or "$push".
func (e *Evaluator) NewAccumulator(op string) (Accumulator, error) {
	switch op {
	case "$sum":
		return &sum{}, nil
	case "$avg":
		return &avg{}, nil
	case "$min":
		return &extreme{comparer: e.comparer, want: -1}, nil
	case "$max":
		return &extreme{comparer: e.comparer, want: 1}, nil
	case "$push":
		return &push{values: []any{}}, nil
	case "$addToSet":
		return &addToSet{seen: uncomparable.New[struct{}](e.hasher, e.comparer), values: []any{}}, nil
	case "$first":
		return &edge{first: true}, nil
	case "$last":
		return &edge{}, nil
	case "$count":
		return &count{}, nil
	case "$mergeObjects":
		return &merge{res: data.M{}}, nil
	default:
		return nil, ErrUnknownExpression{Operator: op}
	}
}

type sum struct {
	i       int64
	f       float64
	isFloat bool
}

func (s *sum) Accumulate(v any) error {
	if !structure.IsNumber(v) {
		return nil
	}
	f, _ := structure.AsFloat(v)
	s.f += f
	if structure.IsIntegral(v) {
		i, _ := structure.AsInteger(v)
		s.i += int64(i)
	} else {
		s.isFloat = true
	}
	return nil
}

func (s *sum) Result() any {
	if s.isFloat {
		return s.f
	}
	return s.i
}

type avg struct {
	total float64
	n     int
}

func (a *avg) Accumulate(v any) error {
	if f, ok := structure.AsFloat(v); ok {
		a.total += f
		a.n++
	}
	return nil
}

func (a *avg) Result() any {
	if a.n == 0 {
		return nil
	}
	return a.total / float64(a.n)
}

type extreme struct {
	comparer domain.Comparer
	want     int
	value    any
	set      bool
}

func (x *extreme) Accumulate(v any) error {
	if nullish(v) {
		return nil
	}
	if !x.set {
		x.value, x.set = v, true
		return nil
	}
	c, err := x.comparer.Compare(v, x.value)
	if err != nil {
		return err
	}
	if c == x.want {
		x.value = v
	}
	return nil
}

func (x *extreme) Result() any { return x.value }

type push struct {
	values []any
}

func (p *push) Accumulate(v any) error {
	if !IsMissing(v) {
		p.values = append(p.values, v)
	}
	return nil
}

func (p *push) Result() any { return p.values }

type addToSet struct {
	seen   *uncomparable.Map[struct{}]
	values []any
}

func (a *addToSet) Accumulate(v any) error {
	if IsMissing(v) {
		return nil
	}
	has, err := a.seen.Has(v)
	if err != nil || has {
		return err
	}
	if err := a.seen.Set(v, struct{}{}); err != nil {
		return err
	}
	a.values = append(a.values, v)
	return nil
}

func (a *addToSet) Result() any { return a.values }

type edge struct {
	first bool
	value any
	set   bool
}

func (e *edge) Accumulate(v any) error {
	if e.first && e.set {
		return nil
	}
	e.value, e.set = Value(v), true
	return nil
}

func (e *edge) Result() any { return e.value }

type count struct {
	n int64
}

func (c *count) Accumulate(any) error {
	c.n++
	return nil
}

func (c *count) Result() any { return c.n }

type merge struct {
	res data.M
}

func (m *merge) Accumulate(v any) error {
	if nullish(v) {
		return nil
	}
	doc, ok := v.(domain.Document)
	if !ok {
		return ErrArgument{Operator: "$mergeObjects", Reason: "requires object inputs, found " + structure.TypeName(v)}
	}
	for k, val := range doc.Iter() {
		m.res[k] = val
	}
	return nil
}

func (m *merge) Result() any { return m.res }
