package matcher

import "regexp"

// Numeric representations of supported logic operators.
const (
	And uint8 = iota
	Or
	Nor
	Where
	Expr
	Field
)

// Numeric representations of supported field operators.
const (
	Eq uint8 = iota
	Ne
	Exists
	Lt
	Lte
	Gt
	Gte
	Size
	In
	Nin
	ElemMatch
	Regex
	Not
	All
	Type
	Mod
)

// Query stores a compiled filter. Every LogicOp must match for the query to
// match; an empty query matches everything.
type Query struct {
	Lo []LogicOp
}

// LogicOp stores either a logic operator ($and, $or, $nor) with its nested
// queries, a $where function, a $expr expression or a single field rule.
type LogicOp struct {
	Type  uint8
	Sub   []Query
	Rule  FieldRule
	Where func(any) (bool, error)
	Expr  any
}

// FieldRule stores the conditions applied to a field address.
type FieldRule struct {
	Addr  []string
	Conds []Cond
}

// Cond stores a single operation on a document field (such as $gt, $size).
type Cond struct {
	Op    uint8
	Val   any
	List  []any
	Re    *regexp.Regexp
	Sub   *Query
	Conds []Cond
	Size  int
	Types []string
}
