package matcher

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithComparer sets the comparer implementation for value comparisons during
// matching.
func WithComparer(c domain.Comparer) Option {
	return func(mo *Matcher) {
		mo.comparer = c
	}
}

// WithFieldNavigator sets the field navigator for accessing document fields
// during matching.
func WithFieldNavigator(f domain.FieldNavigator) Option {
	return func(mo *Matcher) {
		mo.fieldNavigator = f
	}
}

// WithEvaluator sets the expression evaluator used by $expr.
func WithEvaluator(e domain.Evaluator) Option {
	return func(mo *Matcher) {
		mo.evaluator = e
	}
}

// Option configures matcher behavior through the functional options pattern.
type Option func(*Matcher)
