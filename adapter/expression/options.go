package expression

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithComparer sets the comparer used by comparison operators and
// accumulators.
func WithComparer(c domain.Comparer) Option {
	return func(e *Evaluator) {
		e.comparer = c
	}
}

// WithFieldNavigator sets the navigator used to resolve "$field.path" values.
func WithFieldNavigator(f domain.FieldNavigator) Option {
	return func(e *Evaluator) {
		e.fieldNavigator = f
	}
}

// WithHasher sets the hasher used by $addToSet.
func WithHasher(h domain.Hasher) Option {
	return func(e *Evaluator) {
		e.hasher = h
	}
}

// Option configures evaluator behavior through the functional options pattern.
type Option func(*Evaluator)
