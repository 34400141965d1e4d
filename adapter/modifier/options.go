package modifier

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithComparer sets the comparer used by $addToSet, $pull, $max and $min.
func WithComparer(c domain.Comparer) Option {
	return func(m *Modifier) {
		m.comp = c
	}
}

// WithDocumentFactory sets the factory used to copy documents and create
// intermediate subdocuments.
func WithDocumentFactory(df domain.DocumentFactory) Option {
	return func(m *Modifier) {
		m.docFac = df
	}
}

// WithFieldNavigator sets the navigator used to resolve update addresses.
func WithFieldNavigator(fn domain.FieldNavigator) Option {
	return func(m *Modifier) {
		m.fieldNavigator = fn
	}
}

// WithMatcher sets the matcher used by $pull conditions.
func WithMatcher(mt domain.Matcher) Option {
	return func(m *Modifier) {
		m.matcher = mt
	}
}

// WithTimeGetter sets the clock used by $currentDate.
func WithTimeGetter(tg domain.TimeGetter) Option {
	return func(m *Modifier) {
		m.timeGetter = tg
	}
}

// Option configures modifier behavior through the functional options pattern.
type Option func(*Modifier)
