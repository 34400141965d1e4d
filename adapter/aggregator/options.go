package aggregator

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithOperator registers a custom pipeline stage. Built-in stages cannot be
// overridden.
func WithOperator(name string, factory OperatorFactory) Option {
	return func(a *Aggregator) {
		a.operators[name] = factory
	}
}

// WithPublisher sets where the changes of $merge and $out are published.
func WithPublisher(p domain.Publisher) Option {
	return func(a *Aggregator) {
		a.publisher = p
	}
}

// WithPrefetchWorkers sets how many foreign collections are read at the same
// time. Zero or less reads them one by one.
func WithPrefetchWorkers(n int) Option {
	return func(a *Aggregator) {
		a.workers = n
	}
}

// WithMatcher sets the matcher used by $match and $lookup.
func WithMatcher(m domain.Matcher) Option {
	return func(a *Aggregator) {
		a.matcher = m
	}
}

// WithComparer sets the comparer used by grouping, sorting and diffing.
func WithComparer(c domain.Comparer) Option {
	return func(a *Aggregator) {
		a.comparer = c
	}
}

// WithHasher sets the hasher used to index groups and _ids.
func WithHasher(h domain.Hasher) Option {
	return func(a *Aggregator) {
		a.hasher = h
	}
}

// WithDocumentFactory sets the factory used to copy and create documents.
func WithDocumentFactory(df domain.DocumentFactory) Option {
	return func(a *Aggregator) {
		a.docFac = df
	}
}

// WithIDGenerator sets the generator used for $out documents without _id.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(a *Aggregator) {
		a.idGen = g
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(l domain.Logger) Option {
	return func(a *Aggregator) {
		a.log = l
	}
}

// Option configures an [Aggregator] through the functional options pattern.
type Option func(*Aggregator)
