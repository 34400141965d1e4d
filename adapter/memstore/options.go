package memstore

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// Option configures a [Store].
type Option func(*Store)

// WithComparer sets the comparer ordering the _id index.
func WithComparer(c domain.Comparer) Option {
	return func(s *Store) {
		s.comparer = c
	}
}

// WithQuerier sets the querier applying read options to candidates.
func WithQuerier(q domain.Querier) Option {
	return func(s *Store) {
		s.querier = q
	}
}

// WithIDGenerator sets the generator used for documents inserted without an
// _id.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(s *Store) {
		s.idGen = g
	}
}

// WithDocumentFactory sets the factory used to copy documents in and out of
// the store.
func WithDocumentFactory(f domain.DocumentFactory) Option {
	return func(s *Store) {
		s.docFac = f
	}
}
