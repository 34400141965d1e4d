package projector

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithFieldNavigator sets how dotted projection keys are read and written.
func WithFieldNavigator(fn domain.FieldNavigator) Option {
	return func(p *Projector) {
		p.fn = fn
	}
}

// WithDocumentFactory sets the factory of projected documents. Inclusion
// projections start from an empty document built by it.
func WithDocumentFactory(df domain.DocumentFactory) Option {
	return func(p *Projector) {
		p.docFac = df
	}
}

// Option configures a [Projector].
type Option func(*Projector)
