package decoder

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithDocumentFactory sets the factory used when maps are decoded into
// [domain.Document] fields.
func WithDocumentFactory(df domain.DocumentFactory) Option {
	return func(d *Decoder) {
		d.docFac = df
	}
}

// Option configures decoder behavior through the functional options pattern.
type Option func(*Decoder)
