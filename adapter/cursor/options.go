package cursor

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithLogger sets the logger used by the registry.
func WithLogger(l domain.Logger) Option {
	return func(r *Registry) {
		r.log = l.Scope("cursor")
	}
}

// Option configures a [Registry] through the functional options pattern.
type Option func(*Registry)
