package view

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithLogger sets the view logger.
func WithLogger(l domain.Logger) Option {
	return func(v *View) {
		v.log = l
	}
}

// Option configures a [View] through the functional options pattern.
type Option func(*View)
