package validator

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithHasher sets the hasher used to key compiled schemas.
func WithHasher(h domain.Hasher) Option {
	return func(v *Validator) {
		v.hasher = h
	}
}

// WithCacheSize sets how many compiled schemas are kept.
func WithCacheSize(n int) Option {
	return func(v *Validator) {
		v.size = n
	}
}

// Option configures a [Validator] through the functional options pattern.
type Option func(*Validator)
