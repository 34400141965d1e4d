package idgenerator

import "io"

// WithReader sets the source of the random bytes ids are built from. Tests
// use it to get predictable ids.
func WithReader(r io.Reader) Option {
	return func(i *IDGenerator) {
		i.reader = r
	}
}

// Option configures an [IDGenerator].
type Option func(*IDGenerator)
