package command

import (
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// WithCursors sets the registry used by getMore and killCursors. Controllers
// opening cursors must share it.
func WithCursors(r *cursor.Registry) Option {
	return func(rn *Runner) {
		rn.cursors = r
	}
}

// WithDecoder sets the decoder used to read command documents.
func WithDecoder(d domain.Decoder) Option {
	return func(rn *Runner) {
		rn.decoder = d
	}
}

// WithLogger sets the runner logger.
func WithLogger(l domain.Logger) Option {
	return func(rn *Runner) {
		rn.log = l
	}
}

// WithDefaultBatchSize sets the batch size of getMore commands without one.
func WithDefaultBatchSize(n int) Option {
	return func(rn *Runner) {
		rn.batchSize = n
	}
}

// WithController registers the handlers of c.
func WithController(c Controller) Option {
	return func(rn *Runner) {
		rn.controllers = append(rn.controllers, c)
	}
}

// Option configures a [Runner] through the functional options pattern.
type Option func(*Runner)
