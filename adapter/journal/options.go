package journal

import "github.com/vinicius-lino-figueiredo/aggdb/domain"

// WithCorruptAlertThreshold sets the share of unreadable lines, between 0 and
// 1, that [Journal.Replay] tolerates.
func WithCorruptAlertThreshold(v float64) Option {
	return func(j *Journal) {
		j.threshold = v
	}
}

// WithLogger sets the journal logger.
func WithLogger(l domain.Logger) Option {
	return func(j *Journal) {
		j.log = l
	}
}

// Option configures a [Journal] through the functional options pattern.
type Option func(*Journal)
