package cache

import (
	"time"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/timegetter"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// DefaultQueryCacheSize is the default number of query shapes remembered by a
// query evaluator.
const DefaultQueryCacheSize = 256

type config struct {
	ttl        time.Duration
	size       int
	timeGetter domain.TimeGetter
	hasher     domain.Hasher
	comparer   domain.Comparer
	matcher    domain.Matcher
	evaluators EvaluatorFactory
	log        domain.Logger
}

func newConfig(opts []Option) config {
	c := config{
		size: DefaultQueryCacheSize,
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.timeGetter == nil {
		c.timeGetter = timegetter.NewTimeGetter()
	}
	if c.hasher == nil {
		c.hasher = hasher.NewHasher()
	}
	if c.comparer == nil {
		c.comparer = comparer.NewComparer()
	}
	if c.matcher == nil {
		c.matcher = matcher.NewMatcher(matcher.WithComparer(c.comparer))
	}
	return c
}

// WithTTL sets how long a cache record stays valid. Zero or less never
// expires records.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithQueryCacheSize sets how many query shapes a query evaluator remembers.
func WithQueryCacheSize(n int) Option {
	return func(c *config) {
		c.size = n
	}
}

// WithTimeGetter sets the clock used for TTL checks.
func WithTimeGetter(t domain.TimeGetter) Option {
	return func(c *config) {
		c.timeGetter = t
	}
}

// WithHasher sets the hasher used to key ids and query shapes.
func WithHasher(h domain.Hasher) Option {
	return func(c *config) {
		c.hasher = h
	}
}

// WithComparer sets the comparer used to compare ids.
func WithComparer(cmp domain.Comparer) Option {
	return func(c *config) {
		c.comparer = cmp
	}
}

// WithMatcher sets the matcher used to find the query records a write
// invalidates.
func WithMatcher(m domain.Matcher) Option {
	return func(c *config) {
		c.matcher = m
	}
}

// WithEvaluators sets how a [Store] creates the evaluators of each
// namespace.
func WithEvaluators(f EvaluatorFactory) Option {
	return func(c *config) {
		c.evaluators = f
	}
}

// WithLogger sets the store logger.
func WithLogger(l domain.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// Option configures the cache components through the functional options
// pattern.
type Option func(*config)
