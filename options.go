package aggdb

import (
	"io"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/aggregator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cache"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/command"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type config struct {
	log         domain.Logger
	validator   domain.Validator
	idGen       domain.IDGenerator
	timeGetter  domain.TimeGetter
	batchSize   int
	workers     int
	operators   map[string]aggregator.OperatorFactory
	controllers []command.Controller
	mirror      domain.Store
	cacheOpts   []cache.Option
	journal     io.Writer
}

// WithLogger sets the logger every component is scoped from.
func WithLogger(l domain.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithValidator sets the validator used for collection $jsonSchema
// validators.
func WithValidator(v domain.Validator) Option {
	return func(c *config) {
		c.validator = v
	}
}

// WithIDGenerator sets the generator used for documents inserted without
// _id.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(c *config) {
		c.idGen = g
	}
}

// WithTimeGetter sets the clock used by update operators and cache TTLs.
func WithTimeGetter(t domain.TimeGetter) Option {
	return func(c *config) {
		c.timeGetter = t
	}
}

// WithDefaultBatchSize sets the batch size of cursor commands that do not
// set one.
func WithDefaultBatchSize(n int) Option {
	return func(c *config) {
		c.batchSize = n
	}
}

// WithOperator registers a custom aggregation stage.
func WithOperator(name string, factory aggregator.OperatorFactory) Option {
	return func(c *config) {
		c.operators[name] = factory
	}
}

// WithPrefetchWorkers sets how many foreign collections an aggregation reads
// at the same time.
func WithPrefetchWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithController adds the commands of ctrl. Commands with the name of a
// built-in command replace it.
func WithController(ctrl command.Controller) Option {
	return func(c *config) {
		c.controllers = append(c.controllers, ctrl)
	}
}

// WithCache puts the store behind a [cache.Store] mirrored into mirror.
func WithCache(mirror domain.Store, opts ...cache.Option) Option {
	return func(c *config) {
		c.mirror = mirror
		c.cacheOpts = opts
	}
}

// WithJournal appends every published change to w as a JSON line.
func WithJournal(w io.Writer) Option {
	return func(c *config) {
		c.journal = w
	}
}

// Option configures a [DB] through the functional options pattern.
type Option func(*config)
