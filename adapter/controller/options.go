package controller

import (
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/command"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/decoder"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/idgenerator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/modifier"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/timegetter"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type config struct {
	decoder        domain.Decoder
	docFac         domain.DocumentFactory
	comparer       domain.Comparer
	hasher         domain.Hasher
	fieldNavigator domain.FieldNavigator
	matcher        domain.Matcher
	modifier       domain.Modifier
	timeGetter     domain.TimeGetter
	validator      domain.Validator
	publisher      domain.Publisher
	idGen          domain.IDGenerator
	schemas        *Schemas
	cursors        *cursor.Registry
	batchSize      int
	log            domain.Logger
}

func newConfig(scope string, opts []Option) config {
	c := config{
		docFac:     data.NewDocument,
		comparer:   comparer.NewComparer(),
		hasher:     hasher.NewHasher(),
		timeGetter: timegetter.NewTimeGetter(),
		idGen:      idgenerator.NewIDGenerator(),
		batchSize:  command.DefaultBatchSize,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.log = c.log.Scope(scope)
	if c.decoder == nil {
		c.decoder = decoder.NewDecoder(decoder.WithDocumentFactory(c.docFac))
	}
	if c.fieldNavigator == nil {
		c.fieldNavigator = fieldnavigator.NewFieldNavigator(c.docFac)
	}
	if c.matcher == nil {
		c.matcher = matcher.NewMatcher(
			matcher.WithComparer(c.comparer),
			matcher.WithFieldNavigator(c.fieldNavigator),
		)
	}
	if c.modifier == nil {
		c.modifier = modifier.NewModifier(
			modifier.WithComparer(c.comparer),
			modifier.WithDocumentFactory(c.docFac),
			modifier.WithFieldNavigator(c.fieldNavigator),
			modifier.WithMatcher(c.matcher),
			modifier.WithTimeGetter(c.timeGetter),
		)
	}
	if c.schemas == nil {
		c.schemas = NewSchemas()
	}
	if c.cursors == nil {
		c.cursors = cursor.NewRegistry(cursor.WithLogger(c.log))
	}
	return c
}

// WithDecoder sets the decoder used to read command documents.
func WithDecoder(d domain.Decoder) Option {
	return func(c *config) {
		c.decoder = d
	}
}

// WithDocumentFactory sets the factory used to copy documents.
func WithDocumentFactory(df domain.DocumentFactory) Option {
	return func(c *config) {
		c.docFac = df
	}
}

// WithComparer sets the comparer used for _id equality and change detection.
func WithComparer(cmp domain.Comparer) Option {
	return func(c *config) {
		c.comparer = cmp
	}
}

// WithHasher sets the hasher used to index documents by _id.
func WithHasher(h domain.Hasher) Option {
	return func(c *config) {
		c.hasher = h
	}
}

// WithMatcher sets the matcher used by update, delete and listCollections.
func WithMatcher(m domain.Matcher) Option {
	return func(c *config) {
		c.matcher = m
	}
}

// WithModifier sets the modifier used by update.
func WithModifier(m domain.Modifier) Option {
	return func(c *config) {
		c.modifier = m
	}
}

// WithTimeGetter sets the clock used by $currentDate.
func WithTimeGetter(tg domain.TimeGetter) Option {
	return func(c *config) {
		c.timeGetter = tg
	}
}

// WithValidator sets the validator checking documents against collection
// schemas. Without one, schemas are stored but not enforced.
func WithValidator(v domain.Validator) Option {
	return func(c *config) {
		c.validator = v
	}
}

// WithPublisher sets where successful changes are published.
func WithPublisher(p domain.Publisher) Option {
	return func(c *config) {
		c.publisher = p
	}
}

// WithIDGenerator sets the generator for inserted and upserted documents
// without _id.
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(c *config) {
		c.idGen = g
	}
}

// WithSchemas sets the validator registry shared by admin and write
// controllers.
func WithSchemas(s *Schemas) Option {
	return func(c *config) {
		c.schemas = s
	}
}

// WithCursors sets the cursor registry, which must be the one serving getMore.
func WithCursors(r *cursor.Registry) Option {
	return func(c *config) {
		c.cursors = r
	}
}

// WithBatchSize sets the first batch size of cursor commands that do not set
// one.
func WithBatchSize(n int) Option {
	return func(c *config) {
		c.batchSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l domain.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// Option configures the controllers of this package.
type Option func(*config)
