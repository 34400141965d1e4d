// Package aggdb is an embeddable document database core. It runs MongoDB-style
// commands against any [Store], tracks the changes they make as change events
// and keeps materialized views and caches up to date from those events.
//
// A [DB] is created with [New] from a storage engine. Commands are documents
// sent to a database:
//
//	db, err := aggdb.New(memstore.NewStore())
//	res, err := db.Command(ctx, "shop", aggdb.M{"find": "items", "filter": aggdb.M{"qty": aggdb.M{"$gt": 0}}})
//
// Results of find and aggregate are paged with getMore, and every successful
// write is published to the listeners registered with [DB.Watch].
package aggdb

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/aggregator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cache"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/changefeed"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/command"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/controller"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/idgenerator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/journal"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/timegetter"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/validator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/view"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

var (
	// ErrCursorClosed is returned when reading a closed cursor.
	ErrCursorClosed = domain.ErrCursorClosed
	// ErrInvalidCommand is returned for empty or ambiguous command
	// documents.
	ErrInvalidCommand = domain.ErrInvalidCommand
	// ErrCannotModifyID is returned when an update would change an _id.
	ErrCannotModifyID = domain.ErrCannotModifyID
	// ErrDuplicateKey is returned by stores when an _id is already in use.
	ErrDuplicateKey = domain.ErrDuplicateKey
	// ErrNamespaceExists is returned by create for existing collections.
	ErrNamespaceExists = domain.ErrNamespaceExists
	// ErrNamespaceNotFound is returned by admin commands against missing
	// collections.
	ErrNamespaceNotFound = domain.ErrNamespaceNotFound
	// ErrClosed is returned by a closed [DB].
	ErrClosed = errors.New("database closed")
)

// ErrCommandNotSupported is returned when no handler is registered for a
// command.
type ErrCommandNotSupported = domain.ErrCommandNotSupported

// ErrInvalidCursor is returned by getMore against an unknown cursor.
type ErrInvalidCursor = domain.ErrInvalidCursor

// ErrUnsupportedOperator is returned for unknown pipeline stages.
type ErrUnsupportedOperator = domain.ErrUnsupportedOperator

// ErrUnresolvedCollection is returned when a stage does not name its
// collection.
type ErrUnresolvedCollection = domain.ErrUnresolvedCollection

// ErrValidation is returned by validators.
type ErrValidation = domain.ErrValidation

// ErrDecode wraps third party decoding errors.
type ErrDecode = domain.ErrDecode

type (
	// Document is a record flowing through the engine.
	Document = domain.Document
	// Store is the storage contract a [DB] runs on.
	Store = domain.Store
	// Namespace identifies a database or a collection.
	Namespace = domain.Namespace
	// ChangeStreamDocument is one change event.
	ChangeStreamDocument = domain.ChangeStreamDocument
	// ChangeListener receives change events.
	ChangeListener = domain.ChangeListener
	// M is an unordered document.
	M = data.M
	// D is an ordered document. Commands sent as D dispatch on their
	// first key.
	D = data.D
	// E is one field of a [D].
	E = data.E
)

// NewD returns an ordered document with fields.
func NewD(fields ...E) *D {
	return data.NewD(fields...)
}

// DB runs commands against a store.
type DB struct {
	store  domain.Store
	feed   *changefeed.Feed
	agg    *aggregator.Aggregator
	runner *command.Runner
	log    domain.Logger

	mu     sync.Mutex
	views  []*registeredView
	closed bool
}

type registeredView struct {
	view    *view.View
	unwatch []func()
}

// New returns a [DB] running commands against store.
func New(store domain.Store, opts ...Option) (*DB, error) {
	c := config{
		log:       logger.Nop(),
		batchSize: command.DefaultBatchSize,
		workers:   aggregator.DefaultPrefetchWorkers,
		operators: make(map[string]aggregator.OperatorFactory),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.idGen == nil {
		c.idGen = idgenerator.NewIDGenerator()
	}
	if c.timeGetter == nil {
		c.timeGetter = timegetter.NewTimeGetter()
	}
	if c.validator == nil {
		v, err := validator.NewValidator()
		if err != nil {
			return nil, err
		}
		c.validator = v
	}
	if c.mirror != nil {
		cacheOpts := append([]cache.Option{
			cache.WithLogger(c.log),
			cache.WithTimeGetter(c.timeGetter),
		}, c.cacheOpts...)
		store = cache.NewStore(store, c.mirror, cacheOpts...)
	}

	db := &DB{
		store: store,
		feed:  changefeed.NewFeed(),
		log:   c.log,
	}
	var publisher domain.Publisher = db.feed
	if c.journal != nil {
		publisher = publishers{db.feed, journal.NewJournal(c.journal, journal.WithLogger(c.log))}
	}

	aggOpts := []aggregator.Option{
		aggregator.WithPublisher(publisher),
		aggregator.WithPrefetchWorkers(c.workers),
		aggregator.WithIDGenerator(c.idGen),
		aggregator.WithLogger(c.log),
	}
	for name, factory := range c.operators {
		aggOpts = append(aggOpts, aggregator.WithOperator(name, factory))
	}
	agg, err := aggregator.NewAggregator(store, aggOpts...)
	if err != nil {
		return nil, err
	}
	db.agg = agg

	runnerOpts := []command.Option{
		command.WithDefaultBatchSize(c.batchSize),
		command.WithLogger(c.log),
	}
	db.runner = command.NewRunner(runnerOpts...)
	ctrlOpts := []controller.Option{
		controller.WithCursors(db.runner.Cursors()),
		controller.WithBatchSize(c.batchSize),
		controller.WithSchemas(controller.NewSchemas()),
		controller.WithValidator(c.validator),
		controller.WithPublisher(publisher),
		controller.WithIDGenerator(c.idGen),
		controller.WithTimeGetter(c.timeGetter),
		controller.WithLogger(c.log),
	}
	db.runner.Register(controller.NewRead(store, agg, ctrlOpts...))
	db.runner.Register(controller.NewWrite(store, ctrlOpts...))
	db.runner.Register(controller.NewAdmin(store, ctrlOpts...))
	for _, ctrl := range c.controllers {
		db.runner.Register(ctrl)
	}
	return db, nil
}

// Command runs cmd against the database named db. Per-document write
// failures are reported inside the result; the error is reserved for
// rejected commands, invalid cursors and storage failures.
func (db *DB) Command(ctx context.Context, name string, cmd domain.Document) (domain.Document, error) {
	if db.isClosed() {
		return nil, ErrClosed
	}
	return db.runner.Command(ctx, domain.NewNamespace(name, ""), cmd)
}

// Runner returns the command runner, to register more commands.
func (db *DB) Runner() *command.Runner {
	return db.runner
}

// Store returns the store commands run against, which is the caching store
// when [WithCache] is set.
func (db *DB) Store() domain.Store {
	return db.store
}

// Watch registers listener for the changes of ns and returns a function that
// removes it. A database namespace receives the changes of every collection
// in it.
func (db *DB) Watch(ns domain.Namespace, listener domain.ChangeListener) func() {
	return db.feed.Watch(ns, listener)
}

// CreateView materializes pipeline, run against source, and keeps it up to
// date while the db is open. The pipeline must end with $merge or $out.
func (db *DB) CreateView(ctx context.Context, source domain.Namespace, pipeline []domain.Document) (*view.View, error) {
	if err := db.agg.Validate(source, pipeline); err != nil {
		return nil, err
	}
	v, err := view.New(db.agg, source, pipeline, view.WithLogger(db.log))
	if err != nil {
		return nil, err
	}
	reg := &registeredView{view: v}
	for _, ns := range v.Sources() {
		reg.unwatch = append(reg.unwatch, db.feed.Watch(ns, v.Notify))
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		reg.close(ctx)
		return nil, ErrClosed
	}
	db.views = append(db.views, reg)
	db.mu.Unlock()

	if err := v.Refresh(ctx); err != nil {
		db.unregister(reg)
		return nil, errors.Join(err, reg.close(context.WithoutCancel(ctx)))
	}
	return v, nil
}

func (db *DB) unregister(reg *registeredView) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.views = slices.DeleteFunc(db.views, func(r *registeredView) bool { return r == reg })
}

func (r *registeredView) close(ctx context.Context) error {
	for _, unwatch := range r.unwatch {
		unwatch()
	}
	return r.view.Close(ctx)
}

func (db *DB) isClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// Close stops the views, kills the open cursors and releases the aggregation
// workers. Later commands fail with [ErrClosed].
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	views := db.views
	db.views = nil
	db.mu.Unlock()

	var errs []error
	for _, reg := range views {
		errs = append(errs, reg.close(ctx))
	}
	db.runner.Cursors().Close()
	db.agg.Close()
	return errors.Join(errs...)
}

// publishers delivers changes to each publisher in turn.
type publishers []domain.Publisher

func (p publishers) Publish(ctx context.Context, changes ...domain.ChangeStreamDocument) error {
	var errs []error
	for _, pub := range p {
		errs = append(errs, pub.Publish(ctx, changes...))
	}
	return errors.Join(errs...)
}
