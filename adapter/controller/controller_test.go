package controller

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/aggregator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/changefeed"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/command"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/memstore"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/validator"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type A = []any

type storeMock struct{ mock.Mock }

// Read implements [domain.Store].
func (s *storeMock) Read(ctx context.Context, ns domain.Namespace, opts domain.ReadOptions) (iter.Seq2[domain.Document, error], error) {
	call := s.Called(ctx, ns, opts)
	seq, _ := call.Get(0).(iter.Seq2[domain.Document, error])
	return seq, call.Error(1)
}

// Write implements [domain.Store].
func (s *storeMock) Write(ctx context.Context, changes []domain.ChangeStreamDocument, opts domain.WriteOptions) ([]domain.WriteError, error) {
	call := s.Called(ctx, changes, opts)
	errs, _ := call.Get(0).([]domain.WriteError)
	return errs, call.Error(1)
}

type publisherMock struct{ mock.Mock }

// Publish implements [domain.Publisher].
func (p *publisherMock) Publish(ctx context.Context, changes ...domain.ChangeStreamDocument) error {
	return p.Called(ctx, changes).Error(0)
}

type idGeneratorMock struct{ mock.Mock }

// GenerateID implements [domain.IDGenerator].
func (i *idGeneratorMock) GenerateID() (any, error) {
	call := i.Called()
	return call.Get(0), call.Error(1)
}

// fixture wires every controller of the package to an in-memory store behind
// a command runner.
type fixture struct {
	suite.Suite
	ctx     context.Context
	db      domain.Namespace
	ns      domain.Namespace
	store   *memstore.Store
	feed    *changefeed.Feed
	events  []domain.ChangeStreamDocument
	schemas *Schemas
	agg     *aggregator.Aggregator
	runner  *command.Runner
}

func (s *fixture) SetupTest() {
	s.ctx = context.Background()
	s.db = domain.NewNamespace("db", "")
	s.ns = domain.NewNamespace("db", "users")
	s.store = memstore.NewStore()
	s.feed = changefeed.NewFeed()
	s.events = nil
	s.feed.Watch(s.db, func(_ context.Context, c domain.ChangeStreamDocument) {
		s.events = append(s.events, c)
	})
	s.schemas = NewSchemas()
	s.setup()
}

func (s *fixture) TearDownTest() {
	s.agg.Close()
	s.agg = nil
}

// setup builds the runner with extra controller options.
func (s *fixture) setup(extra ...Option) {
	if s.agg != nil {
		s.agg.Close()
	}
	var err error
	s.agg, err = aggregator.NewAggregator(s.store, aggregator.WithPublisher(s.feed))
	s.Require().NoError(err)
	v, err := validator.NewValidator()
	s.Require().NoError(err)

	cursors := cursor.NewRegistry()
	opts := append([]Option{
		WithCursors(cursors),
		WithPublisher(s.feed),
		WithSchemas(s.schemas),
		WithValidator(v),
		WithBatchSize(2),
	}, extra...)
	s.runner = command.NewRunner(
		command.WithCursors(cursors),
		command.WithDefaultBatchSize(2),
		command.WithController(NewRead(s.store, s.agg, opts...)),
		command.WithController(NewWrite(s.store, opts...)),
		command.WithController(NewAdmin(s.store, opts...)),
	)
}

func (s *fixture) seed(ns domain.Namespace, docs ...domain.Document) {
	changes := make([]domain.ChangeStreamDocument, len(docs))
	for n, doc := range docs {
		changes[n] = domain.ChangeStreamDocument{
			OperationType: domain.OperationInsert,
			Ns:            ns,
			DocumentKey:   doc.ID(),
			FullDocument:  doc,
		}
	}
	errs, err := s.store.Write(s.ctx, changes, domain.WriteOptions{Ordered: true})
	s.Require().NoError(err)
	s.Require().Empty(errs)
}

func (s *fixture) contents(ns domain.Namespace) []domain.Document {
	seq, err := s.store.Read(s.ctx, ns, domain.ReadOptions{})
	s.Require().NoError(err)
	docs, err := cursor.Collect(s.ctx, seq)
	s.Require().NoError(err)
	return docs
}

func (s *fixture) run(cmd domain.Document) domain.Document {
	res, err := s.runner.Command(s.ctx, s.db, cmd)
	s.Require().NoError(err)
	return res
}

// batch returns the first or next batch of a cursor reply and its id.
func (s *fixture) batch(res domain.Document) (A, int64) {
	cur, ok := res.Get("cursor").(domain.Document)
	s.Require().True(ok)
	list, ok := cur.Get("firstBatch").([]any)
	if !ok {
		list, ok = cur.Get("nextBatch").([]any)
	}
	s.Require().True(ok)
	return list, cur.Get("id").(int64)
}

func (s *fixture) writeErrors(res domain.Document) []M {
	list, _ := res.Get("writeErrors").([]any)
	errs := make([]M, len(list))
	for n, item := range list {
		errs[n] = item.(M)
	}
	return errs
}

func (s *fixture) operations() []domain.OperationType {
	ops := make([]domain.OperationType, len(s.events))
	for n, e := range s.events {
		ops[n] = e.OperationType
	}
	return ops
}
