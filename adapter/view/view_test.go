package view

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/aggregator"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/changefeed"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/logger"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/memstore"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type aggregatorMock struct{ mock.Mock }

// Aggregate implements [domain.Aggregator].
func (a *aggregatorMock) Aggregate(ctx context.Context, ns domain.Namespace, pipeline []domain.Document) (iter.Seq2[domain.Document, error], error) {
	call := a.Called(ctx, ns, pipeline)
	seq, _ := call.Get(0).(iter.Seq2[domain.Document, error])
	return seq, call.Error(1)
}

type ViewTestSuite struct {
	suite.Suite
	ctx      context.Context
	source   domain.Namespace
	target   domain.Namespace
	pipeline []domain.Document
	store    *memstore.Store
	feed     *changefeed.Feed
	agg      *aggregator.Aggregator
	events   []domain.ChangeStreamDocument
	view     *View
}

func (s *ViewTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.source = domain.NewNamespace("db", "items")
	s.target = domain.NewNamespace("db", "ones")
	s.pipeline = []domain.Document{M{"$match": M{"a": 1}}, M{"$out": "ones"}}
	s.store = memstore.NewStore()
	s.feed = changefeed.NewFeed()
	s.events = nil
	s.feed.Watch(s.target, func(_ context.Context, c domain.ChangeStreamDocument) {
		s.events = append(s.events, c)
	})

	var err error
	s.agg, err = aggregator.NewAggregator(s.store, aggregator.WithPublisher(s.feed))
	s.Require().NoError(err)
	s.view, err = New(s.agg, s.source, s.pipeline)
	s.Require().NoError(err)
	s.feed.Watch(s.source, s.view.Notify)
}

func (s *ViewTestSuite) TearDownTest() {
	s.NoError(s.view.Close(s.ctx))
	s.agg.Close()
}

func (s *ViewTestSuite) write(op domain.OperationType, docs ...domain.Document) {
	changes := make([]domain.ChangeStreamDocument, len(docs))
	for n, doc := range docs {
		changes[n] = domain.ChangeStreamDocument{
			OperationType: op,
			Ns:            s.source,
			DocumentKey:   doc.ID(),
			FullDocument:  doc,
		}
	}
	errs, err := s.store.Write(s.ctx, changes, domain.WriteOptions{Ordered: true})
	s.Require().NoError(err)
	s.Require().Empty(errs)
	s.Require().NoError(s.feed.Publish(s.ctx, changes...))
}

func (s *ViewTestSuite) contents() []domain.Document {
	seq, err := s.store.Read(s.ctx, s.target, domain.ReadOptions{})
	s.Require().NoError(err)
	docs, err := cursor.Collect(s.ctx, seq)
	s.Require().NoError(err)
	return docs
}

func (s *ViewTestSuite) TestRequiresTarget() {
	_, err := New(s.agg, s.source, []domain.Document{M{"$match": M{}}})
	s.ErrorIs(err, ErrNoTarget)

	_, err = New(s.agg, s.source, []domain.Document{M{"$out": "x", "$match": M{}}})
	s.Error(err)
}

func (s *ViewTestSuite) TestTargetAndSources() {
	s.Equal(s.target, s.view.Target())
	s.Equal([]domain.Namespace{s.source}, s.view.Sources())

	v, err := New(s.agg, s.source, []domain.Document{
		M{"$lookup": M{"from": "tags", "localField": "t", "foreignField": "_id", "as": "tag"}},
		M{"$merge": "joined"},
	})
	s.Require().NoError(err)
	defer v.Close(s.ctx)
	s.Equal(domain.NewNamespace("db", "joined"), v.Target())
	s.Equal([]domain.Namespace{s.source, domain.NewNamespace("db", "tags")}, v.Sources())
}

func (s *ViewTestSuite) TestRefresh() {
	s.Require().NoError(s.store.Create(s.ctx, s.source))
	s.NoError(s.view.Refresh(s.ctx))
	s.Empty(s.contents())

	errs, err := s.store.Write(s.ctx, []domain.ChangeStreamDocument{
		{OperationType: domain.OperationInsert, Ns: s.source, DocumentKey: 1, FullDocument: M{"_id": 1, "a": 1}},
	}, domain.WriteOptions{})
	s.Require().NoError(err)
	s.Require().Empty(errs)
	s.NoError(s.view.Refresh(s.ctx))
	s.Equal([]domain.Document{M{"_id": 1, "a": 1}}, s.contents())
}

func (s *ViewTestSuite) TestFollowsSource() {
	s.write(domain.OperationInsert, M{"_id": 1, "a": 1}, M{"_id": 2, "a": 2}, M{"_id": 3, "a": 1})
	s.NoError(s.view.Flush(s.ctx))
	s.Equal([]domain.Document{M{"_id": 1, "a": 1}, M{"_id": 3, "a": 1}}, s.contents())

	s.write(domain.OperationReplace, M{"_id": 1, "a": 2}, M{"_id": 2, "a": 1})
	s.NoError(s.view.Flush(s.ctx))
	s.Equal([]domain.Document{M{"_id": 2, "a": 1}, M{"_id": 3, "a": 1}}, s.contents())
}

func (s *ViewTestSuite) TestPublishesOnlyTheDiff() {
	s.write(domain.OperationInsert, M{"_id": 1, "a": 1}, M{"_id": 2, "a": 2})
	s.NoError(s.view.Flush(s.ctx))
	s.Len(s.events, 1)

	// the view does not change
	s.write(domain.OperationReplace, M{"_id": 2, "a": 3})
	s.NoError(s.view.Flush(s.ctx))
	s.Len(s.events, 1)

	s.write(domain.OperationInsert, M{"_id": 3, "a": 1})
	s.NoError(s.view.Flush(s.ctx))
	s.Require().Len(s.events, 2)
	s.Equal(domain.OperationInsert, s.events[1].OperationType)
	s.Equal(3, s.events[1].DocumentKey)
}

func (s *ViewTestSuite) TestIgnoresTargetChanges() {
	agg := new(aggregatorMock)
	v, err := New(agg, s.source, s.pipeline)
	s.Require().NoError(err)
	defer v.Close(s.ctx)

	v.Notify(s.ctx, domain.ChangeStreamDocument{Ns: s.target})
	s.NoError(v.Flush(s.ctx))
	agg.AssertNotCalled(s.T(), "Aggregate", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ViewTestSuite) TestCoalescesChanges() {
	agg := new(aggregatorMock)
	started := make(chan struct{})
	release := make(chan struct{})
	agg.On("Aggregate", mock.Anything, s.source, s.pipeline).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(cursor.Seq(nil), nil).Once()
	agg.On("Aggregate", mock.Anything, s.source, s.pipeline).
		Return(cursor.Seq(nil), nil).Once()

	v, err := New(agg, s.source, s.pipeline)
	s.Require().NoError(err)
	defer v.Close(s.ctx)

	change := domain.ChangeStreamDocument{Ns: s.source}
	v.Notify(s.ctx, change)
	<-started
	v.Notify(s.ctx, change)
	v.Notify(s.ctx, change)
	v.Notify(s.ctx, change)
	close(release)

	s.NoError(v.Flush(s.ctx))
	agg.AssertNumberOfCalls(s.T(), "Aggregate", 2)
}

func (s *ViewTestSuite) TestFailuresAreLogged() {
	var buf bytes.Buffer
	fail := errors.New("boom")
	agg := new(aggregatorMock)
	agg.On("Aggregate", mock.Anything, s.source, s.pipeline).Return(nil, fail).Once()
	agg.On("Aggregate", mock.Anything, s.source, s.pipeline).Return(cursor.Seq(nil), nil).Once()

	v, err := New(agg, s.source, s.pipeline, WithLogger(logger.NewTextLogger(&buf, slog.LevelError)))
	s.Require().NoError(err)
	defer v.Close(s.ctx)

	v.Notify(s.ctx, domain.ChangeStreamDocument{Ns: s.source})
	s.ErrorIs(v.Flush(s.ctx), fail)
	s.Contains(buf.String(), "recompute failed")
	s.Contains(buf.String(), "boom")

	v.Notify(s.ctx, domain.ChangeStreamDocument{Ns: s.source})
	s.NoError(v.Flush(s.ctx))
}

func (s *ViewTestSuite) TestFlushContext() {
	agg := new(aggregatorMock)
	release := make(chan struct{})
	defer close(release)
	agg.On("Aggregate", mock.Anything, s.source, s.pipeline).
		Run(func(mock.Arguments) { <-release }).
		Return(cursor.Seq(nil), nil)

	v, err := New(agg, s.source, s.pipeline)
	s.Require().NoError(err)

	v.Notify(s.ctx, domain.ChangeStreamDocument{Ns: s.source})
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Millisecond)
	defer cancel()
	s.ErrorIs(v.Flush(ctx), context.DeadlineExceeded)
	s.ErrorIs(v.Refresh(ctx), context.DeadlineExceeded)
	s.ErrorIs(v.Close(ctx), context.DeadlineExceeded)
}

func (s *ViewTestSuite) TestClose() {
	s.NoError(s.view.Close(s.ctx))
	s.NoError(s.view.Close(s.ctx))
	s.write(domain.OperationInsert, M{"_id": 1, "a": 1})
	s.ErrorIs(s.view.Flush(s.ctx), ErrClosed)
	s.Empty(s.contents())
}

func TestViewTestSuite(t *testing.T) {
	suite.Run(t, new(ViewTestSuite))
}
