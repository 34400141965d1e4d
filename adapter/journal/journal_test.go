package journal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/changefeed"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/memstore"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type A = []any

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

type JournalTestSuite struct {
	suite.Suite
	ctx context.Context
	ns  domain.Namespace
	buf *bytes.Buffer
	j   *Journal
}

func (s *JournalTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.ns = domain.NewNamespace("db", "users")
	s.buf = new(bytes.Buffer)
	s.j = NewJournal(s.buf)
}

func (s *JournalTestSuite) lines() []string {
	return strings.Split(strings.TrimSuffix(s.buf.String(), "\n"), "\n")
}

func (s *JournalTestSuite) TestPublish() {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.NoError(s.j.Publish(s.ctx,
		domain.ChangeStreamDocument{
			OperationType: domain.OperationInsert,
			Ns:            s.ns,
			DocumentKey:   1,
			FullDocument:  data.NewD(data.E{Key: "_id", Value: 1}, data.E{Key: "at", Value: when}, data.E{Key: "tags", Value: A{"a"}}),
		},
		domain.ChangeStreamDocument{OperationType: domain.OperationDelete, Ns: s.ns, DocumentKey: "x"},
	))
	s.Equal([]string{
		`{"op":"insert","ns":"db.users","key":1,"doc":{"_id":1,"at":{"$date":1714564800000},"tags":["a"]}}`,
		`{"op":"delete","ns":"db.users","key":"x"}`,
	}, s.lines())

	s.NoError(s.j.Publish(s.ctx))
	s.Len(s.lines(), 2)
}

func (s *JournalTestSuite) TestPublishErrors() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	change := domain.ChangeStreamDocument{OperationType: domain.OperationDelete, Ns: s.ns, DocumentKey: 1}
	s.ErrorIs(s.j.Publish(ctx, change), context.Canceled)
	s.Empty(s.buf.String())

	fail := errors.New("disk full")
	j := NewJournal(failingWriter{err: fail})
	s.ErrorIs(j.Publish(s.ctx, change), fail)

	change.DocumentKey = make(chan int)
	s.Error(s.j.Publish(s.ctx, change))
	s.Empty(s.buf.String())
}

func (s *JournalTestSuite) TestListensToFeed() {
	feed := changefeed.NewFeed()
	feed.Watch(domain.NewNamespace("db", ""), s.j.Listen)
	s.NoError(feed.Publish(s.ctx, domain.ChangeStreamDocument{
		OperationType: domain.OperationReplace,
		Ns:            s.ns,
		DocumentKey:   2,
		FullDocument:  M{"_id": 2},
	}))
	s.Equal([]string{`{"op":"replace","ns":"db.users","key":2,"doc":{"_id":2}}`}, s.lines())
}

func (s *JournalTestSuite) contents(store *memstore.Store) []domain.Document {
	seq, err := store.Read(s.ctx, s.ns, domain.ReadOptions{})
	s.Require().NoError(err)
	docs, err := cursor.Collect(s.ctx, seq)
	s.Require().NoError(err)
	return docs
}

func (s *JournalTestSuite) TestReplay() {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.NoError(s.j.Publish(s.ctx,
		domain.ChangeStreamDocument{OperationType: domain.OperationInsert, Ns: s.ns, DocumentKey: 1, FullDocument: M{"_id": 1, "at": when}},
		domain.ChangeStreamDocument{OperationType: domain.OperationInsert, Ns: s.ns, DocumentKey: 2, FullDocument: M{"_id": 2, "a": M{"b": A{1, 2}}}},
		domain.ChangeStreamDocument{OperationType: domain.OperationUpdate, Ns: s.ns, DocumentKey: 1, FullDocument: M{"_id": 1, "n": 3}},
		domain.ChangeStreamDocument{OperationType: domain.OperationDelete, Ns: s.ns, DocumentKey: 2},
		domain.ChangeStreamDocument{OperationType: domain.OperationInsert, Ns: s.ns, DocumentKey: 3, FullDocument: M{"_id": 3, "at": when}},
	))
	s.buf.WriteString("\n")

	store := memstore.NewStore()
	n, err := s.j.Replay(s.ctx, bytes.NewReader(s.buf.Bytes()), store)
	s.NoError(err)
	s.Equal(5, n)
	s.Equal([]domain.Document{
		M{"_id": 1.0, "n": 3.0},
		M{"_id": 3.0, "at": when},
	}, s.contents(store))
}

func (s *JournalTestSuite) TestReplayCorrupt() {
	input := strings.Join([]string{
		`{"op":"insert","ns":"db.users","key":1,"doc":{"_id":1}}`,
		`{"op":"insert","ns":"db.users","key":2,"doc":{"_id":2}`,
		`{"op":"drop","ns":"db.users"}`,
		`{"op":"insert","key":3}`,
	}, "\n")

	store := memstore.NewStore()
	_, err := s.j.Replay(s.ctx, strings.NewReader(input), store)
	e := ErrCorrupt{}
	s.ErrorAs(err, &e)
	s.Equal(ErrCorrupt{Corrupt: 3, Total: 4}, e)
	s.Empty(s.contents(store))

	j := NewJournal(s.buf, WithCorruptAlertThreshold(0.8))
	n, err := j.Replay(s.ctx, strings.NewReader(input), store)
	s.NoError(err)
	s.Equal(1, n)
	s.Equal([]domain.Document{M{"_id": 1.0}}, s.contents(store))
}

func (s *JournalTestSuite) TestReplayRejected() {
	input := `{"op":"insert","ns":"db.users","key":1,"doc":{"_id":1}}
{"op":"insert","ns":"db.users","key":1,"doc":{"_id":1}}
{"op":"insert","ns":"db.users","key":2,"doc":{"_id":2}}`

	store := memstore.NewStore()
	n, err := s.j.Replay(s.ctx, strings.NewReader(input), store)
	s.ErrorContains(err, "replaying event 1")
	s.Equal(1, n)
	s.Equal([]domain.Document{M{"_id": 1.0}}, s.contents(store))

	n, err = s.j.Replay(s.ctx, strings.NewReader(""), store)
	s.NoError(err)
	s.Zero(n)
}

func TestJournalTestSuite(t *testing.T) {
	suite.Run(t, new(JournalTestSuite))
}
