package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type CursorTestSuite struct {
	suite.Suite
	data []domain.Document
	ns   domain.Namespace
}

func (s *CursorTestSuite) SetupSuite() {
	s.data = make([]domain.Document, 10)
	for n := range 10 {
		s.data[n] = M{"_id": n}
	}
	s.ns = domain.NewNamespace("db", "coll")
}

func (s *CursorTestSuite) TestNilData() {
	cur := NewCursor(1, s.ns, nil)
	batch, err := cur.NextBatch(context.Background(), 10)
	s.NoError(err)
	s.Empty(batch)
	s.True(cur.Exhausted())
}

func (s *CursorTestSuite) TestBatches() {
	cur := NewCursor(1, s.ns, Seq(s.data))
	s.Equal(int64(1), cur.ID())
	s.Equal(s.ns, cur.Namespace())

	batch, err := cur.NextBatch(context.Background(), 4)
	s.NoError(err)
	s.Equal(s.data[:4], batch)
	s.False(cur.Exhausted())

	batch, err = cur.NextBatch(context.Background(), 0)
	s.NoError(err)
	s.Equal(s.data[4:], batch)
	s.True(cur.Exhausted())

	_, err = cur.NextBatch(context.Background(), 1)
	s.ErrorIs(err, domain.ErrCursorClosed)
}

func (s *CursorTestSuite) TestLazySource() {
	read := 0
	src := func(yield func(domain.Document, error) bool) {
		for _, doc := range s.data {
			read++
			if !yield(doc, nil) {
				return
			}
		}
	}
	cur := NewCursor(1, s.ns, src)
	_, err := cur.NextBatch(context.Background(), 3)
	s.NoError(err)
	s.Equal(3, read)
	s.NoError(cur.Close())
	s.Equal(3, read)
}

func (s *CursorTestSuite) TestClose() {
	cur := NewCursor(1, s.ns, Seq(s.data))
	s.NoError(cur.Close())
	s.ErrorIs(cur.Close(), domain.ErrCursorClosed)
	_, err := cur.NextBatch(context.Background(), 1)
	s.ErrorIs(err, domain.ErrCursorClosed)
	s.ErrorIs(cur.Err(), domain.ErrCursorClosed)
}

func (s *CursorTestSuite) TestSourceError() {
	fail := errors.New("error")
	src := func(yield func(domain.Document, error) bool) {
		if !yield(M{"_id": 1}, nil) {
			return
		}
		yield(nil, fail)
	}
	cur := NewCursor(1, s.ns, src)
	_, err := cur.NextBatch(context.Background(), 5)
	s.ErrorIs(err, fail)
	_, err = cur.NextBatch(context.Background(), 5)
	s.ErrorIs(err, fail)
}

func (s *CursorTestSuite) TestContext() {
	cur := NewCursor(1, s.ns, Seq(s.data))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cur.NextBatch(ctx, 1)
	s.ErrorIs(err, context.Canceled)
}

func (s *CursorTestSuite) TestCollect() {
	docs, err := Collect(context.Background(), Seq(s.data))
	s.NoError(err)
	s.Equal(s.data, docs)

	docs, err = Collect(context.Background(), nil)
	s.NoError(err)
	s.Empty(docs)
}

func TestCursorTestSuite(t *testing.T) {
	suite.Run(t, new(CursorTestSuite))
}
