package controller

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/planner"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type ReadTestSuite struct {
	fixture
}

func (s *ReadTestSuite) SetupTest() {
	s.fixture.SetupTest()
	s.seed(s.ns,
		M{"_id": 1, "a": 1},
		M{"_id": 2, "a": 2},
		M{"_id": 3, "a": 1},
		M{"_id": 4, "a": 1},
	)
}

func (s *ReadTestSuite) TestFind() {
	res := s.run(M{
		"find":       "users",
		"filter":     M{"a": 1},
		"sort":       M{"_id": -1},
		"projection": M{"a": 0},
	})
	batch, id := s.batch(res)
	s.Equal(A{M{"_id": 4}, M{"_id": 3}}, batch)
	s.NotZero(id)
	s.Equal("db.users", res.D("cursor").Get("ns"))
	s.Equal(1.0, res.Get("ok"))

	res = s.run(M{"getMore": id, "collection": "users"})
	batch, id = s.batch(res)
	s.Equal(A{M{"_id": 1}}, batch)
	s.Zero(id)
}

func (s *ReadTestSuite) TestFindBatchSize() {
	batch, id := s.batch(s.run(M{"find": "users", "batchSize": 10}))
	s.Len(batch, 4)
	s.Zero(id)

	batch, id = s.batch(s.run(M{"find": "users", "skip": 1, "limit": 2, "batchSize": 1}))
	s.Equal(A{M{"_id": 2, "a": 2}}, batch)
	s.NotZero(id)
}

func (s *ReadTestSuite) TestFindSingleBatch() {
	batch, id := s.batch(s.run(M{"find": "users", "limit": -1}))
	s.Equal(A{M{"_id": 1, "a": 1}}, batch)
	s.Zero(id)

	batch, id = s.batch(s.run(M{"find": "users", "singleBatch": true, "batchSize": 3}))
	s.Len(batch, 3)
	s.Zero(id)
	s.Zero(s.runner.Cursors().Len())
}

func (s *ReadTestSuite) TestFindMissingCollection() {
	batch, id := s.batch(s.run(M{"find": "nothing"}))
	s.Empty(batch)
	s.Zero(id)
}

func (s *ReadTestSuite) TestFindInvalid() {
	_, err := s.runner.Command(s.ctx, s.db, M{"find": "users", "skip": -1})
	s.ErrorIs(err, domain.ErrInvalidCommand)

	_, err = s.runner.Command(s.ctx, s.db, M{"find": "users", "projection": M{"a": "$b"}})
	s.ErrorIs(err, domain.ErrInvalidCommand)

	_, err = s.runner.Command(s.ctx, s.db, M{"find": "users", "sort": M{"a": 2}})
	s.Error(err)
}

func (s *ReadTestSuite) TestAggregate() {
	res := s.run(M{
		"aggregate": "users",
		"pipeline":  A{M{"$match": M{"a": 1}}, M{"$skip": 1}},
		"cursor":    M{"batchSize": 5},
	})
	batch, id := s.batch(res)
	s.Equal(A{M{"_id": 3, "a": 1}, M{"_id": 4, "a": 1}}, batch)
	s.Zero(id)
}

func (s *ReadTestSuite) TestAggregateOut() {
	res := s.run(M{
		"aggregate": "users",
		"pipeline":  A{M{"$match": M{"a": 2}}, M{"$out": "copy"}},
	})
	batch, id := s.batch(res)
	s.Empty(batch)
	s.Zero(id)
	s.Equal([]domain.Document{M{"_id": 2, "a": 2}}, s.contents(domain.NewNamespace("db", "copy")))
	s.Equal([]domain.OperationType{domain.OperationInsert}, s.operations())
}

func (s *ReadTestSuite) TestAggregateInvalidPipeline() {
	_, err := s.runner.Command(s.ctx, s.db, M{"aggregate": "users", "pipeline": A{1}})
	s.ErrorIs(err, planner.ErrInvalidStage)

	_, err = s.runner.Command(s.ctx, s.db, M{"aggregate": "users", "pipeline": A{M{"$nope": 1}}})
	s.ErrorAs(err, &domain.ErrUnsupportedOperator{})
}

func (s *ReadTestSuite) TestCount() {
	s.Equal(M{"n": int64(3), "ok": 1.0}, s.run(M{"count": "users", "query": M{"a": 1}}))
	s.Equal(M{"n": int64(1), "ok": 1.0}, s.run(M{"count": "users", "query": M{"a": 1}, "skip": 1, "limit": 1}))
	s.Equal(M{"n": int64(4), "ok": 1.0}, s.run(M{"count": "users"}))
}

func (s *ReadTestSuite) TestDistinct() {
	posts := domain.NewNamespace("db", "posts")
	s.seed(posts,
		M{"_id": 1, "tags": A{"x", "y"}},
		M{"_id": 2, "tags": "y"},
		M{"_id": 3, "tags": A{"z", 1}},
		M{"_id": 4},
	)
	s.Equal(M{"values": A{"x", "y", "z", 1}, "ok": 1.0}, s.run(M{"distinct": "posts", "key": "tags"}))
	s.Equal(
		M{"values": A{"y", "z", 1}, "ok": 1.0},
		s.run(M{"distinct": "posts", "key": "tags", "query": M{"_id": M{"$gt": 1}}}),
	)

	_, err := s.runner.Command(s.ctx, s.db, M{"distinct": "posts"})
	s.ErrorIs(err, domain.ErrInvalidCommand)
}

func TestReadTestSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}
