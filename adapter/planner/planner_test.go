package planner

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type A = []any

type P = []domain.Document

type PlannerTestSuite struct {
	suite.Suite
	ns domain.Namespace
}

func (s *PlannerTestSuite) SetupTest() {
	s.ns = domain.NewNamespace("db", "coll")
}

func (s *PlannerTestSuite) plan(pipeline P) *Plan {
	p, err := CreatePlan(s.ns, pipeline)
	s.Require().NoError(err)
	return p
}

func (s *PlannerTestSuite) TestEmptyPipeline() {
	p := s.plan(nil)
	s.Equal(M{}, p.Filter)
	s.True(p.Options.IsZero())
	s.Empty(p.Remainder)
	s.Nil(p.Target)
}

func (s *PlannerTestSuite) TestSortBeforeMatch() {
	pipeline := P{M{"$sort": M{"a": 1}}, M{"$match": M{"b": 2}}}
	p := s.plan(pipeline)
	s.Equal(M{}, p.Filter)
	s.Equal(domain.Sort{{Key: "a", Order: 1}}, p.Options.Sort)
	s.Equal(pipeline[1:], p.Remainder)
}

func (s *PlannerTestSuite) TestMatchBeforeSort() {
	pipeline := P{M{"$match": M{"b": 2}}, M{"$sort": M{"a": -1}}}
	p := s.plan(pipeline)
	s.Equal(M{"b": 2}, p.Filter)
	s.Equal(domain.FindOptions{Sort: domain.Sort{{Key: "a", Order: -1}}}, p.Options)
	s.Empty(p.Remainder)
	s.Equal(domain.ReadOptions{Filter: M{"b": 2}, FindOptions: p.Options}, p.ReadOptions())
}

func (s *PlannerTestSuite) TestFullPrefix() {
	pipeline := P{
		M{"$match": M{"a": 1}},
		M{"$sort": M{"b": 1}},
		M{"$skip": 2},
		M{"$limit": 5},
		M{"$project": M{"b": 1}},
		M{"$group": M{"_id": "$b"}},
		M{"$limit": 1},
	}
	p := s.plan(pipeline)
	s.Equal(M{"a": 1}, p.Filter)
	s.Equal(domain.FindOptions{
		Sort:       domain.Sort{{Key: "b", Order: 1}},
		Skip:       2,
		Limit:      5,
		Projection: domain.Projection{"b": 1},
	}, p.Options)
	s.Equal(pipeline[5:], p.Remainder, "later stages are never folded")
}

func (s *PlannerTestSuite) TestStrictPrefix() {
	pipeline := P{M{"$limit": 3}, M{"$sort": M{"a": 1}}, M{"$match": M{"a": 1}}}
	p := s.plan(pipeline)
	s.Equal(int64(3), p.Options.Limit)
	s.Empty(p.Options.Sort)
	s.Equal(pipeline[1:], p.Remainder)

	pipeline = P{M{"$match": M{"a": 1}}, M{"$match": M{"b": 1}}}
	p = s.plan(pipeline)
	s.Equal(M{"a": 1}, p.Filter)
	s.Equal(pipeline[1:], p.Remainder)
}

func (s *PlannerTestSuite) TestSkipAndLimitCombine() {
	p := s.plan(P{M{"$skip": 2}, M{"$limit": 5}, M{"$skip": 1}, M{"$limit": 10}})
	s.Equal(int64(3), p.Options.Skip)
	s.Equal(int64(4), p.Options.Limit)
	s.Empty(p.Remainder)

	pipeline := P{M{"$limit": 2}, M{"$skip": 2}}
	p = s.plan(pipeline)
	s.Equal(int64(2), p.Options.Limit)
	s.Equal(pipeline[1:], p.Remainder)
}

func (s *PlannerTestSuite) TestUnfoldableArguments() {
	pipeline := P{M{"$project": M{"a": "$b"}}}
	s.Equal(pipeline, s.plan(pipeline).Remainder)

	pipeline = P{M{"$project": M{"a": 1}}, M{"$project": M{"b": 0}}}
	s.Equal(pipeline[1:], s.plan(pipeline).Remainder)

	pipeline = P{M{"$sort": M{"a": 2}}}
	s.Equal(pipeline, s.plan(pipeline).Remainder)

	pipeline = P{M{"$limit": -1}}
	s.Equal(pipeline, s.plan(pipeline).Remainder)
}

func (s *PlannerTestSuite) TestForeignCollections() {
	p := s.plan(P{
		M{"$lookup": M{"from": "users", "localField": "u", "foreignField": "_id", "as": "user"}},
		M{"$lookup": M{"from": "users", "as": "again", "pipeline": A{
			M{"$lookup": M{"from": M{"db": "other", "coll": "roles"}, "as": "r"}},
		}}},
		M{"$facet": M{"x": A{M{"$lookup": M{"from": "tags", "as": "t"}}}}},
		M{"$merge": M{"into": "summary"}},
	})
	s.Equal([]domain.Namespace{
		domain.NewNamespace("db", "users"),
		domain.NewNamespace("other", "roles"),
		domain.NewNamespace("db", "tags"),
		domain.NewNamespace("db", "summary"),
	}, p.ForeignCollections)
	s.Require().NotNil(p.Target)
	s.Equal(domain.NewNamespace("db", "summary"), *p.Target)
	s.Equal(StageMerge, p.TargetStage)
	s.Len(p.Foreign(), 3)
}

func (s *PlannerTestSuite) TestOut() {
	p := s.plan(P{M{"$match": M{}}, M{"$out": "copy"}})
	s.Require().NotNil(p.Target)
	s.Equal(domain.NewNamespace("db", "copy"), *p.Target)
	s.Equal(StageOut, p.TargetStage)
	s.Empty(p.Foreign())

	p = s.plan(P{M{"$merge": "merged"}})
	s.Equal(domain.NewNamespace("db", "merged"), *p.Target)

	p = s.plan(P{M{"$out": M{"db": "x", "coll": "y"}}})
	s.Equal(domain.NewNamespace("x", "y"), *p.Target)
}

func (s *PlannerTestSuite) TestErrors() {
	_, err := CreatePlan(s.ns, P{M{"$lookup": M{"as": "x"}}})
	s.ErrorIs(err, domain.ErrUnresolvedCollection{Stage: "$lookup"})

	_, err = CreatePlan(s.ns, P{M{"$out": ""}})
	s.ErrorIs(err, domain.ErrUnresolvedCollection{Stage: "$out"})

	_, err = CreatePlan(s.ns, P{M{"$merge": M{"on": "_id"}}})
	s.ErrorIs(err, domain.ErrUnresolvedCollection{Stage: "$merge"})

	_, err = CreatePlan(s.ns, P{M{"$out": "x"}, M{"$match": M{}}})
	s.ErrorIs(err, ErrTargetNotLast)

	_, err = CreatePlan(s.ns, P{M{"$match": M{}, "$sort": M{"a": 1}}})
	s.ErrorIs(err, ErrInvalidStage)

	_, err = CreatePlan(s.ns, P{M{"$lookup": M{"from": "a", "pipeline": A{1}}}})
	s.ErrorIs(err, ErrInvalidStage)
}

func (s *PlannerTestSuite) TestOrderedStages() {
	stage := data.NewD(data.E{Key: "$sort", Value: data.NewD(
		data.E{Key: "b", Value: -1},
		data.E{Key: "a", Value: 1},
	)})
	p := s.plan(P{stage})
	s.Equal(domain.Sort{{Key: "b", Order: -1}, {Key: "a", Order: 1}}, p.Options.Sort)
}

func TestPlannerTestSuite(t *testing.T) {
	suite.Run(t, new(PlannerTestSuite))
}
