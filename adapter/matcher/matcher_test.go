package matcher

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type A = []any

type fieldNavigatorMock struct{ mock.Mock }

// EnsureField implements [domain.FieldNavigator].
func (f *fieldNavigatorMock) EnsureField(obj any, addr ...string) ([]domain.GetSetter, error) {
	call := f.Called(obj, addr)
	return call.Get(0).([]domain.GetSetter), call.Error(1)
}

// GetAddress implements [domain.FieldNavigator].
func (f *fieldNavigatorMock) GetAddress(field string) ([]string, error) {
	call := f.Called(field)
	return call.Get(0).([]string), call.Error(1)
}

// GetField implements [domain.FieldNavigator].
func (f *fieldNavigatorMock) GetField(obj any, addr ...string) ([]domain.GetSetter, bool, error) {
	call := f.Called(obj, addr)
	return call.Get(0).([]domain.GetSetter), call.Bool(1), call.Error(2)
}

type evaluatorMock struct{ mock.Mock }

// Evaluate implements [domain.Evaluator].
func (e *evaluatorMock) Evaluate(expr any, root domain.Document, vars map[string]any) (any, error) {
	call := e.Called(expr, root, vars)
	return call.Get(0), call.Error(1)
}

type MatcherTestSuite struct {
	suite.Suite
	m *Matcher
}

func (s *MatcherTestSuite) SetupTest() {
	s.m = NewMatcher().(*Matcher)
}

func (s *MatcherTestSuite) match(doc any, query any) bool {
	ok, err := s.m.Match(doc, query)
	s.Require().NoError(err)
	return ok
}

func (s *MatcherTestSuite) TestEmptyQuery() {
	s.True(s.match(M{"a": 1}, nil))
	s.True(s.match(M{"a": 1}, M{}))
}

func (s *MatcherTestSuite) TestEquality() {
	doc := M{"a": 1, "s": "hello", "sub": M{"b": 2}, "list": A{1, 2, A{3}}}
	s.True(s.match(doc, M{"a": 1}))
	s.True(s.match(doc, M{"a": 1.0}))
	s.False(s.match(doc, M{"a": "1"}))
	s.True(s.match(doc, M{"sub.b": 2}))
	s.True(s.match(doc, M{"sub": M{"b": 2}}))
	s.True(s.match(doc, M{"list": 2}))
	s.True(s.match(doc, M{"list": A{3}}))
	s.True(s.match(doc, M{"list": A{1, 2, A{3}}}))
	s.False(s.match(doc, M{"list": 3}))
	s.True(s.match(doc, M{"nope": nil}))
	s.False(s.match(doc, M{"a": nil}))
	s.True(s.match(doc, M{"s": regexp.MustCompile("^hel")}))
}

func (s *MatcherTestSuite) TestArrayOfDocuments() {
	doc := M{"items": A{M{"p": 1, "q": "x"}, M{"p": 5, "q": "y"}}}
	s.True(s.match(doc, M{"items.p": 5}))
	s.True(s.match(doc, M{"items.1.q": "y"}))
	s.False(s.match(doc, M{"items.0.q": "y"}))
	s.True(s.match(doc, M{"items.p": M{"$gt": 4}}))
	s.True(s.match(doc, M{"items": M{"$elemMatch": M{"p": 1, "q": "x"}}}))
	s.False(s.match(doc, M{"items": M{"$elemMatch": M{"p": 1, "q": "y"}}}))
}

func (s *MatcherTestSuite) TestComparison() {
	now := time.Now()
	doc := M{"n": 5, "s": "b", "t": now, "list": A{1, 10}}
	s.True(s.match(doc, M{"n": M{"$gt": 4, "$lte": 5}}))
	s.False(s.match(doc, M{"n": M{"$lt": 5}}))
	s.True(s.match(doc, M{"s": M{"$gte": "a"}}))
	s.False(s.match(doc, M{"s": M{"$gt": 1}}))
	s.True(s.match(doc, M{"t": M{"$lt": now.Add(time.Second)}}))
	s.True(s.match(doc, M{"list": M{"$gt": 5}}))
	s.False(s.match(doc, M{"nope": M{"$gt": 0}}))
}

func (s *MatcherTestSuite) TestNegations() {
	doc := M{"n": 5, "list": A{1, 2}}
	s.True(s.match(doc, M{"n": M{"$ne": 4}}))
	s.False(s.match(doc, M{"list": M{"$ne": 2}}))
	s.True(s.match(doc, M{"nope": M{"$ne": 1}}))
	s.True(s.match(doc, M{"n": M{"$nin": A{1, 2}}}))
	s.False(s.match(doc, M{"list": M{"$nin": A{2, 3}}}))
	s.True(s.match(doc, M{"n": M{"$not": M{"$gt": 10}}}))
	s.False(s.match(doc, M{"n": M{"$not": M{"$gt": 1}}}))
}

func (s *MatcherTestSuite) TestSetOperators() {
	doc := M{"tags": A{"a", "b", "c"}, "n": 2}
	s.True(s.match(doc, M{"n": M{"$in": A{1, 2}}}))
	s.True(s.match(doc, M{"tags": M{"$in": A{"z", "b"}}}))
	s.True(s.match(doc, M{"tags": M{"$all": A{"c", "a"}}}))
	s.False(s.match(doc, M{"tags": M{"$all": A{"c", "z"}}}))
	s.False(s.match(doc, M{"tags": M{"$all": A{}}}))
	s.True(s.match(doc, M{"tags": M{"$size": 3}}))
	s.False(s.match(doc, M{"n": M{"$size": 1}}))
}

func (s *MatcherTestSuite) TestExists() {
	doc := M{"a": nil, "sub": M{"b": 1}}
	s.True(s.match(doc, M{"a": M{"$exists": true}}))
	s.True(s.match(doc, M{"sub.b": M{"$exists": 1}}))
	s.True(s.match(doc, M{"c": M{"$exists": false}}))
	s.False(s.match(doc, M{"c": M{"$exists": true}}))
}

func (s *MatcherTestSuite) TestRegex() {
	doc := M{"s": "Hello", "list": A{"x", "World"}}
	s.True(s.match(doc, M{"s": M{"$regex": "^h", "$options": "i"}}))
	s.False(s.match(doc, M{"s": M{"$regex": "^h"}}))
	s.True(s.match(doc, M{"list": M{"$regex": regexp.MustCompile("orl")}}))
	s.True(s.match(doc, M{"s": M{"$not": regexp.MustCompile("^x")}}))
}

func (s *MatcherTestSuite) TestTypeAndMod() {
	doc := M{"n": 7, "f": 2.5, "s": "x", "list": A{"a", 1}}
	s.True(s.match(doc, M{"n": M{"$type": "long"}}))
	s.True(s.match(doc, M{"f": M{"$type": 1}}))
	s.True(s.match(doc, M{"f": M{"$type": "number"}}))
	s.True(s.match(doc, M{"list": M{"$type": A{"string"}}}))
	s.False(s.match(doc, M{"s": M{"$type": "bool"}}))
	s.True(s.match(doc, M{"n": M{"$mod": A{4, 3}}}))
	s.False(s.match(doc, M{"n": M{"$mod": A{4, 0}}}))
}

func (s *MatcherTestSuite) TestLogic() {
	doc := M{"a": 1, "b": 2}
	s.True(s.match(doc, M{"$and": A{M{"a": 1}, M{"b": 2}}}))
	s.False(s.match(doc, M{"$and": A{M{"a": 1}, M{"b": 3}}}))
	s.True(s.match(doc, M{"$or": A{M{"a": 5}, M{"b": 2}}}))
	s.False(s.match(doc, M{"$or": A{M{"a": 5}, M{"b": 5}}}))
	s.True(s.match(doc, M{"$nor": A{M{"a": 5}, M{"b": 5}}}))
	s.True(s.match(doc, M{"a": 1, "$comment": "ignored"}))
}

func (s *MatcherTestSuite) TestWhere() {
	where := func(v any) (bool, error) {
		return v.(domain.Document).Get("a") == 1, nil
	}
	s.True(s.match(M{"a": 1}, M{"$where": where}))
	s.False(s.match(M{"a": 2}, M{"$where": where}))

	_, err := s.m.Match(M{}, M{"$where": "a == 1"})
	s.ErrorAs(err, &ErrCompArgType{})
}

func (s *MatcherTestSuite) TestExpr() {
	doc := M{"spent": 10, "budget": 5}
	s.True(s.match(doc, M{"$expr": M{"$gt": A{"$spent", "$budget"}}}))
	s.False(s.match(doc, M{"$expr": M{"$lt": A{"$spent", "$budget"}}}))
	s.False(s.match(1, M{"$expr": true}))
}

func (s *MatcherTestSuite) TestExprVariables() {
	doc := M{"owner": "ana"}
	q := M{"$expr": M{"$eq": A{"$owner", "$$user"}}}
	ok, err := s.m.WithVariables(map[string]any{"user": "ana"}).Match(doc, q)
	s.NoError(err)
	s.True(ok)

	_, err = s.m.Match(doc, q)
	s.Error(err, "variables are not shared with the original matcher")
}

func (s *MatcherTestSuite) TestExprUsesEvaluator() {
	ev := new(evaluatorMock)
	m := NewMatcher(WithEvaluator(ev))
	doc := M{"a": 1}
	ev.On("Evaluate", "$a", doc, map[string]any(nil)).Return(0, nil).Once()
	ok, err := m.Match(doc, M{"$expr": "$a"})
	s.NoError(err)
	s.False(ok)

	fail := errors.New("error")
	ev.On("Evaluate", "$b", doc, map[string]any(nil)).Return(nil, fail).Once()
	_, err = m.Match(doc, M{"$expr": "$b"})
	s.ErrorIs(err, fail)
	ev.AssertExpectations(s.T())
}

func (s *MatcherTestSuite) TestCompiledQuery() {
	q, err := s.m.Compile(M{"a": M{"$gt": 1}})
	s.NoError(err)
	s.True(s.match(M{"a": 2}, q))
	s.False(s.match(M{"a": 0}, &q))
}

func (s *MatcherTestSuite) TestOrderedFilter() {
	filter := data.NewD(data.E{Key: "a", Value: 1}, data.E{Key: "b", Value: M{"$exists": false}})
	s.True(s.match(M{"a": 1}, filter))
	s.False(s.match(M{"a": 1, "b": 0}, filter))
}

func (s *MatcherTestSuite) TestInvalidQueries() {
	_, err := s.m.Match(M{}, M{"$explode": 1})
	s.ErrorIs(err, ErrUnknownOperator{Operator: "$explode"})

	_, err = s.m.Match(M{}, M{"a": M{"$explode": 1}})
	s.ErrorIs(err, ErrUnknownOperator{Operator: "$explode"})

	_, err = s.m.Match(M{}, M{"a": M{"$gt": 1, "b": 2}})
	s.ErrorIs(err, ErrMixedOperators)

	_, err = s.m.Match(M{}, M{"$or": M{}})
	s.ErrorAs(err, &ErrCompArgType{})

	_, err = s.m.Match(M{}, M{"a": M{"$in": 1}})
	s.ErrorAs(err, &ErrCompArgType{})

	_, err = s.m.Match(M{}, M{"a": M{"$size": -1}})
	s.ErrorAs(err, &ErrCompArgType{})

	_, err = s.m.Match(M{}, M{"a": M{"$options": "i"}})
	s.ErrorAs(err, &ErrCompArgType{})

	_, err = s.m.Match(M{}, M{"a": M{"$regex": "x", "$options": "q"}})
	s.ErrorAs(err, &ErrCompArgType{})

	_, err = s.m.Match(M{}, M{"a": M{"$mod": A{0, 1}}})
	s.ErrorAs(err, &ErrCompArgType{})

	_, err = s.m.Match(M{}, M{"a": M{"$not": 1}})
	s.ErrorAs(err, &ErrCompArgType{})

	_, err = s.m.Match(M{}, 12)
	s.ErrorAs(err, &ErrCompArgType{})
}

func (s *MatcherTestSuite) TestFieldNavigatorErrors() {
	fn := new(fieldNavigatorMock)
	m := NewMatcher(WithFieldNavigator(fn))
	fail := errors.New("error")

	fn.On("GetAddress", "a").Return([]string(nil), fail).Once()
	_, err := m.Match(M{}, M{"a": 1})
	s.ErrorIs(err, fail)

	fn.On("GetAddress", "b").Return([]string{"b"}, nil).Once()
	fn.On("GetField", M{}, []string{"b"}).Return([]domain.GetSetter(nil), false, fail).Once()
	_, err = m.Match(M{}, M{"b": 1})
	s.ErrorIs(err, fail)

	fn.AssertExpectations(s.T())
}

func TestMatcherTestSuite(t *testing.T) {
	suite.Run(t, new(MatcherTestSuite))
}
