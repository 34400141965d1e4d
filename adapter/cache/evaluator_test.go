package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type A = []any

type timeGetterMock struct{ mock.Mock }

// GetTime implements [domain.TimeGetter].
func (t *timeGetterMock) GetTime() time.Time {
	return t.Called().Get(0).(time.Time)
}

type evaluatorMock struct{ mock.Mock }

// Add implements [domain.CacheEvaluator].
func (e *evaluatorMock) Add(doc domain.Document) error {
	return e.Called(doc).Error(0)
}

// Remove implements [domain.CacheEvaluator].
func (e *evaluatorMock) Remove(doc domain.Document) error {
	return e.Called(doc).Error(0)
}

// Optimize implements [domain.CacheEvaluator].
func (e *evaluatorMock) Optimize(filter domain.Document, opts domain.FindOptions) (domain.Document, error) {
	call := e.Called(filter, opts)
	res, _ := call.Get(0).(domain.Document)
	return res, call.Error(1)
}

// IsCached implements [domain.CacheEvaluator].
func (e *evaluatorMock) IsCached(filter domain.Document, opts domain.FindOptions) (bool, error) {
	call := e.Called(filter, opts)
	return call.Bool(0), call.Error(1)
}

// Success implements [domain.CacheEvaluator].
func (e *evaluatorMock) Success(filter domain.Document, opts domain.FindOptions) error {
	return e.Called(filter, opts).Error(0)
}

type EvaluatorTestSuite struct {
	suite.Suite
	now   time.Time
	clock *timeGetterMock
	opts  domain.FindOptions
}

func (s *EvaluatorTestSuite) SetupTest() {
	s.now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.clock = new(timeGetterMock)
	s.opts = domain.FindOptions{}
}

func (s *EvaluatorTestSuite) cached(e domain.CacheEvaluator, filter domain.Document) bool {
	ok, err := e.IsCached(filter, s.opts)
	s.Require().NoError(err)
	return ok
}

func (s *EvaluatorTestSuite) TestIdentifier() {
	e := NewIdentifierEvaluator()
	in := M{"_id": M{"$in": A{"foo", "bar"}}}

	s.NoError(e.Add(M{"_id": "foo", "a": 1}))
	s.True(s.cached(e, M{"_id": "foo"}))
	s.True(s.cached(e, M{"_id": M{"$eq": "foo"}}))
	s.False(s.cached(e, in))

	narrowed, err := e.Optimize(in, s.opts)
	s.NoError(err)
	s.Equal(M{"_id": M{"$in": A{"bar"}}}, narrowed)

	s.NoError(e.Add(M{"_id": "bar"}))
	s.True(s.cached(e, in))
	narrowed, err = e.Optimize(in, s.opts)
	s.NoError(err)
	s.Equal(M{"_id": M{"$in": A{}}}, narrowed)

	s.NoError(e.Remove(M{"_id": "foo"}))
	s.False(s.cached(e, M{"_id": "foo"}))
	s.False(s.cached(e, in))
}

func (s *EvaluatorTestSuite) TestIdentifierIgnoresOtherFilters() {
	e := NewIdentifierEvaluator()
	s.NoError(e.Add(M{"_id": 1}))

	for _, filter := range []domain.Document{
		nil,
		M{},
		M{"a": 1},
		M{"_id": 1, "a": 1},
		M{"_id": M{"$gt": 0}},
		M{"_id": M{"$eq": 1, "$ne": 2}},
		M{"_id": A{1}},
	} {
		s.False(s.cached(e, filter), filter)
		res, err := e.Optimize(filter, s.opts)
		s.NoError(err)
		s.Equal(filter, res)
		s.NoError(e.Success(filter, s.opts))
	}

	// a plain subdocument is an equality test
	s.False(s.cached(e, M{"_id": M{"a": 1}}))
	s.NoError(e.Add(M{"_id": M{"a": 1}}))
	s.True(s.cached(e, M{"_id": M{"a": 1}}))
}

func (s *EvaluatorTestSuite) TestIdentifierSuccess() {
	e := NewIdentifierEvaluator()
	s.NoError(e.Success(M{"_id": M{"$in": A{1, 2}}}, s.opts))
	s.True(s.cached(e, M{"_id": 1}))
	s.True(s.cached(e, M{"_id": M{"$in": A{2, 1.0}}}))
	s.False(s.cached(e, M{"_id": 3}))
}

func (s *EvaluatorTestSuite) TestIdentifierTTL() {
	e := NewIdentifierEvaluator(WithTTL(time.Minute), WithTimeGetter(s.clock))
	s.clock.On("GetTime").Return(s.now).Once()
	s.NoError(e.Add(M{"_id": 1}))

	s.clock.On("GetTime").Return(s.now.Add(time.Minute)).Once()
	s.True(s.cached(e, M{"_id": 1}))

	s.clock.On("GetTime").Return(s.now.Add(time.Minute + time.Millisecond)).Once()
	s.False(s.cached(e, M{"_id": 1}))

	// expired ids are dropped, so no clock read happens here
	s.False(s.cached(e, M{"_id": 1}))
	s.clock.AssertExpectations(s.T())
}

func (s *EvaluatorTestSuite) TestQuery() {
	e, err := NewQueryEvaluator()
	s.Require().NoError(err)
	limited := domain.FindOptions{Limit: 1, Sort: domain.Sort{{Key: "b", Order: -1}}}

	ok, err := e.IsCached(M{"a": 1}, limited)
	s.NoError(err)
	s.False(ok)

	s.NoError(e.Success(M{"a": 1}, limited))
	ok, err = e.IsCached(M{"a": 1.0}, limited)
	s.NoError(err)
	s.True(ok)
	ok, err = e.IsCached(M{"a": 1}, domain.FindOptions{Limit: 2})
	s.NoError(err)
	s.False(ok)
	s.False(s.cached(e, M{"a": 1}))

	res, err := e.Optimize(M{"a": 1}, limited)
	s.NoError(err)
	s.Equal(M{"a": 1}, res)

	s.NoError(e.Success(nil, s.opts))
	s.True(s.cached(e, M{}))
}

func (s *EvaluatorTestSuite) TestQueryInvalidation() {
	e, err := NewQueryEvaluator()
	s.Require().NoError(err)
	s.NoError(e.Success(M{"a": 1}, s.opts))
	s.NoError(e.Success(M{"a": 2}, s.opts))

	s.NoError(e.Add(M{"_id": 5, "a": 3}))
	s.True(s.cached(e, M{"a": 1}))
	s.True(s.cached(e, M{"a": 2}))

	s.NoError(e.Add(M{"_id": 5, "a": 1}))
	s.False(s.cached(e, M{"a": 1}))
	s.True(s.cached(e, M{"a": 2}))

	s.NoError(e.Remove(M{"_id": 6, "a": 2}))
	s.False(s.cached(e, M{"a": 2}))
}

func (s *EvaluatorTestSuite) TestQueryTTLAndSize() {
	e, err := NewQueryEvaluator(WithTTL(time.Second), WithTimeGetter(s.clock), WithQueryCacheSize(1))
	s.Require().NoError(err)

	s.clock.On("GetTime").Return(s.now).Twice()
	s.NoError(e.Success(M{"a": 1}, s.opts))
	s.NoError(e.Success(M{"a": 2}, s.opts))
	s.False(s.cached(e, M{"a": 1}))

	s.clock.On("GetTime").Return(s.now.Add(2 * time.Second)).Once()
	s.False(s.cached(e, M{"a": 2}))
	s.clock.AssertExpectations(s.T())

	_, err = NewQueryEvaluator(WithQueryCacheSize(0))
	s.ErrorIs(err, ErrInvalidSize)
}

func (s *EvaluatorTestSuite) TestAny() {
	first, second := new(evaluatorMock), new(evaluatorMock)
	e := Any(first, second)
	doc := M{"_id": 1}
	filter := M{"_id": M{"$in": A{1, 2}}}
	fail := errors.New("boom")

	first.On("IsCached", filter, s.opts).Return(false, nil).Once()
	second.On("IsCached", filter, s.opts).Return(true, nil).Once()
	s.True(s.cached(e, filter))

	first.On("IsCached", filter, s.opts).Return(true, nil).Once()
	s.True(s.cached(e, filter))

	first.On("IsCached", filter, s.opts).Return(false, fail).Once()
	_, err := e.IsCached(filter, s.opts)
	s.ErrorIs(err, fail)

	narrowed := M{"_id": M{"$in": A{2}}}
	first.On("Optimize", filter, s.opts).Return(narrowed, nil).Once()
	second.On("Optimize", narrowed, s.opts).Return(narrowed, nil).Once()
	res, err := e.Optimize(filter, s.opts)
	s.NoError(err)
	s.Equal(narrowed, res)

	first.On("Add", doc).Return(fail).Once()
	second.On("Add", doc).Return(nil).Once()
	s.ErrorIs(e.Add(doc), fail)

	first.On("Remove", doc).Return(nil).Once()
	second.On("Remove", doc).Return(nil).Once()
	s.NoError(e.Remove(doc))

	first.On("Success", filter, s.opts).Return(nil).Once()
	second.On("Success", filter, s.opts).Return(fail).Once()
	s.ErrorIs(e.Success(filter, s.opts), fail)

	first.AssertExpectations(s.T())
	second.AssertExpectations(s.T())
}

func TestEvaluatorTestSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorTestSuite))
}
