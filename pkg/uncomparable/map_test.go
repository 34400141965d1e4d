package uncomparable

import (
	"fmt"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/hasher"
)

type hasherMock struct{ mock.Mock }

// Hash implements domain.Hasher.
func (h *hasherMock) Hash(v any) (uint64, error) {
	call := h.Called(v)
	return uint64(call.Int(0)), call.Error(1)
}

type comparerMock struct{ mock.Mock }

// Comparable implements domain.Comparer.
func (c *comparerMock) Comparable(a any, b any) bool {
	return c.Called(a, b).Bool(0)
}

// Compare implements domain.Comparer.
func (c *comparerMock) Compare(a any, b any) (int, error) {
	call := c.Called(a, b)
	return call.Int(0), call.Error(1)
}

type MapTestSuite struct {
	suite.Suite
	m *Map[any]
}

func (s *MapTestSuite) SetupTest() {
	s.m = New[any](hasher.NewHasher(), comparer.NewComparer())
}

func (s *MapTestSuite) TestSetAndGet() {
	s.NoError(s.m.Set("key", "value"))
	s.NoError(s.m.Set("key", "another"))
	s.Equal(1, s.m.Len())

	value, ok, err := s.m.Get("key")
	s.NoError(err)
	s.True(ok)
	s.Equal("another", value)

	value, ok, err = s.m.Get("nope")
	s.NoError(err)
	s.False(ok)
	s.Nil(value)
}

func (s *MapTestSuite) TestUncomparableKeys() {
	s.NoError(s.m.Set(data.M{"a": []any{1, 2}}, "doc"))
	s.NoError(s.m.Set(1, "int"))

	v, ok, err := s.m.Get(data.NewD(data.E{Key: "a", Value: []any{1.0, 2.0}}))
	s.NoError(err)
	s.True(ok)
	s.Equal("doc", v)

	v, ok, err = s.m.Get(1.0)
	s.NoError(err)
	s.True(ok)
	s.Equal("int", v)

	has, err := s.m.Has("1")
	s.NoError(err)
	s.False(has)
}

func (s *MapTestSuite) TestDelete() {
	s.NoError(s.m.Set("key", "value"))
	s.NoError(s.m.Set("another", "value"))

	s.NoError(s.m.Delete("key"))
	s.NoError(s.m.Delete("missing"))
	s.Equal(1, s.m.Len())

	_, ok, err := s.m.Get("key")
	s.NoError(err)
	s.False(ok)
	_, ok, err = s.m.Get("another")
	s.NoError(err)
	s.True(ok)
}

func (s *MapTestSuite) TestGrow() {
	for n := range 200 {
		s.NoError(s.m.Set(n, n*2))
	}
	s.Equal(200, s.m.Len())
	s.Greater(len(s.m.buckets), initialBuckets)
	for n := range 200 {
		v, ok, err := s.m.Get(n)
		s.NoError(err)
		s.True(ok)
		s.Equal(n*2, v)
	}
}

func (s *MapTestSuite) TestIteration() {
	s.NoError(s.m.Set("a", 1))
	s.NoError(s.m.Set("b", 2))
	s.NoError(s.m.Set("c", 3))

	s.ElementsMatch([]any{"a", "b", "c"}, slices.Collect(s.m.Keys()))
	s.ElementsMatch([]any{1, 2, 3}, slices.Collect(s.m.Values()))
	s.Equal(map[any]any{"a": 1, "b": 2, "c": 3}, maps.Collect(s.m.Iter()))

	count := 0
	for range s.m.Keys() {
		count++
		break
	}
	for range s.m.Values() {
		count++
		break
	}
	for range s.m.Iter() {
		count++
		break
	}
	s.Equal(3, count)
}

func (s *MapTestSuite) TestComparerError() {
	s.NoError(s.m.Set("key", "value"))

	c := new(comparerMock)
	s.m.comparer = c
	comparisonErr := fmt.Errorf("comparison error")
	c.On("Compare", "key", "key").Return(0, comparisonErr)

	s.ErrorIs(s.m.Set("key", "value"), comparisonErr)
	_, _, err := s.m.Get("key")
	s.ErrorIs(err, comparisonErr)
	s.ErrorIs(s.m.Delete("key"), comparisonErr)
	c.AssertExpectations(s.T())
}

func (s *MapTestSuite) TestHasherError() {
	h := new(hasherMock)
	s.m.hasher = h
	hashErr := fmt.Errorf("hash error")
	h.On("Hash", "key").Return(0, hashErr)

	s.ErrorIs(s.m.Set("key", "value"), hashErr)
	_, _, err := s.m.Get("key")
	s.ErrorIs(err, hashErr)
	s.ErrorIs(s.m.Delete("key"), hashErr)
	s.Zero(s.m.Len())
}

func TestMapTestSuite(t *testing.T) {
	suite.Run(t, new(MapTestSuite))
}
