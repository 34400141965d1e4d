package comparer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
)

type ComparerTestSuite struct {
	suite.Suite
	c *Comparer
}

func (s *ComparerTestSuite) SetupTest() {
	s.c = NewComparer().(*Comparer)
}

// every value in a bracket must be lower than every value in the brackets
// after it.
func (s *ComparerTestSuite) TestBracketOrder() {
	brackets := [][]any{
		{fieldnavigator.Undefined()},
		{nil},
		{math.NaN(), -12, uint(0), 5.7, int64(99)},
		{"", "hello"},
		{false, true},
		{time.UnixMilli(-1), time.UnixMilli(12345)},
		{[]byte{}, []byte("a")},
		{[]any{}, []any{"quite", 5}},
		{data.M{}, data.M{"hello": "world"}, data.NewD(data.E{Key: "a", Value: 1})},
	}
	for i, lower := range brackets {
		for _, higher := range brackets[i+1:] {
			for _, a := range lower {
				for _, b := range higher {
					comp, err := s.c.Compare(a, b)
					s.NoError(err)
					s.Equal(-1, comp, "%v < %v", a, b)
					comp, err = s.c.Compare(b, a)
					s.NoError(err)
					s.Equal(1, comp, "%v > %v", b, a)
				}
			}
		}
	}
}

func (s *ComparerTestSuite) TestWithinBracket() {
	now := time.Now()
	testCases := []struct {
		a, b any
		res  int
	}{
		{a: int64(-12), b: int16(0), res: -1},
		{a: uint8(0), b: int8(-3), res: 1},
		{a: 5.7, b: uint32(2), res: 1},
		{a: int32(5), b: 5.0, res: 0},
		{a: int64(math.MaxInt64), b: int64(math.MaxInt64 - 1), res: 1},
		{a: math.NaN(), b: math.Inf(-1), res: -1},
		{a: math.NaN(), b: math.NaN(), res: 0},
		{a: "hey", b: "hew", res: 1},
		{a: false, b: true, res: -1},
		{a: now, b: now, res: 0},
		{a: time.UnixMilli(0), b: time.UnixMilli(-5), res: 1},
		{a: []any{"hello"}, b: []any{"hello", "world"}, res: -1},
		{a: []any{"hello", "zzz"}, b: []any{"hello", "world"}, res: 1},
		{a: data.M{"a": 42}, b: data.M{"a": 312}, res: -1},
		{a: data.M{"a": 42, "b": 1}, b: data.M{"b": 1, "a": 42}, res: 0},
		{a: data.M{"a": 1}, b: data.M{"b": 0}, res: -1},
		{a: data.M{"a": 1}, b: data.M{"a": 1, "b": 0}, res: -1},
		{a: data.M{"a": 1, "b": 2}, b: data.NewD(data.E{Key: "b", Value: 2}, data.E{Key: "a", Value: 1.0}), res: 0},
	}
	for _, tc := range testCases {
		comp, err := s.c.Compare(tc.a, tc.b)
		s.NoError(err)
		s.Equal(tc.res, comp, "%v vs %v", tc.a, tc.b)
	}
}

func (s *ComparerTestSuite) TestUnknownTypes() {
	testCases := []struct{ a, b any }{
		{a: struct{}{}, b: 1},
		{a: 1, b: []string{}},
		{a: data.M{"a": []string{"x"}}, b: data.M{"a": []string{"y"}}},
		{a: []any{make(chan int)}, b: []any{make(chan int)}},
	}
	for _, tc := range testCases {
		_, err := s.c.Compare(tc.a, tc.b)
		s.Error(err)
	}
}

func (s *ComparerTestSuite) TestComparable() {
	s.True(s.c.Comparable(1, 2.5))
	s.True(s.c.Comparable("a", "b"))
	s.True(s.c.Comparable(time.Now(), time.UnixMilli(0)))
	s.True(s.c.Comparable(fieldnavigator.NewReadOnly(1), uint8(3)))

	s.False(s.c.Comparable(1, "1"))
	s.False(s.c.Comparable(nil, nil))
	s.False(s.c.Comparable(true, true))
	s.False(s.c.Comparable([]any{1}, []any{1}))
	s.False(s.c.Comparable(data.M{}, data.M{}))
	s.False(s.c.Comparable(fieldnavigator.Undefined(), 1))
}

func (s *ComparerTestSuite) TestGetSetterValues() {
	a := fieldnavigator.NewDocField(data.M{"a": data.M{"a": 1, "b": 2}}, "a")
	b := fieldnavigator.NewDocField(data.M{"a": data.M{"a": 1, "b": 2, "c": 3}}, "a")
	comp, err := s.c.Compare(a, b)
	s.NoError(err)
	s.Less(comp, 0)

	comp, err = s.c.Compare(fieldnavigator.Undefined(), fieldnavigator.Undefined())
	s.NoError(err)
	s.Zero(comp)
}

func (s *ComparerTestSuite) TestEqual() {
	s.True(Equal(s.c, data.M{"a": []any{1}}, data.M{"a": []any{1.0}}))
	s.False(Equal(s.c, 1, "1"))
	s.False(Equal(s.c, struct{}{}, struct{}{}))
}

func TestComparerTestSuite(t *testing.T) {
	suite.Run(t, new(ComparerTestSuite))
}
