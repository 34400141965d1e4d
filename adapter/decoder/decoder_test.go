package decoder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type M = data.M

type DecoderTestSuite struct {
	suite.Suite
	d *Decoder
}

func (s *DecoderTestSuite) SetupTest() {
	s.d = NewDecoder().(*Decoder)
}

func (s *DecoderTestSuite) TestSimpleStruct() {
	type SimpleStruct struct {
		Name  string
		Age   int
		Human bool
	}

	var tgt SimpleStruct
	err := s.d.Decode(M{"name": "Jonathan", "age": 18, "human": true}, &tgt)
	s.NoError(err)
	s.Equal("Jonathan", tgt.Name)
	s.Equal(18, tgt.Age)
	s.Equal(true, tgt.Human)
}

func (s *DecoderTestSuite) TestTags() {
	type Command struct {
		Find      string `aggdb:"find"`
		BatchSize int64  `aggdb:"batchSize"`
	}

	var tgt Command
	err := s.d.Decode(data.NewD(
		data.E{Key: "find", Value: "users"},
		data.E{Key: "batchSize", Value: 2.0},
	), &tgt)
	s.NoError(err)
	s.Equal(Command{Find: "users", BatchSize: 2}, tgt)
}

func (s *DecoderTestSuite) TestLists() {
	type ListStruct struct {
		Booleans []bool
		Strings  []string
		Numbers  []int
	}

	d := M{
		"booleans": []any{true, false},
		"strings":  []any{"one", "two"},
		"numbers":  []any{1, uint(2), 3.0},
	}

	var tgt ListStruct
	err := s.d.Decode(d, &tgt)
	s.NoError(err)
	s.Equal([]bool{true, false}, tgt.Booleans)
	s.Equal([]string{"one", "two"}, tgt.Strings)
	s.Equal([]int{1, 2, 3}, tgt.Numbers)
}

func (s *DecoderTestSuite) TestNested() {
	type Statement struct {
		Q     domain.Document `aggdb:"q"`
		Limit int             `aggdb:"limit"`
	}
	type NestedStruct struct {
		Deletes []Statement `aggdb:"deletes"`
		Nested  struct {
			Text   string
			Number float64
		}
	}

	ordered := data.NewD(data.E{Key: "b", Value: 1}, data.E{Key: "a", Value: 2})
	d := M{
		"deletes": []any{M{"q": ordered, "limit": 1}, M{"q": map[string]any{"x": 1}}},
		"nested":  M{"text": "str", "number": 1},
	}

	var tgt NestedStruct
	err := s.d.Decode(d, &tgt)
	s.NoError(err)
	s.Equal("str", tgt.Nested.Text)
	s.Equal(1.0, tgt.Nested.Number)
	s.Require().Len(tgt.Deletes, 2)
	s.Same(ordered, tgt.Deletes[0].Q)
	s.Equal(1, tgt.Deletes[0].Limit)
	s.Equal(M{"x": 1}, tgt.Deletes[1].Q)
}

func (s *DecoderTestSuite) TestKeepsDocumentsInInterfaces() {
	type Statement struct {
		U any `aggdb:"u"`
	}
	var tgt Statement
	u := M{"$set": M{"a": 1}}
	s.NoError(s.d.Decode(M{"u": u}, &tgt))
	s.Equal(u, tgt.U)
}

func (s *DecoderTestSuite) TestTime() {
	type Timed struct {
		At time.Time `aggdb:"at"`
	}
	var tgt Timed
	s.NoError(s.d.Decode(M{"at": "2025-01-02T03:04:05Z"}, &tgt))
	s.Equal(time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC), tgt.At)
}

func (s *DecoderTestSuite) TestIncompleteData() {
	type Partial struct {
		A int
		B string
	}
	tgt := Partial{B: "kept"}
	s.NoError(s.d.Decode(M{"a": 1}, &tgt))
	s.Equal(Partial{A: 1, B: "kept"}, tgt)
}

func (s *DecoderTestSuite) TestInvalidTargets() {
	s.ErrorIs(s.d.Decode(M{}, nil), domain.ErrTargetNil)

	var tgt struct{ A int }
	s.ErrorIs(s.d.Decode(M{}, tgt), domain.ErrNonPointer)
}

func (s *DecoderTestSuite) TestMismatchedTypes() {
	var tgt struct{ A []int }
	err := s.d.Decode(M{"a": "text"}, &tgt)
	s.Error(err)
	s.True(errors.As(err, &domain.ErrDecode{}))
}

func (s *DecoderTestSuite) TestDocumentFactory() {
	d := NewDecoder(WithDocumentFactory(func(any) (domain.Document, error) {
		return nil, errors.New("factory failed")
	}))
	var tgt struct {
		Q domain.Document `aggdb:"q"`
	}
	s.ErrorContains(d.Decode(M{"q": map[string]any{"a": 1}}, &tgt), "factory failed")
}

func TestDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(DecoderTestSuite))
}
