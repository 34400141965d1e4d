package data

import (
	"encoding/json"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type DocumentTestSuite struct {
	suite.Suite
}

func (s *DocumentTestSuite) TestSimpleMap() {
	doc, err := NewDocument(map[string]any{"yeah": "sure", "of": "course"})
	s.NoError(err)
	s.Equal(M{"yeah": "sure", "of": "course"}, doc)
}

func (s *DocumentTestSuite) TestStructTags() {
	obj := struct {
		Name    string `aggdb:"name"`
		Skipped string `aggdb:"-"`
		Empty   []int  `aggdb:"empty,omitempty"`
		Zero    int    `aggdb:"zero,omitzero"`
		hidden  bool
		Plain   bool
	}{Name: "ana", Skipped: "x", hidden: true}

	doc, err := NewDocument(&obj)
	s.NoError(err)
	s.Equal(M{"name": "ana", "Plain": false}, doc)
}

func (s *DocumentTestSuite) TestNestedValues() {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	obj := struct {
		Sub  struct{ A int }
		List []string
		When time.Time
		Raw  []byte
	}{List: []string{"a", "b"}, When: when, Raw: []byte("hi")}
	obj.Sub.A = 1

	doc, err := NewDocument(obj)
	s.NoError(err)
	s.Equal(M{
		"Sub":  M{"A": 1},
		"List": []any{"a", "b"},
		"When": when,
		"Raw":  []byte("hi"),
	}, doc)
}

func (s *DocumentTestSuite) TestNilAndInvalid() {
	doc, err := NewDocument(nil)
	s.NoError(err)
	s.Equal(M{}, doc)

	doc, err = NewDocument((*struct{})(nil))
	s.NoError(err)
	s.Equal(M{}, doc)

	_, err = NewDocument(12)
	s.Error(err)

	_, err = NewDocument(map[int]string{1: "a"})
	s.Error(err)
}

func (s *DocumentTestSuite) TestCopiesDocuments() {
	orig := M{"a": M{"b": []any{M{"c": 1}}}}
	doc, err := NewDocument(orig)
	s.NoError(err)
	s.Equal(orig, doc)

	doc.D("a").Get("b").([]any)[0].(M)["c"] = 2
	s.Equal(1, orig.D("a").Get("b").([]any)[0].(M)["c"])
}

func (s *DocumentTestSuite) TestCopiesOrderedDocuments() {
	orig := NewD(E{"b", 1}, E{"a", NewD(E{"z", 1}, E{"y", 2})})
	doc, err := NewDocument(orig)
	s.NoError(err)
	s.IsType(&D{}, doc)
	s.Equal([]string{"b", "a"}, slices.Collect(doc.Keys()))
	s.Equal([]string{"z", "y"}, slices.Collect(doc.D("a").Keys()))

	doc.Set("b", 2)
	s.Equal(1, orig.Get("b"))
}

func (s *DocumentTestSuite) TestMAccessors() {
	doc := M{"_id": 1, "sub": M{"a": 1}, "n": 2}
	s.Equal(1, doc.ID())
	s.Equal(M{"a": 1}, doc.D("sub"))
	s.Nil(doc.D("n"))
	s.True(doc.Has("n"))
	doc.Unset("n")
	s.False(doc.Has("n"))
	doc.Set("x", nil)
	s.True(doc.Has("x"))
	s.Equal(3, doc.Len())
}

func (s *DocumentTestSuite) TestDKeepsOrder() {
	doc := NewD(E{"find", "users"}, E{"filter", M{}}, E{"limit", 3})
	first, ok := doc.First()
	s.True(ok)
	s.Equal("find", first)

	doc.Set("find", "other")
	doc.Set("batchSize", 2)
	s.Equal([]string{"find", "filter", "limit", "batchSize"}, slices.Collect(doc.Keys()))
	s.Equal([]any{"other", M{}, 3, 2}, slices.Collect(doc.Values()))

	doc.Unset("filter")
	doc.Unset("missing")
	s.Equal([]string{"find", "limit", "batchSize"}, slices.Collect(doc.Keys()))
	s.Equal(3, doc.Len())

	var pairs []E
	for k, v := range doc.Iter() {
		pairs = append(pairs, E{k, v})
		break
	}
	s.Equal([]E{{"find", "other"}}, pairs)

	_, ok = NewD().First()
	s.False(ok)
}

func (s *DocumentTestSuite) TestZeroD() {
	var doc D
	doc.Set("a", 1)
	s.Equal(1, doc.Get("a"))
	s.Nil(doc.ID())
}

func (s *DocumentTestSuite) TestFirstKey() {
	k, ok := FirstKey(NewD(E{"b", 1}, E{"a", 1}))
	s.True(ok)
	s.Equal("b", k)

	k, ok = FirstKey(M{"insert": "c"})
	s.True(ok)
	s.Equal("insert", k)

	_, ok = FirstKey(M{"a": 1, "b": 2})
	s.False(ok)

	_, ok = FirstKey(nil)
	s.False(ok)
}

func (s *DocumentTestSuite) TestParseJSON() {
	doc, err := ParseJSON([]byte(`{"z": 1, "a": [true, null, "s"], "d": {"$date": 0}, "o": {"y": 2.5, "x": {}}}`))
	s.NoError(err)
	s.Equal([]string{"z", "a", "d", "o"}, slices.Collect(doc.Keys()))
	s.Equal(float64(1), doc.Get("z"))
	s.Equal([]any{true, nil, "s"}, doc.Get("a"))
	s.Equal(time.UnixMilli(0).UTC(), doc.Get("d"))
	s.Equal([]string{"y", "x"}, slices.Collect(doc.D("o").Keys()))

	doc, err = ParseJSON([]byte(`{"d": {"$date": "2024-01-02T03:04:05Z"}}`))
	s.NoError(err)
	s.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), doc.Get("d"))
}

func (s *DocumentTestSuite) TestParseJSONErrors() {
	for _, input := range []string{`[1]`, `{"a":1} x`, `{"a" 1}`, `{"a":1 "b":2}`, `{"a":tru}`, `{"a":"\q"}`, `{"a":`, `{"a":"b`, `{"a":1-}`} {
		_, err := ParseJSON([]byte(input))
		s.Error(err, input)
	}
	_, err := ParseJSON([]byte(`{"a":1} x`))
	s.ErrorIs(err, ErrTrailingData)
	_, err = ParseJSON([]byte(`{"a":tru}`))
	s.ErrorAs(err, new(*json.SyntaxError))
	_, err = ParseJSON([]byte(`{"a":[1, {"b":`))
	s.ErrorIs(err, io.ErrUnexpectedEOF)
	_, err = ParseJSON([]byte(`{"d": {"$date": true}}`))
	s.ErrorAs(err, new(ErrInvalidDate))
}

func (s *DocumentTestSuite) TestParseJSONKeepsDateLookalikes() {
	doc, err := ParseJSON([]byte(`{"d": {"$date": 0, "x": 1}, "l": [], "s": "a\u00e9\n"}`))
	s.NoError(err)
	s.Equal([]string{"$date", "x"}, slices.Collect(doc.D("d").Keys()))
	s.Equal([]any{}, doc.Get("l"))
	s.Equal("a\u00e9\n", doc.Get("s"))
}

func (s *DocumentTestSuite) TestJSONRoundTrip() {
	doc := NewD(E{"b", "x\"y"}, E{"a", M{"n": 1}}, E{"c", []any{NewD(E{"k", true})}})
	b, err := json.Marshal(doc)
	s.NoError(err)
	s.JSONEq(`{"b":"x\"y","a":{"n":1},"c":[{"k":true}]}`, string(b))
	s.Equal(`{"b":"x\"y","a":{"n":1},"c":[{"k":true}]}`, string(b))

	var back D
	s.NoError(json.Unmarshal(b, &back))
	s.Equal([]string{"b", "a", "c"}, slices.Collect(back.Keys()))

	var m M
	s.NoError(json.Unmarshal(b, &m))
	s.Equal(M{"b": "x\"y", "a": M{"n": float64(1)}, "c": []any{M{"k": true}}}, m)

	s.Error(json.Unmarshal([]byte(`[]`), &m))
}

func (s *DocumentTestSuite) TestUnordered() {
	in := NewD(E{"a", []any{NewD(E{"b", 1})}})
	s.Equal(M{"a": []any{M{"b": 1}}}, Unordered(in))
	s.Equal(3, Unordered(3))
}

func (s *DocumentTestSuite) TestImplementsDocument() {
	var _ domain.Document = M{}
	var _ domain.Document = NewD()
}

func TestDocumentTestSuite(t *testing.T) {
	suite.Run(t, new(DocumentTestSuite))
}
