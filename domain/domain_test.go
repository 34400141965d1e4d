package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type DomainTestSuite struct {
	suite.Suite
}

func (s *DomainTestSuite) TestFindOptions() {
	fos := domain.NewFindOptions(
		domain.WithFindProjection(domain.Projection{"b": 1}),
		domain.WithFindSkip(2),
		domain.WithFindLimit(3),
		domain.WithFindSort(domain.Sort{{Key: "a", Order: -1}}),
	)
	s.Equal(domain.FindOptions{
		Projection: domain.Projection{"b": 1},
		Skip:       2,
		Limit:      3,
		Sort:       domain.Sort{{Key: "a", Order: -1}},
	}, fos)
	s.False(fos.IsZero())
	s.True(domain.NewFindOptions().IsZero())
}

func (s *DomainTestSuite) TestNamespace() {
	ns := domain.ParseNamespace("db.coll.sub")
	s.Equal(domain.NewNamespace("db", "coll.sub"), ns)
	s.Equal("db.coll.sub", ns.String())
	s.False(ns.IsDatabase())

	db := domain.ParseNamespace("db")
	s.True(db.IsDatabase())
	s.Equal("db", db.String())

	s.Equal(domain.NewNamespace("a", "b"), domain.NewNamespace("a", "b"))
}

func (s *DomainTestSuite) TestErrors() {
	var cmd error = domain.ErrCommandNotSupported{Name: "explode"}
	s.ErrorContains(cmd, "explode")

	var target domain.ErrInvalidCursor
	err := error(domain.ErrInvalidCursor{ID: 12})
	s.True(errors.As(err, &target))
	s.Equal(int64(12), target.ID)

	val := domain.ErrValidation{Failures: []domain.ValidationFailure{
		{Reason: "a is required"}, {Reason: "b must be a string"},
	}}
	s.Equal("document failed validation: a is required; b must be a string", val.Error())
}

func TestDomainTestSuite(t *testing.T) {
	suite.Run(t, new(DomainTestSuite))
}
