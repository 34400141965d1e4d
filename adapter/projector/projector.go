// Package projector contains the default [domain.Projector] implementation.
package projector

import (
	"errors"
	"slices"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
	"github.com/vinicius-lino-figueiredo/aggdb/pkg/structure"
)

var (
	// ErrMixOmitType is returned when user provides a projection object
	// with mixed "omit" and "show" operators.
	ErrMixOmitType = errors.New("can't both keep and omit fields except for _id")
)

// Projector implements [domain.Projector].
type Projector struct {
	fn     domain.FieldNavigator
	docFac domain.DocumentFactory
}

// NewProjector returns a new implementation of [domain.Projector].
func NewProjector(opts ...Option) domain.Projector {
	p := Projector{docFac: data.NewDocument}
	for _, opt := range opts {
		opt(&p)
	}
	if p.fn == nil {
		p.fn = fieldnavigator.NewFieldNavigator(p.docFac)
	}
	return &p
}

// tree holds inclusion paths. An empty subtree keeps the whole value.
type tree map[string]tree

func (t tree) add(addr []string) {
	cur := t
	for n, part := range addr {
		sub, ok := cur[part]
		if ok && len(sub) == 0 {
			return
		}
		if n == len(addr)-1 {
			cur[part] = tree{}
			return
		}
		if !ok {
			sub = tree{}
			cur[part] = sub
		}
		cur = sub
	}
}

// Project implements [domain.Projector]. Projected documents are copies; the
// given documents are not changed.
func (q *Projector) Project(docs []domain.Document, proj domain.Projection) ([]domain.Document, error) {
	if len(proj) == 0 {
		return docs, nil
	}

	id, idMentioned := proj["_id"]
	keepID := !idMentioned || id != 0

	fields := 0
	oneFields := 0
	keys := make([]string, 0, len(proj))
	for field := range proj {
		keys = append(keys, field)
	}
	slices.Sort(keys)

	include := tree{}
	var exclude [][]string
	for _, field := range keys {
		if field == "_id" {
			continue
		}
		fields++
		if proj[field] > 0 {
			oneFields++
		}
		if oneFields > 0 && oneFields != fields {
			return nil, ErrMixOmitType
		}
		addr, err := q.fn.GetAddress(field)
		if err != nil {
			return nil, err
		}
		include.add(addr)
		exclude = append(exclude, addr)
	}

	inclusive := oneFields > 0 || (fields == 0 && idMentioned && keepID)
	res := make([]domain.Document, len(docs))
	for n, doc := range docs {
		var projected domain.Document
		var err error
		if inclusive {
			projected, err = q.positiveProject(doc, include)
		} else {
			projected, err = q.negativeProject(doc, exclude)
		}
		if err != nil {
			return nil, err
		}

		if keepID && doc.Has("_id") {
			projected.Set("_id", data.Clone(doc.ID()))
		} else if !keepID {
			projected.Unset("_id")
		}
		res[n] = projected
	}

	return res, nil
}

func (q *Projector) positiveProject(doc domain.Document, t tree) (domain.Document, error) {
	res, err := q.docFac(nil)
	if err != nil {
		return nil, err
	}
	for k, v := range doc.Iter() {
		sub, ok := t[k]
		if !ok {
			continue
		}
		if len(sub) == 0 {
			res.Set(k, data.Clone(v))
			continue
		}
		value, keep, err := q.projectValue(v, sub)
		if err != nil {
			return nil, err
		}
		if keep {
			res.Set(k, value)
		}
	}
	return res, nil
}

// projectValue applies a nested inclusion to v. Arrays keep only their
// projected documents; other values are dropped.
func (q *Projector) projectValue(v any, t tree) (any, bool, error) {
	switch val := v.(type) {
	case domain.Document:
		doc, err := q.positiveProject(val, t)
		return doc, err == nil, err
	case []any:
		res := make([]any, 0, len(val))
		for _, item := range val {
			projected, keep, err := q.projectValue(item, t)
			if err != nil {
				return nil, false, err
			}
			if _, isList := item.([]any); keep && !isList {
				res = append(res, projected)
			}
		}
		return res, true, nil
	default:
		return nil, false, nil
	}
}

func (q *Projector) negativeProject(doc domain.Document, p [][]string) (domain.Document, error) {
	res, err := q.docFac(doc)
	if err != nil {
		return nil, err
	}
	for _, field := range p {
		values, _, err := q.fn.GetField(res, field...)
		if err != nil {
			return nil, err
		}
		for _, value := range values {
			value.Unset()
		}
	}
	return res, nil
}

// ParseProjection reads a projection specification. ok is false when the
// specification holds computed fields, which need an expression evaluator.
func ParseProjection(spec domain.Document) (proj domain.Projection, ok bool) {
	if spec == nil {
		return nil, true
	}
	proj = make(domain.Projection, spec.Len())
	for k, v := range spec.Iter() {
		switch t := v.(type) {
		case bool:
			proj[k] = 0
			if t {
				proj[k] = 1
			}
		default:
			f, isNum := structure.AsFloat(v)
			if !isNum {
				return nil, false
			}
			proj[k] = 0
			if f != 0 {
				proj[k] = 1
			}
		}
	}
	return proj, true
}
