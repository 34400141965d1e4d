// Package fieldnavigator resolves dotted addresses ("a.b.0.c") inside
// documents. Addresses crossing an array with a non numeric part are expanded
// into every document element of that array.
package fieldnavigator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// ErrEmptyFieldName is returned by GetAddress for addresses with empty parts.
var ErrEmptyFieldName = errors.New("field names cannot be empty")

// ErrCannotCreateField is returned by EnsureField when a path part crosses a
// value that is neither a document nor an array.
type ErrCannotCreateField struct {
	Field string
	Value any
}

// Error implements [error].
func (e ErrCannotCreateField) Error() string {
	return fmt.Sprintf("cannot create field %q in element %v", e.Field, e.Value)
}

// FieldNavigator implements [domain.FieldNavigator].
type FieldNavigator struct {
	docFac domain.DocumentFactory
}

// NewFieldNavigator returns a new instance of [domain.FieldNavigator]. docFac
// creates the intermediate documents needed by EnsureField.
func NewFieldNavigator(docFac domain.DocumentFactory) domain.FieldNavigator {
	return &FieldNavigator{docFac: docFac}
}

// GetAddress implements [domain.FieldNavigator].
func (fn *FieldNavigator) GetAddress(field string) ([]string, error) {
	parts := strings.Split(field, ".")
	for _, p := range parts {
		if p == "" {
			return nil, ErrEmptyFieldName
		}
	}
	return parts, nil
}

// GetField implements [domain.FieldNavigator]. Missing values are returned as
// undefined [domain.GetSetter]s, so the result is never empty.
func (fn *FieldNavigator) GetField(obj any, parts ...string) ([]domain.GetSetter, bool, error) {
	return fn.resolve(obj, parts, false)
}

// EnsureField implements [domain.FieldNavigator].
func (fn *FieldNavigator) EnsureField(obj any, parts ...string) ([]domain.GetSetter, error) {
	res, _, err := fn.resolve(obj, parts, true)
	return res, err
}

func (fn *FieldNavigator) resolve(obj any, parts []string, ensure bool) ([]domain.GetSetter, bool, error) {
	if obj == nil || len(parts) == 0 {
		return []domain.GetSetter{Undefined()}, false, nil
	}
	w := walker{fn: fn, ensure: ensure}
	if err := w.walk(NewReadOnly(obj), obj, parts); err != nil {
		return nil, false, err
	}
	if len(w.res) == 0 {
		w.res = append(w.res, Undefined())
	}
	return w.res, w.expanded, nil
}

type walker struct {
	fn       *FieldNavigator
	ensure   bool
	expanded bool
	res      []domain.GetSetter
}

// walk resolves parts starting at v, which is addressed by gs.
func (w *walker) walk(gs domain.GetSetter, v any, parts []string) error {
	part, rest := parts[0], parts[1:]
	switch t := v.(type) {
	case domain.Document:
		return w.walkDoc(t, part, rest)
	case []any:
		if i, err := strconv.Atoi(part); err == nil && i >= 0 {
			return w.walkIndex(gs, t, i, rest)
		}
		return w.expand(t, parts)
	default:
		if w.ensure {
			return ErrCannotCreateField{Field: part, Value: v}
		}
		w.res = append(w.res, Undefined())
		return nil
	}
}

func (w *walker) walkDoc(doc domain.Document, part string, rest []string) error {
	if !doc.Has(part) {
		if !w.ensure {
			w.res = append(w.res, Undefined())
			return nil
		}
		var value any
		if len(rest) > 0 {
			sub, err := w.fn.docFac(nil)
			if err != nil {
				return err
			}
			value = sub
		}
		doc.Set(part, value)
	}
	gs := NewDocField(doc, part)
	if len(rest) == 0 {
		w.res = append(w.res, gs)
		return nil
	}
	return w.walk(gs, doc.Get(part), rest)
}

func (w *walker) walkIndex(parent domain.GetSetter, list []any, i int, rest []string) error {
	if i >= len(list) {
		if !w.ensure {
			w.res = append(w.res, Undefined())
			return nil
		}
		grown := make([]any, i+1)
		copy(grown, list)
		parent.Set(grown)
		list = grown
	}
	if w.ensure && len(rest) > 0 && list[i] == nil {
		sub, err := w.fn.docFac(nil)
		if err != nil {
			return err
		}
		list[i] = sub
	}
	gs := NewListItem(list, i)
	if len(rest) == 0 {
		w.res = append(w.res, gs)
		return nil
	}
	return w.walk(gs, list[i], rest)
}

// expand continues the address inside every document of list. Elements that
// are not documents cannot hold fields and are skipped.
func (w *walker) expand(list []any, parts []string) error {
	w.expanded = true
	ensure := w.ensure
	w.ensure = false
	defer func() { w.ensure = ensure }()
	for n, item := range list {
		if _, ok := item.(domain.Document); !ok {
			continue
		}
		if err := w.walk(NewListItem(list, n), item, parts); err != nil {
			return err
		}
	}
	return nil
}
