package data

import (
	"bytes"
	"encoding/json"
	"iter"
	"slices"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// E is a single key-value pair used to build a [D].
type E struct {
	Key   string
	Value any
}

// D implements domain.Document keeping keys in insertion order. Setting an
// existing key keeps its original position.
type D struct {
	keys   []string
	values map[string]any
}

// NewD returns an ordered document with the given pairs.
func NewD(pairs ...E) *D {
	d := &D{keys: make([]string, 0, len(pairs)), values: make(map[string]any, len(pairs))}
	for _, p := range pairs {
		d.Set(p.Key, p.Value)
	}
	return d
}

// ID implements domain.Document.
func (d *D) ID() any {
	return d.values["_id"]
}

// D implements domain.Document.
func (d *D) D(key string) domain.Document {
	if doc, ok := d.values[key].(domain.Document); ok {
		return doc
	}
	return nil
}

// Get implements domain.Document.
func (d *D) Get(key string) any {
	return d.values[key]
}

// Set implements domain.Document.
func (d *D) Set(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Unset implements domain.Document.
func (d *D) Unset(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == key })
}

// Iter implements domain.Document.
func (d *D) Iter() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, k := range d.keys {
			if !yield(k, d.values[k]) {
				return
			}
		}
	}
}

// Keys implements domain.Document.
func (d *D) Keys() iter.Seq[string] {
	return slices.Values(d.keys)
}

// Values implements domain.Document.
func (d *D) Values() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, k := range d.keys {
			if !yield(d.values[k]) {
				return
			}
		}
	}
}

// Has implements domain.Document.
func (d *D) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Len implements domain.Document.
func (d *D) Len() int {
	return len(d.keys)
}

// First returns the first key of the document, or false if it is empty.
func (d *D) First() (string, bool) {
	if len(d.keys) == 0 {
		return "", false
	}
	return d.keys[0], true
}

// MarshalJSON implements json.Marshaler, keeping key order.
func (d *D) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for n, k := range d.keys {
		if n > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *D) UnmarshalJSON(input []byte) error {
	res, err := ParseJSON(input)
	if err != nil {
		return err
	}
	*d = *res
	return nil
}

// FirstKey returns the first key of doc. For [D] it is the first inserted key;
// other documents only have a meaningful first key when they hold exactly one
// field.
func FirstKey(doc domain.Document) (string, bool) {
	if d, ok := doc.(*D); ok {
		return d.First()
	}
	if doc == nil || doc.Len() != 1 {
		return "", false
	}
	for k := range doc.Keys() {
		return k, true
	}
	return "", false
}
