// Package uncomparable contains a map keyed by values of type [any] that are
// not necessarily [comparable], like documents and slices. Keys are bucketed
// by a [domain.Hasher] and matched by a [domain.Comparer], so failures are
// returned as errors instead of panicking.
package uncomparable

import (
	"iter"
	"slices"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

const (
	initialBuckets = 8
	maxLoad        = 4
)

// Map represents a map[any]T.
type Map[T any] struct {
	buckets  [][]entry[T]
	hasher   domain.Hasher
	comparer domain.Comparer
	length   int
}

type entry[T any] struct {
	hash  uint64
	key   any
	value T
}

// New returns an empty [Map] using the given [domain.Hasher] and
// [domain.Comparer].
func New[T any](hasher domain.Hasher, comparer domain.Comparer) *Map[T] {
	return &Map[T]{
		buckets:  make([][]entry[T], initialBuckets),
		hasher:   hasher,
		comparer: comparer,
	}
}

// find returns the hash of key, its bucket and its position in the bucket, or
// -1 if absent.
func (m *Map[T]) find(key any) (uint64, int, int, error) {
	h, err := m.hasher.Hash(key)
	if err != nil {
		return 0, 0, -1, err
	}
	b := int(h % uint64(len(m.buckets)))
	for n, e := range m.buckets[b] {
		if e.hash != h {
			continue
		}
		c, err := m.comparer.Compare(key, e.key)
		if err != nil {
			return 0, 0, -1, err
		}
		if c == 0 {
			return h, b, n, nil
		}
	}
	return h, b, -1, nil
}

// Get returns the value for the given key with a bool to indicate whether it
// exists in the map.
func (m *Map[T]) Get(key any) (T, bool, error) {
	_, b, n, err := m.find(key)
	if err != nil || n < 0 {
		return *new(T), false, err
	}
	return m.buckets[b][n].value, true, nil
}

// Has reports whether key is set.
func (m *Map[T]) Has(key any) (bool, error) {
	_, ok, err := m.Get(key)
	return ok, err
}

// Set adds or replaces the value for key.
func (m *Map[T]) Set(key any, value T) error {
	h, b, n, err := m.find(key)
	if err != nil {
		return err
	}
	if n >= 0 {
		m.buckets[b][n].value = value
		return nil
	}
	m.buckets[b] = append(m.buckets[b], entry[T]{hash: h, key: key, value: value})
	m.length++
	if m.length > maxLoad*len(m.buckets) {
		m.grow()
	}
	return nil
}

// Delete removes key from the map, if it exists.
func (m *Map[T]) Delete(key any) error {
	_, b, n, err := m.find(key)
	if err != nil || n < 0 {
		return err
	}
	m.buckets[b] = slices.Delete(m.buckets[b], n, n+1)
	m.length--
	return nil
}

func (m *Map[T]) grow() {
	buckets := make([][]entry[T], len(m.buckets)*2)
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			b := e.hash % uint64(len(buckets))
			buckets[b] = append(buckets[b], e)
		}
	}
	m.buckets = buckets
}

// Len returns the amount of stored values.
func (m *Map[T]) Len() int {
	return m.length
}

// Iter returns an unordered sequence of the key-value pairs.
func (m *Map[T]) Iter() iter.Seq2[any, T] {
	return func(yield func(any, T) bool) {
		for _, bucket := range m.buckets {
			for _, e := range bucket {
				if !yield(e.key, e.value) {
					return
				}
			}
		}
	}
}

// Keys returns an unordered sequence of the stored keys.
func (m *Map[T]) Keys() iter.Seq[any] {
	return func(yield func(any) bool) {
		for k := range m.Iter() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns an unordered sequence of the stored values.
func (m *Map[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range m.Iter() {
			if !yield(v) {
				return
			}
		}
	}
}
