// Package hasher contains a json based implementation of [domain.Hasher]. Values
// are canonicalized before marshaling so that every pair considered equal by
// the comparer produces the same hash: documents hash with sorted keys,
// integral floats hash as integers and dates hash by instant, ignoring their
// location. Values that cannot be marshaled, like channels and functions,
// hash by pointer.
package hasher

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"math"
	"reflect"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// Hasher implements [domain.Hasher].
type Hasher struct{}

// NewHasher returns a new implementation of [domain.Hasher].
func NewHasher() domain.Hasher {
	return &Hasher{}
}

// Hash implements domain.Hasher.
func (h *Hasher) Hash(value any) (uint64, error) {
	b, err := json.Marshal(h.canonicalize(value))
	if err != nil {
		return 0, err
	}
	hasher := fnv.New64a()
	_, _ = hasher.Write(b) // fnv never returns errors
	return hasher.Sum64(), nil
}

type date struct {
	Date int64 `json:"$date"`
}

type nan struct {
	NaN bool `json:"$nan"`
}

type inf struct {
	Inf bool `json:"$inf"`
}

func (h *Hasher) canonicalize(a any) any {
	if g, ok := a.(domain.Getter); ok {
		a, _ = g.Get()
	}
	switch t := a.(type) {
	case nil, bool, string, []byte:
		return t
	case time.Time:
		return date{Date: t.UnixNano()}
	case float64:
		return h.float(t)
	case float32:
		return h.float(float64(t))
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return h.unsigned(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return h.unsigned(t)
	case domain.Document:
		pairs := make(object, 0, t.Len())
		for k, v := range t.Iter() {
			pairs = append(pairs, keyValuePair{key: k, val: h.canonicalize(v)})
		}
		return pairs
	case []any:
		res := make([]any, len(t))
		for n, v := range t {
			res[n] = h.canonicalize(v)
		}
		return res
	}

	v := reflect.ValueOf(a)
	switch v.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil
		}
		return v.Pointer()
	}
	return a
}

func (h *Hasher) float(f float64) any {
	if math.IsNaN(f) {
		return nan{NaN: true}
	}
	if math.IsInf(f, 0) {
		return inf{Inf: math.Signbit(f)}
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

func (h *Hasher) unsigned(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

type keyValuePair struct {
	key string
	val any
}

type object []keyValuePair

func (o object) MarshalJSON() ([]byte, error) {
	slices.SortFunc(o, func(a, b keyValuePair) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		default:
			return 0
		}
	})

	buf := bytes.NewBuffer(append(make([]byte, 0, 256), '{'))
	for n, item := range o {
		if n > 0 {
			_ = buf.WriteByte(',')
		}
		key, _ := json.Marshal(item.key)
		_, _ = buf.Write(key)
		_ = buf.WriteByte(':')
		v, err := json.Marshal(item.val)
		if err != nil {
			return nil, err
		}
		_, _ = buf.Write(v)
	}
	_ = buf.WriteByte('}')
	return buf.Bytes(), nil
}
