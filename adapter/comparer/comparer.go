// Package comparer orders document values across types. Values of different
// kinds are ordered by bracket: undefined, null, numbers, strings, booleans,
// dates, arrays and finally documents.
package comparer

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"math/big"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

type rank int

const (
	rankUndefined rank = iota
	rankNull
	rankNumber
	rankString
	rankBool
	rankTime
	rankBinary
	rankArray
	rankDocument
	rankUnknown
)

// Comparer implements domain.Comparer.
type Comparer struct{}

// NewComparer returns a new implementation of domain.Comparer.
func NewComparer() domain.Comparer {
	return &Comparer{}
}

// Comparable implements domain.Comparer. Only numbers, strings and dates can
// be ordered by range operators, and only against their own bracket.
func (c *Comparer) Comparable(a, b any) bool {
	ra, rb := c.rank(a), c.rank(b)
	if ra != rb {
		return false
	}
	switch ra {
	case rankNumber, rankString, rankTime:
		return true
	default:
		return false
	}
}

// Compare implements domain.Comparer.
func (c *Comparer) Compare(a, b any) (int, error) {
	ra, rb := c.rank(a), c.rank(b)
	if ra == rankUnknown || rb == rankUnknown {
		return 0, fmt.Errorf("cannot compare unexpected types %T and %T", c.value(a), c.value(b))
	}
	if ra != rb {
		return cmp.Compare(ra, rb), nil
	}
	a, b = c.value(a), c.value(b)
	switch ra {
	case rankNumber:
		return c.compareNumbers(a, b), nil
	case rankString:
		return cmp.Compare(a.(string), b.(string)), nil
	case rankBool:
		return c.compareBool(a.(bool), b.(bool)), nil
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time)), nil
	case rankBinary:
		return bytes.Compare(a.([]byte), b.([]byte)), nil
	case rankArray:
		return c.compareArray(a.([]any), b.([]any))
	case rankDocument:
		return c.compareDoc(a.(domain.Document), b.(domain.Document))
	default:
		return 0, nil
	}
}

func (c *Comparer) rank(v any) rank {
	if g, ok := v.(domain.Getter); ok {
		val, defined := g.Get()
		if !defined {
			return rankUndefined
		}
		v = val
	}
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	case []byte:
		return rankBinary
	case []any:
		return rankArray
	case domain.Document:
		return rankDocument
	}
	if _, ok := asNumber(v); ok {
		return rankNumber
	}
	return rankUnknown
}

func (c *Comparer) value(v any) any {
	if g, ok := v.(domain.Getter); ok {
		val, _ := g.Get()
		return val
	}
	return v
}

// compareNumbers uses big.Float so int64 and float64 values can be compared
// without precision loss. NaN sorts before every other number.
func (c *Comparer) compareNumbers(a, b any) int {
	na, _ := asNumber(a)
	nb, _ := asNumber(b)
	if na == nil || nb == nil {
		switch {
		case na == nil && nb == nil:
			return 0
		case na == nil:
			return -1
		default:
			return 1
		}
	}
	return na.Cmp(nb)
}

func (c *Comparer) compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if a {
		return 1
	}
	return -1
}

func (c *Comparer) compareArray(a, b []any) (int, error) {
	for i := range min(len(a), len(b)) {
		comp, err := c.Compare(a[i], b[i])
		if err != nil || comp != 0 {
			return comp, err
		}
	}
	return cmp.Compare(len(a), len(b)), nil
}

// compareDoc compares documents field by field, in ascending key order, so
// documents with the same content are equal regardless of insertion order.
func (c *Comparer) compareDoc(a, b domain.Document) (int, error) {
	aKeys := slices.Sorted(a.Keys())
	bKeys := slices.Sorted(b.Keys())

	for i := range min(len(aKeys), len(bKeys)) {
		if comp := cmp.Compare(aKeys[i], bKeys[i]); comp != 0 {
			return comp, nil
		}
		comp, err := c.Compare(a.Get(aKeys[i]), b.Get(bKeys[i]))
		if err != nil || comp != 0 {
			return comp, err
		}
	}
	return cmp.Compare(len(aKeys), len(bKeys)), nil
}

// asNumber converts any numeric value to big.Float. The bool result reports
// whether v is numeric; a numeric NaN returns a nil float.
func asNumber(v any) (*big.Float, bool) {
	r := big.NewFloat(0)
	switch n := v.(type) {
	case int:
		r.SetInt64(int64(n))
	case int8:
		r.SetInt64(int64(n))
	case int16:
		r.SetInt64(int64(n))
	case int32:
		r.SetInt64(int64(n))
	case int64:
		r.SetInt64(n)
	case uint:
		r.SetUint64(uint64(n))
	case uint8:
		r.SetUint64(uint64(n))
	case uint16:
		r.SetUint64(uint64(n))
	case uint32:
		r.SetUint64(uint64(n))
	case uint64:
		r.SetUint64(n)
	case float32:
		if math.IsNaN(float64(n)) {
			return nil, true
		}
		r.SetFloat64(float64(n))
	case float64:
		if math.IsNaN(n) {
			return nil, true
		}
		r.SetFloat64(n)
	default:
		return nil, false
	}
	return r, true
}

// Equal reports whether a and b compare as equal. Errors count as different.
func Equal(c domain.Comparer, a, b any) bool {
	comp, err := c.Compare(a, b)
	return err == nil && comp == 0
}
