// Package structure contains type-related operations, such as iterating over
// values of type any and converting numbers.
package structure

import (
	"errors"
	"iter"
	"maps"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-reflect"

	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// ErrNilObj is returned by [Seq2] when a nil value is passed as argument.
var ErrNilObj = errors.New("nil object")

var docReflectType = reflect.TypeOf((*domain.Document)(nil)).Elem()

// ErrNonObject is returned by [Seq2] when a value that is neither a struct, a
// map nor a [domain.Document] is passed as argument.
type ErrNonObject struct {
	Type reflect.Type
}

func (e ErrNonObject) Error() string {
	return "expected object, got " + e.Type.String()
}

// Seq2 returns an iterator over the fields of a [domain.Document], a map with
// string keys or a struct (read with the "aggdb" tag).
func Seq2(obj any) (iter.Seq2[string, any], error) {
	switch t := obj.(type) {
	case nil:
		return nil, ErrNilObj
	case domain.Document:
		return t.Iter(), nil
	case map[string]any:
		return maps.All(t), nil
	case string, bool, time.Time, *regexp.Regexp, []byte, []any:
		return nil, ErrNonObject{Type: reflect.TypeOf(obj)}
	}

	v := reflect.ValueNoEscapeOf(obj)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, ErrNilObj
		}
		v = v.Elem()
	}
	if v.Type().Implements(docReflectType) {
		return v.Interface().(domain.Document).Iter(), nil
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return iterReflectMap(v), nil
		}
	case reflect.Struct:
		return iterReflectStruct(v), nil
	}
	return nil, ErrNonObject{Type: v.Type()}
}

func iterReflectMap(v reflect.Value) iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, k := range v.MapKeys() {
			if !yield(k.String(), v.MapIndex(k).Interface()) {
				return
			}
		}
	}
}

func iterReflectStruct(v reflect.Value) iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		typ := v.Type()
		for n := range typ.NumField() {
			field := typ.Field(n)
			if field.PkgPath != "" {
				continue
			}
			name := field.Name
			var omitEmpty, omitZero bool
			if tag, ok := field.Tag.Lookup("aggdb"); ok {
				if tag == "-" {
					continue
				}
				segments := strings.Split(tag, ",")
				if segments[0] != "" {
					name = segments[0]
				}
				for _, opt := range segments[1:] {
					omitEmpty = omitEmpty || opt == "omitempty"
					omitZero = omitZero || opt == "omitzero"
				}
			}
			fv := v.Field(n)
			if omitZero && fv.IsZero() {
				continue
			}
			if omitEmpty && nillable(fv.Kind()) && fv.IsNil() {
				continue
			}
			if !yield(name, fv.Interface()) {
				return
			}
		}
	}
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Ptr,
		reflect.UnsafePointer, reflect.Interface, reflect.Slice:
		return true
	default:
		return false
	}
}

// IsNumber reports whether v is any built-in number type.
func IsNumber(v any) bool {
	_, ok := AsFloat(v)
	return ok
}

// AsFloat converts any built-in number to float64.
func AsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// AsInteger converts any built-in number to int and returns a flag that informs
// if the argument is a valid integer.
func AsInteger(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case uint:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	case uint64:
		return int(t), true
	case float32:
		if trunc := math.Trunc(float64(t)); trunc == float64(t) {
			return int(trunc), true
		}
		return 0, false
	case float64:
		if trunc := math.Trunc(t); trunc == t {
			return int(trunc), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// IsIntegral reports whether v is an integer type, as opposed to a float
// holding an integral value.
func IsIntegral(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// Truthy reports whether v counts as true in boolean contexts. Undefined, nil,
// false and zero are false; every other value is true.
func Truthy(v any) bool {
	if g, ok := v.(domain.Getter); ok {
		var defined bool
		if v, defined = g.Get(); !defined {
			return false
		}
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	}
	if f, ok := AsFloat(v); ok {
		return f != 0
	}
	return true
}

// TypeName returns the type alias of v, as used by $type.
func TypeName(v any) string {
	if g, ok := v.(domain.Getter); ok {
		var defined bool
		if v, defined = g.Get(); !defined {
			return "missing"
		}
	}
	switch v.(type) {
	case nil:
		return "null"
	case float32, float64:
		return "double"
	case int8, int16, int32, uint8, uint16:
		return "int"
	case int, int64, uint, uint32, uint64:
		return "long"
	case string:
		return "string"
	case bool:
		return "bool"
	case time.Time:
		return "date"
	case []byte:
		return "binData"
	case *regexp.Regexp:
		return "regex"
	case []any:
		return "array"
	case domain.Document:
		return "object"
	default:
		return "unknown"
	}
}
