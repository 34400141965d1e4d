// Package validator contains a [domain.Validator] backed by JSON Schema. The
// schema is the content of a collection's $jsonSchema validator; bsonType
// keywords are translated into their JSON Schema types.
package validator

import (
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/adapter/hasher"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

// DefaultCacheSize is the default number of compiled schemas kept.
const DefaultCacheSize = 64

var bsonTypes = map[string]string{
	"double":  "number",
	"decimal": "number",
	"number":  "number",
	"int":     "integer",
	"long":    "integer",
	"string":  "string",
	"object":  "object",
	"array":   "array",
	"bool":    "boolean",
	"null":    "null",
}

// ErrSchema is returned when a schema cannot be compiled.
type ErrSchema struct {
	Reason string
}

// Error implements [error].
func (e ErrSchema) Error() string {
	return "invalid $jsonSchema: " + e.Reason
}

// Validator implements [domain.Validator].
type Validator struct {
	hasher   domain.Hasher
	size     int
	compiled *lru.Cache[uint64, *gojsonschema.Schema]
}

// NewValidator returns a new [Validator].
func NewValidator(opts ...Option) (*Validator, error) {
	v := &Validator{
		hasher: hasher.NewHasher(),
		size:   DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(v)
	}
	cache, err := lru.New[uint64, *gojsonschema.Schema](v.size)
	if err != nil {
		return nil, err
	}
	v.compiled = cache
	return v, nil
}

// Compile checks schema, caching the result.
func (v *Validator) Compile(schema any) error {
	_, err := v.schema(schema)
	return err
}

func (v *Validator) schema(raw any) (*gojsonschema.Schema, error) {
	key, err := v.hasher.Hash(raw)
	if err != nil {
		return nil, err
	}
	if s, ok := v.compiled.Get(key); ok {
		return s, nil
	}

	var loader gojsonschema.JSONLoader
	switch t := raw.(type) {
	case string:
		loader = gojsonschema.NewStringLoader(t)
	case domain.Document:
		loader = gojsonschema.NewGoLoader(translate(data.Unordered(t)))
	default:
		return nil, ErrSchema{Reason: fmt.Sprintf("expected object, got %T", raw)}
	}
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema{Reason: "compiling"}, err)
	}
	v.compiled.Add(key, s)
	return s, nil
}

// translate replaces bsonType keywords with type keywords.
func translate(v any) any {
	switch t := v.(type) {
	case data.M:
		res := make(map[string]any, len(t))
		for k, val := range t {
			if k == "bsonType" {
				res["type"] = translateType(val)
				continue
			}
			res[k] = translate(val)
		}
		return res
	case []any:
		res := make([]any, len(t))
		for n, item := range t {
			res[n] = translate(item)
		}
		return res
	default:
		return v
	}
}

func translateType(v any) any {
	switch t := v.(type) {
	case string:
		if j, ok := bsonTypes[t]; ok {
			return j
		}
		return t
	case []any:
		// int and long collapse into the same type
		res := make([]any, 0, len(t))
		for _, item := range t {
			j := translateType(item)
			if name, ok := j.(string); ok && slices.Contains(res, any(name)) {
				continue
			}
			res = append(res, j)
		}
		return res
	default:
		return v
	}
}

// Validate implements [domain.Validator].
func (v *Validator) Validate(doc domain.Document, schema any) error {
	s, err := v.schema(schema)
	if err != nil {
		return err
	}
	res, err := s.Validate(gojsonschema.NewGoLoader(data.Unordered(doc)))
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}
	if res.Valid() {
		return nil
	}
	failures := make([]domain.ValidationFailure, len(res.Errors()))
	for n, desc := range res.Errors() {
		details := desc.Details()
		actual := details["given"]
		if actual == nil {
			actual = desc.Value()
		}
		failures[n] = domain.ValidationFailure{
			OperatorName: desc.Type(),
			Field:        desc.Field(),
			Expected:     details["expected"],
			Actual:       actual,
			Reason:       desc.String(),
		}
	}
	return domain.ErrValidation{Failures: failures}
}
