// Package decoder contains the default [domain.Decoder] implementation, used
// to read command documents into typed structs.
package decoder

import (
	"fmt"
	"reflect"
	"time"

	goreflect "github.com/goccy/go-reflect"
	"github.com/mitchellh/mapstructure"

	"github.com/vinicius-lino-figueiredo/aggdb/adapter/data"
	"github.com/vinicius-lino-figueiredo/aggdb/domain"
)

var docReflectType = reflect.TypeOf((*domain.Document)(nil)).Elem()

// Decoder implements domain.Decoder.
type Decoder struct {
	docFac domain.DocumentFactory
}

// NewDecoder returns a new implementation of domain.Decoder.
func NewDecoder(opts ...Option) domain.Decoder {
	d := &Decoder{docFac: data.NewDocument}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode implements domain.Decoder. Struct fields are matched by their
// "aggdb" tag. Fields of type [domain.Document] keep documents as they are,
// ordered ones included.
func (d *Decoder) Decode(source any, target any) error {
	if target == nil {
		return domain.ErrTargetNil
	}

	value := goreflect.ValueNoEscapeOf(target)
	if value.Kind() != goreflect.Ptr {
		return domain.ErrNonPointer
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: data.TagName,
		Result:  target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			d.documentHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(source); err != nil {
		errDec := domain.ErrDecode{Source: source, Target: target}
		return fmt.Errorf("%w: %w", errDec, err)
	}
	return nil
}

// documentHook turns documents into maps when decoding into structs or maps,
// and maps into documents when decoding into [domain.Document].
func (d *Decoder) documentHook(_ reflect.Type, to reflect.Type, v any) (any, error) {
	if to == docReflectType {
		if m, ok := v.(map[string]any); ok {
			return d.docFac(m)
		}
		return v, nil
	}
	doc, ok := v.(domain.Document)
	if !ok {
		return v, nil
	}
	switch to.Kind() {
	case reflect.Struct, reflect.Map:
		m := make(map[string]any, doc.Len())
		for k, val := range doc.Iter() {
			m[k] = val
		}
		return m, nil
	default:
		return v, nil
	}
}
