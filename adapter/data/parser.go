package data

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrTrailingData is returned when the input holds more than one JSON value.
var ErrTrailingData = errors.New("trailing data after JSON")

// ErrInvalidDate is returned for {"$date": ...} objects holding neither unix
// milliseconds nor an RFC 3339 string.
type ErrInvalidDate struct {
	Value any
}

// Error implements [error].
func (e ErrInvalidDate) Error() string {
	return fmt.Sprintf("invalid $date value %v", e.Value)
}

// ParseJSON parses a JSON object into an ordered document. Numbers are read as
// float64 and {"$date": ...} objects as [time.Time].
func ParseJSON(input []byte) (*D, error) {
	dec := json.NewDecoder(bytes.NewReader(input))
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	d, ok := v.(*D)
	if !ok {
		return nil, fmt.Errorf("expected document, received %T", v)
	}
	return d, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		return decodeDocument(dec)
	case json.Delim('['):
		return decodeList(dec)
	default:
		return tok, nil
	}
}

func decodeDocument(dec *json.Decoder) (any, error) {
	d := NewD()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		// the decoder rejects non-string keys itself
		key := tok.(string)
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		d.Set(key, val)
	}
	if err := closing(dec); err != nil {
		return nil, err
	}
	if d.Len() == 1 && d.Has("$date") {
		return extendedDate(d.Get("$date"))
	}
	return d, nil
}

func decodeList(dec *json.Decoder) (any, error) {
	res := []any{}
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		res = append(res, val)
	}
	if err := closing(dec); err != nil {
		return nil, err
	}
	return res, nil
}

// closing consumes the delimiter ending the current object or array.
func closing(dec *json.Decoder) error {
	_, err := dec.Token()
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func extendedDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	default:
		return time.Time{}, ErrInvalidDate{Value: v}
	}
}
