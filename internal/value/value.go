package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrEncode = errors.New("value: encode failed")
	ErrDecode = errors.New("value: decode failed")
)

// Value is a structured, JSON-compatible value: nil, bool, json.Number,
// string, []Value-shaped slices and map[string]any-shaped objects. It is
// the universal encoding for actor state and messages crossing the
// sandbox boundary.
type Value = any

// Encode serializes a structured value to its canonical byte form.
func Encode(v Value) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// Decode parses bytes into a structured value. Numbers decode as
// json.Number so Decode(Encode(v)) round-trips losslessly for every
// value Decode produces.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := DecodeInto(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeInto parses bytes into a typed target. Used for the envelope
// records the sandbox returns (handle output, HTTP responses).
func DecodeInto(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// Trailing garbage after the first value is still a malformed payload.
	if dec.More() {
		return fmt.Errorf("%w: trailing data after value", ErrDecode)
	}
	return nil
}

// Equal reports structural equality of two values after canonicalizing
// both through the codec, so 1 and json.Number("1") compare equal.
func Equal(a, b Value) bool {
	ca, err := canonicalize(a)
	if err != nil {
		return false
	}
	cb, err := canonicalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(ca, cb)
}

func canonicalize(v Value) (Value, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
