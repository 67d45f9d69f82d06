package moecache

import (
	"fmt"
	"unicode/utf8"

	"gopkg.in/vmihailenco/msgpack.v2"
)

// Kind is the content type stored in the low byte of the item flags.
type Kind uint8

const (
	KindGeneric Kind = 0
	KindText    Kind = 18
)

// markerBit is set in the flags of every item written by this client.
const markerBit = 0x100

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindGeneric:
		return "generic"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is what gets stored under a key: either text or serialized bytes.
type Value struct {
	kind Kind
	data []byte
}

func Text(s string) Value {
	return Value{kind: KindText, data: []byte(s)}
}

// Generic wraps bytes already produced by a Serializer.
func Generic(b []byte) Value {
	return Value{kind: KindGeneric, data: b}
}

func (v Value) Kind() Kind {
	return v.kind
}

// Text returns the text and true when v holds text.
func (v Value) Text() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return string(v.data), true
}

// Bytes returns the wire payload.
func (v Value) Bytes() []byte {
	return v.data
}

func (v Value) flags() uint32 {
	return uint32(v.kind) | markerBit
}

// decodeValue checks the marker bit and content type of a stored item.
func decodeValue(flags uint32, data []byte) (Value, error) {
	code := flags ^ markerBit
	if code > 0xFF {
		return Value{}, ErrIncompatibleValue
	}
	switch Kind(code) {
	case KindText:
		if !utf8.Valid(data) {
			return Value{}, fmt.Errorf("%w: invalid utf-8 text", ErrMalformedResponse)
		}
		return Value{kind: KindText, data: data}, nil
	case KindGeneric:
		return Value{kind: KindGeneric, data: data}, nil
	}
	return Value{}, fmt.Errorf("%w: %d", ErrUnsupportedType, code)
}

// Serializer turns arbitrary values into Generic payloads and back.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackSerializer is the default Serializer.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackSerializer) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
