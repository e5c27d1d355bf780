package wire

import (
	"fmt"
	"math"
)

// Kind tags the variant carried by a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindBytes  Kind = "bytes"
	KindBuf    Kind = "buf" // out-of-line buffer reference, bound at frame level
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Value is the transport-safe representation of a database value.
//
// Integers are serialized as strings so they survive JSON transport without
// float64 truncation. Byte payloads travel either inline (base64, text
// frames) or as an index into the frame's buffer table (binary frames).
type Value struct {
	Kind  Kind             `json:"k"`
	Bool  bool             `json:"b,omitempty"`
	Int   int64            `json:"i,omitempty,string"`
	Float float64          `json:"f,omitempty"`
	Str   string           `json:"s,omitempty"`
	Bytes []byte           `json:"y,omitempty"`
	Buf   *int             `json:"r,omitempty"`
	List  []Value          `json:"l,omitempty"`
	Map   map[string]Value `json:"m,omitempty"`
}

// Encode converts a Go value into its wire representation. The supported
// domain is nil, bool, integers, floats, string, []byte, []any and
// map[string]any, recursively. Encode never mutates its input; byte slices
// are referenced, not copied, so callers must not modify them while the
// encoded value is in flight.
func Encode(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	case int:
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case int8:
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case int16:
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case int32:
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case int64:
		return Value{Kind: KindInt, Int: t}, nil
	case uint8:
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case uint16:
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case uint32:
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("wire: uint64 %d overflows int64", t)
		}
		return Value{Kind: KindInt, Int: int64(t)}, nil
	case float32:
		return Value{Kind: KindFloat, Float: float64(t)}, nil
	case float64:
		return Value{Kind: KindFloat, Float: t}, nil
	case string:
		return Value{Kind: KindString, Str: t}, nil
	case []byte:
		return Value{Kind: KindBytes, Bytes: t}, nil
	case []any:
		list := make([]Value, len(t))
		for i, el := range t {
			ev, err := Encode(el)
			if err != nil {
				return Value{}, err
			}
			list[i] = ev
		}
		return Value{Kind: KindList, List: list}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, el := range t {
			ev, err := Encode(el)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return Value{}, fmt.Errorf("wire: unsupported type %T", v)
	}
}

// Decode converts a wire Value back into its Go representation. Decoded
// byte slices may alias the frame they were received in; callers that
// retain them past the frame's lifetime must copy.
func Decode(v Value) (any, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Bool, nil
	case KindInt:
		return v.Int, nil
	case KindFloat:
		return v.Float, nil
	case KindString:
		return v.Str, nil
	case KindBytes:
		if v.Bytes == nil {
			return []byte{}, nil
		}
		return v.Bytes, nil
	case KindBuf:
		return nil, fmt.Errorf("wire: unbound buffer reference")
	case KindList:
		list := make([]any, len(v.List))
		for i, el := range v.List {
			dv, err := Decode(el)
			if err != nil {
				return nil, err
			}
			list[i] = dv
		}
		return list, nil
	case KindMap:
		m := make(map[string]any, len(v.Map))
		for k, el := range v.Map {
			dv, err := Decode(el)
			if err != nil {
				return nil, err
			}
			m[k] = dv
		}
		return m, nil
	default:
		return nil, fmt.Errorf("wire: unknown kind %q", v.Kind)
	}
}

// EncodeArgs encodes a slice of bound statement arguments.
func EncodeArgs(args []any) ([]Value, error) {
	out := make([]Value, len(args))
	for i, a := range args {
		v, err := Encode(a)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// DecodeArgs decodes a slice of bound statement arguments.
func DecodeArgs(vals []Value) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		dv, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = dv
	}
	return out, nil
}
