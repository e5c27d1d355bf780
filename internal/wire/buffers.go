package wire

import "fmt"

// Byte payloads at or below this size stay inline even in binary frames;
// the framing overhead isn't worth a table entry.
const inlineLimit = 32

// LiftBuffers returns a copy of v with every byte payload larger than
// inlineLimit moved into table and replaced by a KindBuf reference. The
// input value is left untouched, so a send failure never corrupts the
// caller's data.
func LiftBuffers(v Value, table *[][]byte) Value {
	switch v.Kind {
	case KindBytes:
		if len(v.Bytes) <= inlineLimit {
			return v
		}
		idx := len(*table)
		*table = append(*table, v.Bytes)
		return Value{Kind: KindBuf, Buf: &idx}
	case KindList:
		list := make([]Value, len(v.List))
		for i, el := range v.List {
			list[i] = LiftBuffers(el, table)
		}
		return Value{Kind: KindList, List: list}
	case KindMap:
		m := make(map[string]Value, len(v.Map))
		for k, el := range v.Map {
			m[k] = LiftBuffers(el, table)
		}
		return Value{Kind: KindMap, Map: m}
	default:
		return v
	}
}

// BindBuffers resolves KindBuf references against the frame's buffer table,
// restoring KindBytes values. The returned value shares the table's backing
// memory; no copies are made.
func BindBuffers(v Value, table [][]byte) (Value, error) {
	switch v.Kind {
	case KindBuf:
		if v.Buf == nil || *v.Buf < 0 || *v.Buf >= len(table) {
			return Value{}, fmt.Errorf("wire: buffer reference out of range")
		}
		return Value{Kind: KindBytes, Bytes: table[*v.Buf]}, nil
	case KindList:
		list := make([]Value, len(v.List))
		for i, el := range v.List {
			bv, err := BindBuffers(el, table)
			if err != nil {
				return Value{}, err
			}
			list[i] = bv
		}
		return Value{Kind: KindList, List: list}, nil
	case KindMap:
		m := make(map[string]Value, len(v.Map))
		for k, el := range v.Map {
			bv, err := BindBuffers(el, table)
			if err != nil {
				return Value{}, err
			}
			m[k] = bv
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return v, nil
	}
}
