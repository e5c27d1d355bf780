package wire

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, v any) any {
	t.Helper()
	enc, err := Encode(v)
	require.NoError(t, err)

	// Force the value through JSON, the same path a text frame takes.
	raw, err := json.Marshal(enc)
	require.NoError(t, err)
	var back Value
	require.NoError(t, json.Unmarshal(raw, &back))

	dec, err := Decode(back)
	require.NoError(t, err)
	return dec
}

func TestRoundtripScalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want any
	}{
		{"null", nil, nil},
		{"true", true, true},
		{"false", false, false},
		{"zero", 0, int64(0)},
		{"int", 42, int64(42)},
		{"negative", int64(-7), int64(-7)},
		{"big int", int64(1) << 60, int64(1) << 60},
		{"float", 3.25, 3.25},
		{"string", "hello", "hello"},
		{"empty string", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, roundtrip(t, tc.in))
		})
	}
}

func TestRoundtripBytes(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got := roundtrip(t, []byte{})
		assert.Equal(t, []byte{}, got)
	})

	t.Run("256 bytes", func(t *testing.T) {
		buf := make([]byte, 256)
		for i := range buf {
			buf[i] = byte(i)
		}
		got := roundtrip(t, buf)
		assert.True(t, bytes.Equal(buf, got.([]byte)))
	})
}

func TestRoundtripNested(t *testing.T) {
	v := map[string]any{
		"rows": []any{
			map[string]any{"id": int64(1), "name": "a", "blob": []byte{0xde, 0xad}},
			map[string]any{"id": int64(2), "name": "b", "blob": []byte(nil)},
		},
		"meta": map[string]any{
			"count": int64(2),
			"inner": []any{true, nil, 1.5},
		},
	}
	got := roundtrip(t, v)

	m := got.(map[string]any)
	rows := m["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].(map[string]any)["id"])
	assert.Equal(t, []byte{0xde, 0xad}, rows[0].(map[string]any)["blob"])
	meta := m["meta"].(map[string]any)
	assert.Equal(t, []any{true, nil, 1.5}, meta["inner"])
}

func TestEncodeRejectsUnsupported(t *testing.T) {
	_, err := Encode(struct{}{})
	assert.Error(t, err)

	_, err = Encode(map[int]any{1: "x"})
	assert.Error(t, err)
}

func TestLiftAndBindBuffers(t *testing.T) {
	big := make([]byte, 512)
	for i := range big {
		big[i] = byte(i % 251)
	}
	small := []byte{1, 2, 3}

	enc, err := Encode(map[string]any{
		"big":   big,
		"small": small,
		"list":  []any{big, "x"},
	})
	require.NoError(t, err)

	var table [][]byte
	lifted := LiftBuffers(enc, &table)
	require.Len(t, table, 2, "both large payloads move out of line")

	// The original value is untouched.
	origBig, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, big, origBig.(map[string]any)["big"])

	bound, err := BindBuffers(lifted, table)
	require.NoError(t, err)
	dec, err := Decode(bound)
	require.NoError(t, err)

	m := dec.(map[string]any)
	assert.Equal(t, big, m["big"])
	assert.Equal(t, small, m["small"], "small payloads stay inline")
	assert.Equal(t, big, m["list"].([]any)[0])
}

func TestBindBuffersRejectsBadRef(t *testing.T) {
	idx := 5
	_, err := BindBuffers(Value{Kind: KindBuf, Buf: &idx}, nil)
	assert.Error(t, err)
}
