package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/relaydb/relaydb/internal/wire"
)

// Binary frame layout:
//
//	[4]byte big-endian envelope length
//	JSON envelope
//	repeated { [4]byte big-endian buffer length, raw bytes }
//
// Large byte payloads inside wire values are lifted into the trailing
// buffer section so they cross the channel without a base64 round trip,
// and are rebound as sub-slices of the received frame on the way in.

const frameHeaderLen = 4

func encodeFrame(env any, bufs [][]byte) ([]byte, error) {
	js, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope: %w", err)
	}

	size := frameHeaderLen + len(js)
	for _, b := range bufs {
		size += frameHeaderLen + len(b)
	}

	frame := make([]byte, 0, size)
	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(js)))
	frame = append(frame, hdr[:]...)
	frame = append(frame, js...)
	for _, b := range bufs {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
		frame = append(frame, hdr[:]...)
		frame = append(frame, b...)
	}
	return frame, nil
}

func splitFrame(data []byte) (js []byte, bufs [][]byte, err error) {
	if len(data) < frameHeaderLen {
		return nil, nil, fmt.Errorf("protocol: short frame (%d bytes)", len(data))
	}
	n := binary.BigEndian.Uint32(data[:frameHeaderLen])
	rest := data[frameHeaderLen:]
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("protocol: envelope length %d exceeds frame", n)
	}
	js = rest[:n]
	rest = rest[n:]

	for len(rest) > 0 {
		if len(rest) < frameHeaderLen {
			return nil, nil, fmt.Errorf("protocol: truncated buffer header")
		}
		bn := binary.BigEndian.Uint32(rest[:frameHeaderLen])
		rest = rest[frameHeaderLen:]
		if uint32(len(rest)) < bn {
			return nil, nil, fmt.Errorf("protocol: buffer length %d exceeds frame", bn)
		}
		bufs = append(bufs, rest[:bn])
		rest = rest[bn:]
	}
	return js, bufs, nil
}

func liftStatement(st Statement, table *[][]byte) Statement {
	if len(st.Args) == 0 {
		return st
	}
	args := make([]wire.Value, len(st.Args))
	for i, a := range st.Args {
		args[i] = wire.LiftBuffers(a, table)
	}
	st.Args = args
	return st
}

func bindStatement(st *Statement, table [][]byte) error {
	for i, a := range st.Args {
		bound, err := wire.BindBuffers(a, table)
		if err != nil {
			return err
		}
		st.Args[i] = bound
	}
	return nil
}

// MarshalRequest frames a request for the channel.
func MarshalRequest(r *Request) ([]byte, error) {
	var table [][]byte
	out := *r
	out.Type = TypeRequest
	if r.Statement != nil {
		st := liftStatement(*r.Statement, &table)
		out.Statement = &st
	}
	if len(r.Batch) > 0 {
		batch := make([]Statement, len(r.Batch))
		for i, st := range r.Batch {
			batch[i] = liftStatement(st, &table)
		}
		out.Batch = batch
	}
	return encodeFrame(&out, table)
}

// MarshalResponse frames a response for the channel.
func MarshalResponse(r *Response) ([]byte, error) {
	var table [][]byte
	out := *r
	out.Type = TypeResponse
	if r.Result != nil {
		lifted := wire.LiftBuffers(*r.Result, &table)
		out.Result = &lifted
	}
	return encodeFrame(&out, table)
}

// MarshalNotification frames a table-write notification.
func MarshalNotification(n *Notification) ([]byte, error) {
	out := *n
	out.Type = TypeTablesUpdated
	return encodeFrame(&out, nil)
}

// Unmarshal decodes a frame into *Request, *Response or *Notification.
func Unmarshal(data []byte) (any, error) {
	js, bufs, err := splitFrame(data)
	if err != nil {
		return nil, err
	}

	var head Message
	if err := json.Unmarshal(js, &head); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch head.Type {
	case TypeRequest:
		var req Request
		if err := json.Unmarshal(js, &req); err != nil {
			return nil, fmt.Errorf("protocol: decode request: %w", err)
		}
		if req.Statement != nil {
			if err := bindStatement(req.Statement, bufs); err != nil {
				return nil, err
			}
		}
		for i := range req.Batch {
			if err := bindStatement(&req.Batch[i], bufs); err != nil {
				return nil, err
			}
		}
		return &req, nil

	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(js, &resp); err != nil {
			return nil, fmt.Errorf("protocol: decode response: %w", err)
		}
		if resp.Result != nil {
			bound, err := wire.BindBuffers(*resp.Result, bufs)
			if err != nil {
				return nil, err
			}
			resp.Result = &bound
		}
		return &resp, nil

	case TypeTablesUpdated:
		var n Notification
		if err := json.Unmarshal(js, &n); err != nil {
			return nil, fmt.Errorf("protocol: decode notification: %w", err)
		}
		return &n, nil

	default:
		return nil, fmt.Errorf("protocol: unknown message type %q", head.Type)
	}
}
