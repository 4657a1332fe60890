// Package rpc implements the Service Runtime (spec.md §4.A): named,
// sharded RPC endpoints exchanging length-prefixed JSON frames over TCP,
// a method registry with callable/binary/threaded flags, a cooperative
// timer wheel, and reconnect-aware peer management.
package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
)

// idAlphabet is the alphanumeric set __id is drawn from, per spec.md §4.A.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newID returns 16 random alphanumeric characters, used as a request's __id.
func newID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}

// envelope is the JSON object carried by every frame. A request sets
// Method+Data; a response sets Data and optionally Error. This mirrors
// spec.md §4.A's __id/__method/__data/__error wire shape.
type envelope struct {
	ID     string          `json:"__id"`
	Method string          `json:"__method,omitempty"`
	Data   json.RawMessage `json:"__data,omitempty"`
	Error  *WireError      `json:"__error,omitempty"`
}

// WireError is the error object carried in a response's __error field.
type WireError struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// frame is a decoded wire message: the JSON envelope plus an optional
// binary blob. Per spec.md §9(c) this reimplementation uses a second
// length prefix for the binary blob instead of the source's \n-escaping
// scheme (which could still produce its own \r\n terminator).
type frame struct {
	Envelope envelope
	Binary   []byte
}

// writeFrame writes [4-byte BE JSON length][JSON][4-byte BE binary length][binary].
func writeFrame(w io.Writer, f frame) error {
	js, err := json.Marshal(f.Envelope)
	if err != nil {
		return fmt.Errorf("op=rpc.frame.encode: %w", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(js)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("op=rpc.frame.write_len: %w", err)
	}
	if _, err := w.Write(js); err != nil {
		return fmt.Errorf("op=rpc.frame.write_json: %w", err)
	}
	binary.BigEndian.PutUint32(hdr[:], uint32(len(f.Binary)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("op=rpc.frame.write_binlen: %w", err)
	}
	if len(f.Binary) > 0 {
		if _, err := w.Write(f.Binary); err != nil {
			return fmt.Errorf("op=rpc.frame.write_bin: %w", err)
		}
	}
	return nil
}

// maxFrameBytes bounds a single frame to guard against a malformed length
// prefix exhausting memory; resynchronization after a dropped frame is
// the caller's responsibility (it tears down and reopens the connection).
const maxFrameBytes = 64 << 20 // 64 MiB

func readFrame(r io.Reader) (frame, error) {
	var f frame
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return f, err
	}
	jsonLen := binary.BigEndian.Uint32(hdr[:])
	if jsonLen > maxFrameBytes {
		return f, fmt.Errorf("op=rpc.frame.read: %w: json length %d exceeds max", ErrMalformedFrame, jsonLen)
	}
	js := make([]byte, jsonLen)
	if _, err := io.ReadFull(r, js); err != nil {
		return f, fmt.Errorf("op=rpc.frame.read_json: %w", err)
	}
	if err := json.Unmarshal(js, &f.Envelope); err != nil {
		return f, fmt.Errorf("op=rpc.frame.read: %w: %v", ErrMalformedFrame, err)
	}
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return f, fmt.Errorf("op=rpc.frame.read_binlen: %w", err)
	}
	binLen := binary.BigEndian.Uint32(hdr[:])
	if binLen > maxFrameBytes {
		return f, fmt.Errorf("op=rpc.frame.read: %w: binary length %d exceeds max", ErrMalformedFrame, binLen)
	}
	if binLen > 0 {
		f.Binary = make([]byte, binLen)
		if _, err := io.ReadFull(r, f.Binary); err != nil {
			return f, fmt.Errorf("op=rpc.frame.read_bin: %w", err)
		}
	}
	return f, nil
}
