// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements the CBOR message envelope used across the core
// protocol stack: one leading type-tag byte, then a length-prefixed CBOR
// body. The length prefix is framed the same way pkg/cla/quicl/endpoint.go
// frames a marshaled endpoint ID before writing it to a QUIC stream
// (cboring.WriteByteStringLen followed by the payload); the body itself is
// marshaled with fxamacker/cbor/v2 using the "cbor:\"N,keyasint\"" struct-tag
// convention.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/fxamacker/cbor/v2"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
)

// ErrParserEOF signals that b does not yet contain a complete message; the
// caller must read more bytes off the stream before decoding again.
var ErrParserEOF = errors.New("wire: incomplete message")

// encMode preserves Go struct field order in the CBOR map instead of
// canonical-sorting keys, so map entries are always emitted in schema order.
var encMode = func() cbor.EncMode {
	m, err := cbor.EncOptions{Sort: cbor.SortNone}.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode writes tag followed by the CBOR encoding of v into gb, growing gb
// by exactly the reported shortfall and retrying once if it doesn't fit.
func Encode(tag byte, v any, gb *GrowableBuffer) error {
	body, err := encMode.Marshal(v)
	if err != nil {
		return ospcast.New(ospcast.ErrCborParsing, "wire.Encode: marshal body", err)
	}

	var frame bytes.Buffer
	frame.WriteByte(tag)
	if err := cboring.WriteByteStringLen(uint64(len(body)), &frame); err != nil {
		return ospcast.New(ospcast.ErrCborParsing, "wire.Encode: write length prefix", err)
	}
	frame.Write(body)

	if _, err := gb.Write(frame.Bytes()); err != nil {
		var short *ErrShortBuffer
		if errors.As(err, &short) {
			gb.Grow(short.Needed)
			if _, err := gb.Write(frame.Bytes()); err != nil {
				return ospcast.New(ospcast.ErrCborParsing, "wire.Encode: retry after grow", err)
			}
			return nil
		}
		return ospcast.New(ospcast.ErrCborParsing, "wire.Encode: write frame", err)
	}
	return nil
}

// Decode reads one tag+body message from the front of b. It returns
// ErrParserEOF if b doesn't yet hold a complete message (the caller should
// accumulate more bytes and retry), or a wrapped ospcast.ErrCborParsing on
// malformed input. On success, consumed is the number of bytes of b the
// message occupied.
func Decode(b []byte) (tag byte, body []byte, consumed int, err error) {
	if len(b) < 1 {
		return 0, nil, 0, ErrParserEOF
	}
	tag = b[0]

	body, n, err := DecodeBody(b[1:])
	if err != nil {
		return 0, nil, 0, err
	}
	return tag, body, 1 + n, nil
}

// DecodeBody parses a length-prefixed CBOR body from b, where b begins
// immediately after a message's type tag. This is the shape
// pkg/demux.Watcher receives its body argument in, having already
// consumed the tag byte itself; a Watcher that owns a wire-framed message
// type calls this directly instead of re-deriving Decode's tag handling.
// consumed counts only the length prefix and content, not the tag.
func DecodeBody(b []byte) (body []byte, consumed int, err error) {
	r := bytes.NewReader(b)
	length, lerr := cboring.ReadByteStringLen(r)
	if lerr != nil {
		if errors.Is(lerr, io.EOF) || errors.Is(lerr, io.ErrUnexpectedEOF) {
			return nil, 0, ErrParserEOF
		}
		return nil, 0, ospcast.New(ospcast.ErrCborParsing, "wire.DecodeBody: length prefix", lerr)
	}
	headerLen := len(b) - r.Len()

	end := headerLen + int(length)
	if end > len(b) {
		return nil, 0, ErrParserEOF
	}
	return b[headerLen:end], end, nil
}

// DecodeValue unmarshals a message body (as returned by Decode) into v.
func DecodeValue(body []byte, v any) error {
	if err := cbor.Unmarshal(body, v); err != nil {
		return ospcast.New(ospcast.ErrCborParsing, "wire.DecodeValue", err)
	}
	return nil
}

// EncodeValue is a convenience wrapper for callers that already own a
// []byte destination rather than a GrowableBuffer (e.g. tests).
func EncodeValue(tag byte, v any) ([]byte, error) {
	gb := NewGrowableBuffer(64)
	if err := Encode(tag, v, gb); err != nil {
		return nil, err
	}
	out := make([]byte, len(gb.Bytes()))
	copy(out, gb.Bytes())
	return out, nil
}

// FrameString is a debugging helper for logging a message's type tag, which
// is always a small integer in the range 0..254.
func FrameString(tag byte) string {
	return fmt.Sprintf("tag=0x%02x", tag)
}
