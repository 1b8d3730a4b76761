// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"reflect"
	"testing"
)

type testMessage struct {
	A uint64 `cbor:"0,keyasint"`
	B string `cbor:"1,keyasint"`
	C []byte `cbor:"2,keyasint,omitempty"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := testMessage{A: 42, B: "hello", C: []byte{1, 2, 3}}

	gb := NewGrowableBuffer(4) // deliberately too small to force a grow+retry
	if err := Encode(7, in, gb); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tag, body, consumed, err := Decode(gb.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tag != 7 {
		t.Fatalf("tag = %d, want 7", tag)
	}
	if consumed != len(gb.Bytes()) {
		t.Fatalf("consumed = %d, want %d", consumed, len(gb.Bytes()))
	}

	var out testMessage
	if err := DecodeValue(body, &out); err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
	}
}

func TestDecodeIncompleteReturnsEOF(t *testing.T) {
	full, err := EncodeValue(3, testMessage{A: 1, B: "x"})
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}

	for n := 0; n < len(full); n++ {
		if _, _, _, err := Decode(full[:n]); err != ErrParserEOF {
			t.Fatalf("Decode(prefix of %d bytes) = %v, want ErrParserEOF", n, err)
		}
	}

	if _, _, consumed, err := Decode(full); err != nil || consumed != len(full) {
		t.Fatalf("Decode(full) = consumed=%d err=%v, want consumed=%d err=nil", consumed, err, len(full))
	}
}

func TestDecodeBodyMatchesDecodeMinusTheTagByte(t *testing.T) {
	full, err := EncodeValue(9, testMessage{A: 5, B: "y"})
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}

	wantTag, wantBody, wantConsumed, err := Decode(full)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	gotBody, gotConsumed, err := DecodeBody(full[1:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if wantTag != 9 {
		t.Fatalf("tag = %d, want 9", wantTag)
	}
	if string(gotBody) != string(wantBody) {
		t.Fatalf("DecodeBody body = %v, want %v", gotBody, wantBody)
	}
	if gotConsumed != wantConsumed-1 {
		t.Fatalf("DecodeBody consumed = %d, want %d", gotConsumed, wantConsumed-1)
	}
}

func TestDecodeMalformedLengthPrefix(t *testing.T) {
	// A tag byte followed by a byte-string major-type header claiming a
	// length that overruns a truncated buffer, but with enough bytes
	// present to parse the header itself, should still be EOF rather than
	// a hard parse error: the message just isn't complete yet.
	buf := []byte{0x05, 0x59, 0xff, 0xff} // byte string, 2-byte length = 65535, no body
	if _, _, _, err := Decode(buf); err != ErrParserEOF {
		t.Fatalf("Decode = %v, want ErrParserEOF", err)
	}
}
