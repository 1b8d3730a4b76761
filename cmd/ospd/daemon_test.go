// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"testing"

	"github.com/openscreen-go/ospcast/pkg/dnssd"
)

func makeInstanceWithTXT(t *testing.T, kv map[string]string) dnssd.ServiceInstance {
	t.Helper()
	inst := dnssd.ServiceInstance{}
	for k, v := range kv {
		inst.TXT = append(inst.TXT, dnssd.TXTEntry{Key: k, Value: v, HasValue: true})
	}
	return inst
}

func TestHexFingerprintRoundTripsThroughHexDecodeFingerprint(t *testing.T) {
	fp := []byte{0x00, 0x01, 0xab, 0xff, 0x10}
	encoded := hexFingerprint(fp)
	if encoded != "0001abff10" {
		t.Fatalf("hexFingerprint = %q", encoded)
	}
	decoded, err := hexDecodeFingerprint(encoded)
	if err != nil {
		t.Fatalf("hexDecodeFingerprint: %v", err)
	}
	if len(decoded) != len(fp) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(fp))
	}
	for i := range fp {
		if decoded[i] != fp[i] {
			t.Fatalf("decoded[%d] = %#x, want %#x", i, decoded[i], fp[i])
		}
	}
}

func TestHexDecodeFingerprintAcceptsUpperAndLowerCase(t *testing.T) {
	decoded, err := hexDecodeFingerprint("AaBbCc")
	if err != nil {
		t.Fatalf("hexDecodeFingerprint: %v", err)
	}
	want := []byte{0xaa, 0xbb, 0xcc}
	for i := range want {
		if decoded[i] != want[i] {
			t.Fatalf("decoded = %x, want %x", decoded, want)
		}
	}
}

func TestHexDecodeFingerprintRejectsOddLength(t *testing.T) {
	if _, err := hexDecodeFingerprint("abc"); err == nil {
		t.Fatal("expected an error for an odd-length hex string")
	}
}

func TestHexDecodeFingerprintRejectsNonHexCharacters(t *testing.T) {
	if _, err := hexDecodeFingerprint("zz00"); err == nil {
		t.Fatal("expected an error for non-hex characters")
	}
}

func TestGeneratePINIsAlwaysFourDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		pin := generatePIN()
		if len(pin) != 4 {
			t.Fatalf("generatePIN() = %q, want 4 digits", pin)
		}
		for _, c := range pin {
			if c < '0' || c > '9' {
				t.Fatalf("generatePIN() = %q, contains non-digit", pin)
			}
		}
	}
}

func TestPairingPasswordIsIdempotentPerFingerprint(t *testing.T) {
	d := &daemon{pending: make(map[string]string)}

	first := d.pairingPassword("aabbcc")
	second := d.pairingPassword("aabbcc")
	if first != second {
		t.Fatalf("pairingPassword returned %q then %q for the same fingerprint", first, second)
	}

	other := d.pairingPassword("ddeeff")
	if other == first {
		// Astronomically unlikely to collide by chance across 10000
		// possibilities, but not impossible; a real collision here would
		// still be harmless since the two fingerprints are independent.
		t.Log("pairingPassword happened to generate the same PIN for two different fingerprints")
	}
}

func TestTxtValueFindsMatchingKey(t *testing.T) {
	instance := makeInstanceWithTXT(t, map[string]string{"fp": "aabb", "model": "ospcast-ref"})

	v, ok := txtValue(instance, "fp")
	if !ok || v != "aabb" {
		t.Fatalf("txtValue(fp) = (%q, %v)", v, ok)
	}

	if _, ok := txtValue(instance, "missing"); ok {
		t.Fatal("txtValue(missing) reported found")
	}
}
