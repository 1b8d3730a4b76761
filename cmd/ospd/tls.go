// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"

	log "github.com/sirupsen/logrus"
)

// generateSelfSignedIdentity builds a throw-away RSA key/certificate pair;
// PEM credential file I/O is explicitly out of scope: identity here is the
// SHA-256 fingerprint of the leaf, pinned out-of-band by DNS-SD and pairing,
// not a CA-issued chain.
func generateSelfSignedIdentity() (tls.Certificate, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("generating identity key: %w", err)
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("generating identity certificate: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("combining identity certificate: %w", err)
	}
	sum := sha256.Sum256(certDER)
	return cert, sum[:], nil
}

// listenerTLSConfig builds the server-side TLS config for the local QUIC
// endpoint, presenting the daemon's self-signed leaf.
func listenerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"ospcast"},
		MinVersion:   tls.VersionTLS13,
	}
}

// dialerTLSConfig builds a client-side TLS config that skips normal chain
// verification (every peer's leaf is self-signed) and instead pins the exact
// fingerprint DNS-SD resolved for that peer, failing the handshake on any
// mismatch. This is the concrete mechanism behind
// platform.QuicTransport.Dial's expectedFingerprint parameter.
func dialerTLSConfig(expectedFingerprint []byte) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"ospcast"},
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("dialerTLSConfig: peer presented no certificate")
			}
			sum := sha256.Sum256(rawCerts[0])
			if !bytes.Equal(sum[:], expectedFingerprint) {
				log.WithFields(log.Fields{
					"want": fmt.Sprintf("%x", expectedFingerprint),
					"got":  fmt.Sprintf("%x", sum[:]),
				}).Warn("cmd/ospd: peer certificate fingerprint mismatch")
				return fmt.Errorf("dialerTLSConfig: fingerprint mismatch")
			}
			return nil
		},
	}
}
