// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicconn

import (
	"net"

	"github.com/openscreen-go/ospcast/pkg/platform"
)

// PeerAddress is one dialable endpoint for a known peer.
type PeerAddress struct {
	Addr net.Addr
	V6   bool
}

// PeerRecord is what the manager needs to know about a remote instance
// before it can dial it: the fingerprint (SHA-256 of the leaf certificate
// DER, from the DNS-SD TXT record's "fp" key) that pins its identity, and
// its reachable addresses.
type PeerRecord struct {
	InstanceName string
	Fingerprint  []byte
	Addresses    []PeerAddress
}

// connState is a Connection's own lifecycle within the manager's tables.
type connState int

const (
	connPending connState = iota
	connEstablished
	connClosing
)

// Connection is one established QUIC session, keyed by its manager-assigned
// instance id. It is exclusively owned by the Manager that created it;
// callers hold only a non-owning pointer.
type Connection struct {
	manager      *Manager
	instanceID   uint64
	instanceName string
	fingerprint  []byte
	quicConn     platform.QuicConnection

	state connState

	// closeQueued marks this connection for destruction on the manager's
	// next cleanup tick, per the "always defer one tick" resource policy.
	closeQueued bool
}

// InstanceID returns the connection's manager-assigned identity.
func (c *Connection) InstanceID() uint64 { return c.instanceID }

// InstanceName returns the peer's advertised instance name, when known.
func (c *Connection) InstanceName() string { return c.instanceName }

// Fingerprint returns the pinned SHA-256 fingerprint of the peer's leaf
// certificate.
func (c *Connection) Fingerprint() []byte { return c.fingerprint }

// OpenStream opens a new bidirectional QUIC stream on this connection, for
// pkg/protoconn to wrap.
func (c *Connection) OpenStream() (platform.QuicStream, error) {
	return c.quicConn.OpenStreamSync(c.quicConn.Context())
}

// AcceptStream waits for the peer to open a new bidirectional stream.
func (c *Connection) AcceptStream() (platform.QuicStream, error) {
	return c.quicConn.AcceptStream(c.quicConn.Context())
}

// Close marks the connection closed and queues it for destruction on the
// manager's next cleanup tick rather than dropping it immediately, since
// the QUIC transport may still hold its own reference.
func (c *Connection) Close() error {
	if c.state == connClosing {
		return nil
	}
	c.state = connClosing
	err := c.quicConn.CloseWithError(0, "closed by local")
	c.manager.queueClose(c)
	return err
}
