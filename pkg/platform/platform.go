// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package platform declares the narrow interfaces the core protocol stack
// expects from its host environment: a clock, a single-threaded task
// runner, UDP packet sockets and the QUIC transport primitives. These are
// external collaborators — the core never reaches through a global to get
// one, it takes them as constructor arguments, the same way cla.Manager and
// cla/quicl.Endpoint never construct their own sockets or crypto config
// outside of what's handed to them.
package platform

import (
	"context"
	"net"
	"time"
)

// Clock abstracts wall-clock time so tests can control it. Production code
// uses a thin wrapper over the standard library; tests use a fake that
// advances on demand.
type Clock interface {
	Now() time.Time
}

// AlarmHandle is returned by TaskRunner.PostAlarm; dropping it (calling
// Cancel) disarms the alarm. A callback already in flight when Cancel is
// called may still run — callers must re-check their own state.
type AlarmHandle interface {
	Cancel()
}

// TaskRunner is the single-threaded cooperative event loop that owns all
// mutable state in the core. Every callback the core schedules — timers,
// posted callback-set mutations, deferred cleanup — runs through here, and
// only through here, so that no two core callbacks ever run concurrently.
type TaskRunner interface {
	// PostTask schedules fn to run on the task runner's thread as soon as
	// it's next idle. Used to move callback-set mutations (adding/removing
	// watches, subscriptions) onto the single thread that owns them.
	PostTask(fn func())

	// PostAlarm schedules fn to run at now+delay. The returned handle's
	// Cancel disarms the alarm; if fn is already executing, Cancel has no
	// effect on that in-flight call.
	PostAlarm(delay time.Duration, fn func()) AlarmHandle
}

// PacketConn is the subset of a UDP socket a QUIC listener is bound to
// (QuicTransport.Listen): datagram read/write via net.PacketConn plus
// WriteToUDP. The real implementation is a *net.UDPConn provided by the host
// application; this interface exists so pkg/quicconn can be unit tested
// without opening a real socket.
type PacketConn interface {
	net.PacketConn
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// QuicConnection is the subset of a QUIC connection's surface the
// connection manager and protocol connection layer need. Production code
// adapts a github.com/quic-go/quic-go connection to it (cmd/ospd's
// realQuicConnection); the interface exists so pkg/quicconn and
// pkg/protoconn can be tested against a fake.
type QuicConnection interface {
	OpenStreamSync(ctx context.Context) (QuicStream, error)
	AcceptStream(ctx context.Context) (QuicStream, error)
	CloseWithError(code uint64, msg string) error
	RemoteAddr() net.Addr
	ConnectionState() QuicConnectionState
	Context() context.Context
}

// QuicConnectionState carries the bits the auth/fingerprint-pinning layer
// needs out of a completed QUIC/TLS handshake.
type QuicConnectionState struct {
	// PeerCertificates holds the raw DER of the peer's certificate chain,
	// leaf first — enough to compute the SHA-256 fingerprint used for
	// pairing-side certificate pinning.
	PeerCertificates [][]byte
}

// QuicStream is the subset of a QUIC stream used for CBOR message exchange.
type QuicStream interface {
	StreamID() int64
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	CancelRead(code uint64)
	CancelWrite(code uint64)
}

// QuicListener accepts inbound QUIC connections on a bound UDP endpoint.
type QuicListener interface {
	Accept(ctx context.Context) (QuicConnection, error)
	Close() error
	Addr() net.Addr
}

// QuicTransport is the factory the connection manager uses to create
// listeners and dial peers. Production code backs it with quic-go; the
// transport's internal crypto and congestion control stay out of this
// interface, which only exposes connection/stream/listener creation.
type QuicTransport interface {
	Listen(pconn PacketConn, tlsFingerprint []byte) (QuicListener, error)
	Dial(ctx context.Context, addr net.Addr, expectedFingerprint []byte) (QuicConnection, error)
}
