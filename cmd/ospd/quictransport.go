// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/openscreen-go/ospcast/pkg/platform"
)

// quicConfig sets the keepalive/idle-timeout defaults for every QUIC
// connection this daemon dials or accepts.
func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:    1 * time.Second,
		MaxIdleTimeout:     10 * time.Second,
		EnableDatagrams:    false,
		MaxIncomingStreams: 256,
	}
}

// realQuicTransport implements platform.QuicTransport over quic-go.
type realQuicTransport struct {
	serverTLS *tls.Config
}

func newRealQuicTransport(serverTLS *tls.Config) *realQuicTransport {
	return &realQuicTransport{serverTLS: serverTLS}
}

func (t *realQuicTransport) Listen(pconn platform.PacketConn, _ []byte) (platform.QuicListener, error) {
	l, err := quic.Listen(pconn, t.serverTLS, quicConfig())
	if err != nil {
		return nil, err
	}
	return &realQuicListener{l: l}, nil
}

func (t *realQuicTransport) Dial(ctx context.Context, addr net.Addr, expectedFingerprint []byte) (platform.QuicConnection, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return nil, err
		}
		udpAddr = resolved
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}

	qc, err := quic.Dial(ctx, conn, udpAddr, dialerTLSConfig(expectedFingerprint), quicConfig())
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &realQuicConnection{conn: qc}, nil
}

type realQuicListener struct {
	l *quic.Listener
}

func (l *realQuicListener) Accept(ctx context.Context) (platform.QuicConnection, error) {
	qc, err := l.l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &realQuicConnection{conn: qc}, nil
}

func (l *realQuicListener) Close() error   { return l.l.Close() }
func (l *realQuicListener) Addr() net.Addr { return l.l.Addr() }

type realQuicConnection struct {
	conn quic.Connection
}

func (c *realQuicConnection) OpenStreamSync(ctx context.Context) (platform.QuicStream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &realQuicStream{s: s}, nil
}

func (c *realQuicConnection) AcceptStream(ctx context.Context) (platform.QuicStream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &realQuicStream{s: s}, nil
}

func (c *realQuicConnection) CloseWithError(code uint64, msg string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), msg)
}

func (c *realQuicConnection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *realQuicConnection) ConnectionState() platform.QuicConnectionState {
	state := c.conn.ConnectionState()
	var der [][]byte
	if state.TLS.PeerCertificates != nil {
		for _, cert := range state.TLS.PeerCertificates {
			der = append(der, cert.Raw)
		}
	}
	return platform.QuicConnectionState{PeerCertificates: der}
}

func (c *realQuicConnection) Context() context.Context { return c.conn.Context() }

type realQuicStream struct {
	s quic.Stream
}

func (s *realQuicStream) StreamID() int64            { return int64(s.s.StreamID()) }
func (s *realQuicStream) Read(p []byte) (int, error)  { return s.s.Read(p) }
func (s *realQuicStream) Write(p []byte) (int, error) { return s.s.Write(p) }
func (s *realQuicStream) Close() error                { return s.s.Close() }
func (s *realQuicStream) CancelRead(code uint64)       { s.s.CancelRead(quic.StreamErrorCode(code)) }
func (s *realQuicStream) CancelWrite(code uint64)      { s.s.CancelWrite(quic.StreamErrorCode(code)) }
