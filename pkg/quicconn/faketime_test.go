// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicconn

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/openscreen-go/ospcast/pkg/platform"
)

// fakeRunner mimics a single-threaded task runner but lets test goroutines
// (standing in for the dial/accept goroutines a real Manager spawns) post
// tasks concurrently; Drain must be called from the test goroutine to run
// them, so mutation still only ever happens on one logical thread.
type fakeRunner struct {
	mu     sync.Mutex
	tasks  []func()
	clock  time.Time
	alarms []*fakeAlarm
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{clock: time.Unix(0, 0)}
}

func (r *fakeRunner) PostTask(fn func()) {
	r.mu.Lock()
	r.tasks = append(r.tasks, fn)
	r.mu.Unlock()
}

type fakeAlarm struct {
	at        time.Time
	fn        func()
	cancelled bool
	fired     bool
}

func (a *fakeAlarm) Cancel() { a.cancelled = true }

func (r *fakeRunner) PostAlarm(delay time.Duration, fn func()) platform.AlarmHandle {
	r.mu.Lock()
	a := &fakeAlarm{at: r.clock.Add(delay), fn: fn}
	r.alarms = append(r.alarms, a)
	r.mu.Unlock()
	return a
}

// Drain runs every task currently queued, in FIFO order, then returns. It
// must be called from the test's own goroutine so Manager state is only
// ever touched from one place at a time, matching the single-threaded
// contract the real TaskRunner enforces.
func (r *fakeRunner) Drain() {
	for {
		r.mu.Lock()
		if len(r.tasks) == 0 {
			r.mu.Unlock()
			return
		}
		fn := r.tasks[0]
		r.tasks = r.tasks[1:]
		r.mu.Unlock()
		fn()
	}
}

// Advance moves the virtual clock forward and fires every alarm now due,
// one at a time and re-scanning after each so an alarm re-armed by its own
// callback (as the cleanup alarm always is) is picked up in the same call.
func (r *fakeRunner) Advance(d time.Duration) {
	r.mu.Lock()
	r.clock = r.clock.Add(d)
	now := r.clock
	r.mu.Unlock()

	for {
		var due *fakeAlarm
		r.mu.Lock()
		for _, a := range r.alarms {
			if !a.cancelled && !a.fired && !a.at.After(now) {
				due = a
				break
			}
		}
		if due != nil {
			due.fired = true
		}
		r.mu.Unlock()
		if due == nil {
			return
		}
		due.fn()
	}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

type fakeStream struct{}

func (fakeStream) StreamID() int64             { return 0 }
func (fakeStream) Read(p []byte) (int, error)  { return 0, nil }
func (fakeStream) Write(p []byte) (int, error) { return len(p), nil }
func (fakeStream) Close() error                { return nil }
func (fakeStream) CancelRead(code uint64)      {}
func (fakeStream) CancelWrite(code uint64)     {}

type fakeConn struct {
	remote      net.Addr
	certs       [][]byte
	closeErr    error
	closeCode   uint64
	closeMsg    string
	closed      bool
	ctx         context.Context
}

func newFakeConn(remote string, leafCert []byte) *fakeConn {
	return &fakeConn{remote: fakeAddr(remote), certs: [][]byte{leafCert}, ctx: context.Background()}
}

func (c *fakeConn) OpenStreamSync(ctx context.Context) (platform.QuicStream, error) { return fakeStream{}, nil }
func (c *fakeConn) AcceptStream(ctx context.Context) (platform.QuicStream, error)   { return fakeStream{}, nil }
func (c *fakeConn) CloseWithError(code uint64, msg string) error {
	c.closed = true
	c.closeCode = code
	c.closeMsg = msg
	return c.closeErr
}
func (c *fakeConn) RemoteAddr() net.Addr { return c.remote }
func (c *fakeConn) ConnectionState() platform.QuicConnectionState {
	return platform.QuicConnectionState{PeerCertificates: c.certs}
}
func (c *fakeConn) Context() context.Context { return c.ctx }

// fakeListener hands out connections pushed onto its channel by the test,
// standing in for a real accept loop over a bound UDP socket.
type fakeListener struct {
	addr   net.Addr
	pushed chan platform.QuicConnection
	closed chan struct{}
	once   sync.Once
}

func newFakeListener(addr string) *fakeListener {
	return &fakeListener{addr: fakeAddr(addr), pushed: make(chan platform.QuicConnection, 8), closed: make(chan struct{})}
}

func (l *fakeListener) Accept(ctx context.Context) (platform.QuicConnection, error) {
	select {
	case c := <-l.pushed:
		return c, nil
	case <-l.closed:
		return nil, context.Canceled
	}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeListener) Addr() net.Addr { return l.addr }

// fakeTransport backs platform.QuicTransport for tests: Listen fails for
// any endpoint named "bad", otherwise returns a fakeListener; Dial
// returns dialErr if set, otherwise dialResult, without checking the
// expected fingerprint.
type fakeTransport struct {
	mu         sync.Mutex
	listeners  map[string]*fakeListener
	dialErr    error
	dialResult *fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{listeners: make(map[string]*fakeListener)}
}

func (t *fakeTransport) Listen(pconn platform.PacketConn, tlsFingerprint []byte) (platform.QuicListener, error) {
	fp, ok := pconn.(fakePacketConn)
	if !ok {
		return nil, context.Canceled
	}
	if string(fp) == "bad" {
		return nil, errBindFailed
	}
	l := newFakeListener(string(fp))
	t.mu.Lock()
	t.listeners[string(fp)] = l
	t.mu.Unlock()
	return l, nil
}

func (t *fakeTransport) Dial(ctx context.Context, addr net.Addr, expectedFingerprint []byte) (platform.QuicConnection, error) {
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	return t.dialResult, nil
}

type fakePacketConn string

func (fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) { return 0, nil, nil }
func (fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) { return len(p), nil }
func (fakePacketConn) Close() error                              { return nil }
func (fakePacketConn) LocalAddr() net.Addr                        { return fakeAddr("local") }
func (fakePacketConn) SetDeadline(t time.Time) error              { return nil }
func (fakePacketConn) SetReadDeadline(t time.Time) error          { return nil }
func (fakePacketConn) SetWriteDeadline(t time.Time) error         { return nil }
func (c fakePacketConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) { return len(b), nil }

var errBindFailed = &bindError{}

type bindError struct{}

func (*bindError) Error() string { return "bind failed" }
