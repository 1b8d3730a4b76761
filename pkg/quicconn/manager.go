// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicconn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/platform"
)

const cleanupInterval = 500 * time.Millisecond

// ConnectCallback receives the outcome of a Connect call. Every caller
// coalesced onto the same in-flight dial receives the same (conn, err) pair.
type ConnectCallback func(conn *Connection, err error)

// ServerDelegate receives lifecycle notifications for server-role
// connections; a nil field is simply not invoked.
type ServerDelegate struct {
	OnConnectionEstablished func(*Connection)
	OnConnectionFailed      func(remoteAddr string, err error)
	OnConnectionClosed      func(*Connection)
}

// Manager owns every QUIC listener and session for one host: the set of
// bound server endpoints, the peers known well enough to dial, the pending
// and established connections keyed by instance id, and the periodic
// cleanup that reclaims closed connections one tick after they close.
type Manager struct {
	transport platform.QuicTransport
	runner    platform.TaskRunner

	state     State
	listeners []platform.QuicListener
	delegate  ServerDelegate

	peers              map[uint64]*PeerRecord
	peersByFingerprint map[string]uint64
	nextInstanceID     uint64

	connections map[uint64]*Connection
	dialing     map[uint64]bool
	waiters     map[uint64][]connectWaiter

	closedQueue  []*Connection
	cleanupAlarm platform.AlarmHandle
}

// NewManager constructs an idle Manager. Call SetServerDelegate to begin
// accepting inbound connections; RegisterPeer and Connect work regardless
// of whether a server role is active.
func NewManager(transport platform.QuicTransport, runner platform.TaskRunner) *Manager {
	return &Manager{
		transport:          transport,
		runner:             runner,
		peers:              make(map[uint64]*PeerRecord),
		peersByFingerprint: make(map[string]uint64),
		connections:        make(map[uint64]*Connection),
		dialing:            make(map[uint64]bool),
		waiters:            make(map[uint64][]connectWaiter),
		nextInstanceID:     1,
	}
}

// State reports the manager's own lifecycle state.
func (m *Manager) State() State { return m.state }

// SetServerDelegate binds one UDP-backed QUIC listener per endpoint and
// begins accepting inbound connections. A bind failure on one endpoint is
// collected and reported but does not prevent the others from starting.
func (m *Manager) SetServerDelegate(endpoints []platform.PacketConn, tlsFingerprint []byte, delegate ServerDelegate) *multierror.Error {
	m.delegate = delegate
	m.state = Starting

	var result *multierror.Error
	for _, ep := range endpoints {
		listener, err := m.transport.Listen(ep, tlsFingerprint)
		if err != nil {
			result = multierror.Append(result, ospcast.New(ospcast.ErrSocketFailure, "quicconn.Manager.SetServerDelegate", err))
			continue
		}
		m.listeners = append(m.listeners, listener)
		go m.acceptLoop(listener)
	}

	m.state = Running
	m.armCleanup()
	return result
}

func (m *Manager) acceptLoop(l platform.QuicListener) {
	for {
		conn, err := l.Accept(context.Background())
		if err != nil {
			return
		}
		m.runner.PostTask(func() { m.handleAccepted(conn) })
	}
}

func (m *Manager) handleAccepted(qc platform.QuicConnection) {
	if m.state != Running {
		_ = qc.CloseWithError(0, "server suspended")
		return
	}

	fp := leafFingerprint(qc.ConnectionState())
	id, known := m.peersByFingerprint[fingerprintKey(fp)]
	if !known {
		_ = qc.CloseWithError(0, "unrecognized peer")
		if m.delegate.OnConnectionFailed != nil {
			m.delegate.OnConnectionFailed(qc.RemoteAddr().String(), ospcast.New(ospcast.ErrFingerprintMismatch, "quicconn.Manager: no registered peer for this fingerprint", nil))
		}
		return
	}
	if _, exists := m.connections[id]; exists {
		_ = qc.CloseWithError(0, "duplicate connection")
		return
	}

	conn := &Connection{
		manager:      m,
		instanceID:   id,
		instanceName: m.peers[id].InstanceName,
		fingerprint:  fp,
		quicConn:     qc,
		state:        connEstablished,
	}
	m.connections[id] = conn
	if m.delegate.OnConnectionEstablished != nil {
		m.delegate.OnConnectionEstablished(conn)
	}
}

// RegisterPeer reserves an instance id for a remote instance the caller has
// resolved via DNS-SD (its fingerprint from TXT key "fp", its addresses
// from the SRV target's A/AAAA records), returning the id future Connect
// calls should use.
func (m *Manager) RegisterPeer(rec PeerRecord) uint64 {
	id := m.nextInstanceID
	m.nextInstanceID++
	stored := rec
	m.peers[id] = &stored
	m.peersByFingerprint[fingerprintKey(rec.Fingerprint)] = id
	return id
}

// Connect dials a previously registered peer, or, if already connected or
// already being dialed, coalesces onto the existing outcome. The returned
// cancel func drops this particular waiter without affecting others
// coalesced onto the same dial.
func (m *Manager) Connect(instanceID uint64, cb ConnectCallback) (cancel func()) {
	if m.state != Running {
		m.runner.PostTask(func() { cb(nil, ospcast.New(ospcast.ErrOperationInvalid, "quicconn.Manager.Connect: not running", nil)) })
		return func() {}
	}

	if conn, ok := m.connections[instanceID]; ok {
		m.runner.PostTask(func() { cb(conn, nil) })
		return func() {}
	}

	token := &connectToken{}
	m.waiters[instanceID] = append(m.waiters[instanceID], connectWaiter{token: token, cb: cb})
	if !m.dialing[instanceID] {
		m.dialing[instanceID] = true
		m.startDial(instanceID)
	}

	cancelled := false
	return func() {
		if cancelled {
			return
		}
		cancelled = true
		m.runner.PostTask(func() {
			list := m.waiters[instanceID]
			for i, w := range list {
				if w.token == token {
					m.waiters[instanceID] = append(list[:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// connectToken gives each Connect call's waiter entry an identity its
// cancel closure can find again, since func values aren't comparable.
type connectToken struct{}

type connectWaiter struct {
	token *connectToken
	cb    ConnectCallback
}

func (m *Manager) startDial(instanceID uint64) {
	peer, ok := m.peers[instanceID]
	if !ok || len(peer.Addresses) == 0 {
		m.finishDial(instanceID, nil, ospcast.New(ospcast.ErrParameterInvalid, "quicconn.Manager.Connect: unknown or addressless peer", nil))
		return
	}

	addr := preferredAddress(peer.Addresses)
	go func() {
		qc, err := m.transport.Dial(context.Background(), addr.Addr, peer.Fingerprint)
		m.runner.PostTask(func() { m.finishDial(instanceID, qc, err) })
	}()
}

func (m *Manager) finishDial(instanceID uint64, qc platform.QuicConnection, err error) {
	m.dialing[instanceID] = false
	waiters := m.waiters[instanceID]
	delete(m.waiters, instanceID)

	if err != nil {
		for _, w := range waiters {
			w.cb(nil, err)
		}
		return
	}

	// A dial still in flight when Stop ran has lost its peer entry; close the
	// connection it produced instead of promoting it.
	peer, ok := m.peers[instanceID]
	if !ok || m.state == Stopping || m.state == Stopped {
		_ = qc.CloseWithError(0, "manager stopped")
		return
	}
	conn := &Connection{
		manager:      m,
		instanceID:   instanceID,
		instanceName: peer.InstanceName,
		fingerprint:  peer.Fingerprint,
		quicConn:     qc,
		state:        connEstablished,
	}
	m.connections[instanceID] = conn
	for _, w := range waiters {
		w.cb(conn, nil)
	}
}

// preferredAddress returns the first IPv4 address, or the first address of
// any kind if there is no IPv4 entry.
func preferredAddress(addrs []PeerAddress) PeerAddress {
	for _, a := range addrs {
		if !a.V6 {
			return a
		}
	}
	return addrs[0]
}

// NotifyClosed is called by the protocol-connection layer when it observes
// the peer has gone away (a stream read/write failing with a connection
// error), queuing the connection for destruction on the next cleanup tick.
func (m *Manager) NotifyClosed(instanceID uint64) {
	if conn, ok := m.connections[instanceID]; ok {
		m.queueClose(conn)
	}
}

func (m *Manager) queueClose(c *Connection) {
	if c.closeQueued {
		return
	}
	c.closeQueued = true
	m.closedQueue = append(m.closedQueue, c)
}

func (m *Manager) armCleanup() {
	m.cleanupAlarm = m.runner.PostAlarm(cleanupInterval, m.cleanup)
}

func (m *Manager) cleanup() {
	for _, c := range m.closedQueue {
		delete(m.connections, c.instanceID)
		if m.delegate.OnConnectionClosed != nil {
			m.delegate.OnConnectionClosed(c)
		}
	}
	m.closedQueue = nil
	if m.state == Running || m.state == Suspended {
		m.armCleanup()
	}
}

// Suspend rejects new inbound connections and new Connect calls but leaves
// existing connections untouched.
func (m *Manager) Suspend() {
	if m.state == Running {
		m.state = Suspended
	}
}

// Resume undoes Suspend.
func (m *Manager) Resume() {
	if m.state == Suspended {
		m.state = Running
	}
}

// Stop closes every connection, pending or established, closes all
// listeners, clears every table, and resets the instance id counter to 1.
func (m *Manager) Stop() {
	m.state = Stopping
	for _, l := range m.listeners {
		_ = l.Close()
	}
	for _, conn := range m.connections {
		_ = conn.quicConn.CloseWithError(0, "manager stopped")
	}
	if m.cleanupAlarm != nil {
		m.cleanupAlarm.Cancel()
		m.cleanupAlarm = nil
	}

	m.listeners = nil
	m.connections = make(map[uint64]*Connection)
	m.peers = make(map[uint64]*PeerRecord)
	m.peersByFingerprint = make(map[string]uint64)
	m.dialing = make(map[uint64]bool)
	m.waiters = make(map[uint64][]connectWaiter)
	m.closedQueue = nil
	m.nextInstanceID = 1
	m.state = Stopped
}

func leafFingerprint(state platform.QuicConnectionState) []byte {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	sum := sha256.Sum256(state.PeerCertificates[0])
	return sum[:]
}

func fingerprintKey(fp []byte) string {
	return hex.EncodeToString(fp)
}
