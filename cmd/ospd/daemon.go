// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Command ospd wires the ten core protocol packages into a runnable
// daemon: it publishes and browses a local service instance over mDNS,
// accepts and dials QUIC connections to peers it discovers, runs SPAKE2
// pairing and Cast session negotiation on each connection's control
// stream, and reports rolling send-side statistics.
package main

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"math/big"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/openscreen-go/ospcast/pkg/castneg"
	"github.com/openscreen-go/ospcast/pkg/discovery"
	"github.com/openscreen-go/ospcast/pkg/dnssd"
	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/platform"
	"github.com/openscreen-go/ospcast/pkg/quicconn"
	"github.com/openscreen-go/ospcast/pkg/streamstats"
	"github.com/openscreen-go/ospcast/pkg/trust"
)

const serviceType = "_openscreen._udp.local"

// daemon owns every long-lived component ospd wires together, and is the
// single-threaded task runner's sole mutator of everything reachable from it.
type daemon struct {
	cfg tomlConfig

	runner *platform.Runner
	clock  platform.SystemClock

	identity    tls.Certificate
	fingerprint []byte

	trustStore *trust.Store

	mdnsSock    *mdnsSocket
	engine      *discovery.Engine
	publisher   *discovery.Publisher
	listener    *discovery.Listener

	quicSocket *quicPacketConn
	quicMgr    *quicconn.Manager

	castPreferences castneg.Preferences
	stats           *streamstats.Analyzer

	mu       sync.Mutex
	sessions map[uint64]*peerSession
	pending  map[string]string // fingerprint -> presenter-generated PIN, awaiting SubmitPassword

	statusListener func()
}

// SetStatusListener registers fn to be called, on the daemon's own
// goroutine, every time the active peer set changes. Used to push a status
// update to connected debug websocket clients.
func (d *daemon) SetStatusListener(fn func()) {
	d.statusListener = fn
}

func (d *daemon) notifyStatusChanged() {
	if d.statusListener != nil {
		d.statusListener()
	}
}

func newDaemon(cfg tomlConfig) (*daemon, error) {
	cert, fp, err := generateSelfSignedIdentity()
	if err != nil {
		return nil, err
	}

	trustStore, err := trust.Open(cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening trust store: %w", err)
	}

	d := &daemon{
		cfg:             cfg,
		runner:          platform.NewRunner(),
		identity:        cert,
		fingerprint:     fp,
		trustStore:      trustStore,
		castPreferences: castPreferences(cfg.Receiver),
		sessions:        make(map[uint64]*peerSession),
		pending:         make(map[string]string),
	}
	return d, nil
}

// Start binds the mDNS and QUIC sockets, begins advertising this instance,
// browsing for peers, and accepting inbound connections.
func (d *daemon) Start() error {
	mdnsSock, err := openMDNSSocket(d.cfg.Publisher.Interfaces)
	if err != nil {
		return fmt.Errorf("binding mDNS socket: %w", err)
	}
	d.mdnsSock = mdnsSock

	svcType, err := mdnsrr.NewDomainName(serviceType)
	if err != nil {
		return err
	}
	d.engine = discovery.NewEngine(d.clock, d.runner, mdnsSock, svcType)
	mdnsSock.Start(func(pkt []byte) {
		d.runner.PostTask(func() { d.engine.HandleIncomingPacket(pkt) })
	})

	quicSocket, err := openQUICSocket(int(d.cfg.Publisher.Port))
	if err != nil {
		return fmt.Errorf("binding QUIC socket: %w", err)
	}
	d.quicSocket = quicSocket

	d.quicMgr = quicconn.NewManager(newRealQuicTransport(listenerTLSConfig(d.identity)), d.runner)
	merr := d.quicMgr.SetServerDelegate([]platform.PacketConn{quicSocket}, d.fingerprint, quicconn.ServerDelegate{
		OnConnectionEstablished: func(c *quicconn.Connection) { d.onConnectionEstablished(c, false) },
		OnConnectionFailed: func(remoteAddr string, err error) {
			log.WithError(err).WithField("remote", remoteAddr).Warn("cmd/ospd: inbound QUIC connection failed")
		},
		OnConnectionClosed: func(c *quicconn.Connection) { d.onConnectionClosed(c) },
	})
	if merr != nil && merr.Len() > 0 {
		log.WithError(merr).Warn("cmd/ospd: one or more QUIC listen endpoints failed to bind")
	}

	txt := map[string]string{"fp": hexFingerprint(d.fingerprint)}
	for k, v := range d.cfg.Publisher.TXT {
		txt[k] = v
	}
	d.publisher = discovery.NewPublisher(d.engine, d.cfg.Publisher.InstanceName, d.cfg.Publisher.Port, txt)
	if err := d.publisher.Start(); err != nil {
		return err
	}

	d.listener = discovery.NewListener(d.engine, discovery.PeerCallbacks{
		OnPeerAdded:   d.onPeerAdded,
		OnPeerChanged: d.onPeerAdded,
		OnPeerRemoved: func(instance dnssd.ServiceInstance) {
			log.WithField("instance", instance.Key.Instance.String()).Info("cmd/ospd: peer instance removed")
		},
		OnError: func(err error) { log.WithError(err).Warn("cmd/ospd: discovery listener error") },
	})
	if err := d.listener.Start(); err != nil {
		return err
	}

	d.stats = streamstats.New(d.runner, d.clock, streamstats.DefaultCadence, streamstats.Delegate{
		OnSnapshot: func(mediaType streamstats.MediaType, stats streamstats.SenderStats) {
			log.WithFields(log.Fields{
				"media":        mediaType,
				"enqueue_fps":  stats.EnqueueFps,
				"encode_kbps":  stats.EncodeRateKbps,
				"late_frames":  stats.NumLateFrames,
			}).Debug("cmd/ospd: streaming stats snapshot")
		},
	})
	d.stats.Start()

	return nil
}

// Close tears every component down. Safe to call once, at shutdown.
func (d *daemon) Close() {
	if d.stats != nil {
		d.stats.Stop()
	}
	if d.listener != nil {
		d.listener.Stop()
	}
	if d.publisher != nil {
		d.publisher.Stop()
	}
	if d.quicMgr != nil {
		d.quicMgr.Stop()
	}
	if d.quicSocket != nil {
		_ = d.quicSocket.Close()
	}
	if d.mdnsSock != nil {
		d.mdnsSock.Close()
	}
	if d.trustStore != nil {
		_ = d.trustStore.Close()
	}
	d.runner.Stop()
}

func txtValue(instance dnssd.ServiceInstance, key string) (string, bool) {
	for _, e := range instance.TXT {
		if e.Key == key {
			return e.Value, e.HasValue
		}
	}
	return "", false
}

// onPeerAdded registers a newly (or freshly re-)resolved peer with the QUIC
// manager, so a later Connect call (triggered by an application wanting to
// cast to it) has a fingerprint and address set to dial.
func (d *daemon) onPeerAdded(instance dnssd.ServiceInstance) {
	fpHex, ok := txtValue(instance, "fp")
	if !ok {
		return
	}
	fp, err := hexDecodeFingerprint(fpHex)
	if err != nil {
		log.WithError(err).Warn("cmd/ospd: peer TXT record has an unparsable fingerprint")
		return
	}

	v4, v6 := d.listener.ResolveHost(instance)
	var addrs []quicconn.PeerAddress
	for _, ip := range v4 {
		addrs = append(addrs, quicconn.PeerAddress{Addr: &net.UDPAddr{IP: ip, Port: int(instance.Port)}, V6: false})
	}
	for _, ip := range v6 {
		addrs = append(addrs, quicconn.PeerAddress{Addr: &net.UDPAddr{IP: ip, Port: int(instance.Port)}, V6: true})
	}
	if len(addrs) == 0 {
		return
	}

	instanceID := d.quicMgr.RegisterPeer(quicconn.PeerRecord{
		InstanceName: instance.Key.Instance.String(),
		Fingerprint:  fp,
		Addresses:    addrs,
	})
	log.WithFields(log.Fields{
		"instance":    instance.Key.Instance.String(),
		"instance_id": instanceID,
	}).Info("cmd/ospd: registered discovered peer")
}

// Connect dials a previously discovered peer and starts its control session
// as the pairing Presenter and Cast sender.
func (d *daemon) Connect(instanceID uint64) {
	d.quicMgr.Connect(instanceID, func(conn *quicconn.Connection, err error) {
		if err != nil {
			log.WithError(err).WithField("instance_id", instanceID).Warn("cmd/ospd: dial failed")
			return
		}
		d.onConnectionEstablished(conn, true)
	})
}

func (d *daemon) onConnectionEstablished(conn *quicconn.Connection, initiator bool) {
	ps, err := newPeerSession(d, conn, initiator)
	if err != nil {
		log.WithError(err).Warn("cmd/ospd: failed to start control session")
		_ = conn.Close()
		return
	}
	d.mu.Lock()
	d.sessions[conn.InstanceID()] = ps
	d.mu.Unlock()
	d.notifyStatusChanged()

	if initiator {
		fp := hexFingerprint(conn.Fingerprint())
		pin := d.pairingPassword(fp)
		log.WithFields(log.Fields{"peer": fp, "pin": pin}).Info("cmd/ospd: show this PIN on the receiver's screen")
		_ = ps.spake.NotifyPINShown()
	}
}

func (d *daemon) onConnectionClosed(conn *quicconn.Connection) {
	d.mu.Lock()
	delete(d.sessions, conn.InstanceID())
	d.mu.Unlock()
	d.notifyStatusChanged()
}

// pairingPassword returns the PIN shown for this fingerprint's active
// pairing attempt, generating a fresh one if this is the first time it's
// asked (the Presenter side always asks first, from onConnectionEstablished).
func (d *daemon) pairingPassword(fingerprint string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pin, ok := d.pending[fingerprint]; ok {
		return pin
	}
	pin := generatePIN()
	d.pending[fingerprint] = pin
	return pin
}

// SubmitPairingPassword feeds a PIN typed in by the Consumer's user into
// that peer's in-flight SPAKE2 session.
func (d *daemon) SubmitPairingPassword(instanceID uint64, password string) error {
	d.mu.Lock()
	ps, ok := d.sessions[instanceID]
	d.mu.Unlock()
	if !ok {
		return ospcast.New(ospcast.ErrNoActiveConnection, "cmd/ospd.SubmitPairingPassword: no session for that instance", nil)
	}
	return ps.spake.SubmitPassword(password)
}

// spawnReceiver is the castneg.SpawnFunc backing this daemon's negotiator.
// Actual media decoding/rendering is out of scope here; this stands up the
// bookkeeping object castneg needs to track the receiver's lifecycle.
func (d *daemon) spawnReceiver(stream castneg.OfferedStream, receiveSSRC uint32, udpPort int) (castneg.Receiver, error) {
	log.WithFields(log.Fields{
		"stream_index": *stream.Index,
		"codec":        stream.CodecName,
		"ssrc":         receiveSSRC,
		"udp_port":     udpPort,
	}).Info("cmd/ospd: spawning receiver")
	return &loggingReceiver{index: *stream.Index}, nil
}

type loggingReceiver struct{ index int }

func (r *loggingReceiver) Destroy(reason castneg.DestroyReason) {
	log.WithFields(log.Fields{"stream_index": r.index, "reason": reason}).Info("cmd/ospd: receiver destroyed")
}

func generatePIN() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "0000"
	}
	return fmt.Sprintf("%04d", n.Int64())
}

func hexDecodeFingerprint(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hexDecodeFingerprint: odd-length string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("hexDecodeFingerprint: invalid hex in %q", s)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
