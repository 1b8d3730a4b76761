// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/openscreen-go/ospcast/pkg/castneg"
	"github.com/openscreen-go/ospcast/pkg/demux"
	"github.com/openscreen-go/ospcast/pkg/platform"
	"github.com/openscreen-go/ospcast/pkg/protoconn"
	"github.com/openscreen-go/ospcast/pkg/quicconn"
	"github.com/openscreen-go/ospcast/pkg/spake2"
)

// peerSession is one established QUIC connection's control-plane state: the
// demuxer routing every message tag arriving on its first stream, and the
// SPAKE2/Cast-negotiation handlers registered against it. It exists for the
// lifetime of one quicconn.Connection.
type peerSession struct {
	conn    *quicconn.Connection
	control *protoconn.Connection
	demux   *demux.Demuxer

	spake     *spake2.Session
	negotiate *castneg.Negotiator
	msgs      *castneg.MessageHandler
}

// newPeerSession wraps conn's first stream as the control channel and wires
// SPAKE2 pairing plus Cast session negotiation onto it, the same
// demux-watcher-per-tag pattern both packages are built around.
func newPeerSession(d *daemon, conn *quicconn.Connection, initiator bool) (*peerSession, error) {
	var stream platform.QuicStream
	var err error
	if initiator {
		stream, err = conn.OpenStream()
	} else {
		stream, err = conn.AcceptStream()
	}
	if err != nil {
		return nil, err
	}

	ps := &peerSession{conn: conn, demux: demux.New()}
	ps.control = protoconn.New(d.runner, stream, conn.InstanceID(), d)
	ps.control.SetOnData(func(body []byte) {
		if feedErr := ps.demux.Feed(conn.InstanceID(), ps.control.StreamID(), body, d.clock.Now()); feedErr != nil {
			log.WithError(feedErr).Warn("cmd/ospd: demux feed error, dropping connection")
			ps.control.Destroy()
		}
	})

	fpStr := hexFingerprint(conn.Fingerprint())
	delegate := spake2.Delegate{
		OnAuthenticationSucceed: func(sharedKey [64]byte) {
			log.WithField("peer", fpStr).Info("cmd/ospd: SPAKE2 pairing succeeded")
		},
		OnAuthenticationFailed: func(err error) {
			log.WithError(err).WithField("peer", fpStr).Warn("cmd/ospd: SPAKE2 pairing failed")
		},
	}

	var session *spake2.Session
	if initiator {
		session, err = spake2.NewPresenter(fpStr, conn.InstanceName(), d.pairingPassword(fpStr), ps.control, d.trustStore, delegate)
	} else {
		session, err = spake2.NewConsumer(fpStr, conn.InstanceName(), ps.control, d.trustStore, delegate)
	}
	if err != nil {
		return nil, err
	}
	ps.spake = session

	ps.negotiate = castneg.New(d.castPreferences, d.spawnReceiver, castneg.Delegate{
		OnNegotiated: func(receivers []castneg.Receiver) {
			log.WithField("count", len(receivers)).Info("cmd/ospd: negotiated new receiver set")
		},
	})
	ps.msgs = castneg.NewMessageHandler(ps.negotiate, ps.control)
	ps.bindMediaSocket()

	ps.demux.SetDefaultMessageTypeWatch(spake2.TagHandshake, ps.spake.HandleFrame)
	ps.demux.SetDefaultMessageTypeWatch(spake2.TagConfirmation, ps.spake.HandleFrame)
	ps.demux.SetDefaultMessageTypeWatch(spake2.TagAuthStatus, ps.spake.HandleFrame)
	ps.demux.SetDefaultMessageTypeWatch(castneg.TagOffer, ps.msgs.HandleFrame)

	return ps, session.Start()
}

// bindMediaSocket opens the UDP port this session's negotiated receivers
// will read from, then flips the negotiator out of SocketBinding: any OFFER
// that arrived before the bind finished gets answered right away.
func (ps *peerSession) bindMediaSocket() {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		log.WithError(err).Warn("cmd/ospd: failed to bind media receive socket")
		if answer, negErr, hadPending := ps.negotiate.SetSocketInvalid(); hadPending {
			log.WithError(negErr).Debug("cmd/ospd: answering stashed offer with a socket failure")
			_ = ps.msgs.SendAnswer(answer)
		}
		return
	}

	udpPort := conn.LocalAddr().(*net.UDPAddr).Port
	answer, _, negErr, hadPending := ps.negotiate.SetSocketReady(udpPort)
	if hadPending {
		if negErr != nil {
			log.WithError(negErr).Debug("cmd/ospd: stashed offer failed validation once socket was ready")
		}
		_ = ps.msgs.SendAnswer(answer)
	}
}

// OnConnectionDestroyed implements protoconn.DestroyObserver; the control
// stream tearing down drops this session's reassembly buffer.
func (d *daemon) OnConnectionDestroyed(instanceID, streamID uint64) {
	d.mu.Lock()
	ps, ok := d.sessions[instanceID]
	d.mu.Unlock()
	if ok {
		ps.demux.DropStream(instanceID, streamID)
	}
}

func hexFingerprint(fp []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(fp)*2)
	for _, b := range fp {
		out = append(out, hexdigits[b>>4], hexdigits[b&0xf])
	}
	return string(out)
}
