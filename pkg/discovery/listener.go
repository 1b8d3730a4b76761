// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"net"

	"github.com/openscreen-go/ospcast/pkg/dnssd"
	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
	"github.com/openscreen-go/ospcast/pkg/ospcast"
)

// PeerCallbacks are the notifications a Listener delivers about remote
// service instances.
type PeerCallbacks struct {
	OnPeerAdded, OnPeerChanged, OnPeerRemoved func(dnssd.ServiceInstance)
	OnAllRemoved                              func()
	OnError                                   func(error)
}

type qkey struct {
	name  string
	rtype mdnsrr.RRType
}

// Listener watches an Engine's service type for remote instances, issuing
// a continuous PTR query and the SRV/TXT/A/AAAA sub-queries each
// discovered instance needs to resolve fully.
type Listener struct {
	engine *Engine
	cb     PeerCallbacks

	dtracker  *dnssd.Tracker
	qtrackers map[qkey]*mdnsrr.QuestionTracker
	started   bool
	hadPeers  bool
}

// NewListener constructs a Listener bound to engine, delivering peer
// lifecycle events to cb.
func NewListener(engine *Engine, cb PeerCallbacks) *Listener {
	return &Listener{engine: engine, cb: cb, qtrackers: make(map[qkey]*mdnsrr.QuestionTracker)}
}

// Start acquires the shared engine and begins the continuous PTR query for
// the engine's service type.
func (l *Listener) Start() error {
	if l.started {
		return ospcast.New(ospcast.ErrOperationInvalid, "discovery.Listener.Start: already started", nil)
	}
	l.started = true
	l.engine.acquire()
	l.engine.listener = l

	l.dtracker = dnssd.NewTracker("mdns", l.onInstanceEvent, l.startQuery, l.stopQuery)
	l.startQuery(l.engine.serviceType, mdnsrr.TypePTR)
	return nil
}

// Stop deregisters every active query, releases the shared engine, and
// emits OnAllRemoved if any peers were currently known.
func (l *Listener) Stop() {
	if !l.started {
		return
	}
	for k, qt := range l.qtrackers {
		qt.Close()
		delete(l.qtrackers, k)
	}
	if l.hadPeers && l.cb.OnAllRemoved != nil {
		l.cb.OnAllRemoved()
	}
	l.hadPeers = false
	l.engine.listener = nil
	l.engine.release()
	l.started = false
}

// SearchNow re-sends every active query immediately instead of waiting for
// its next scheduled backoff.
func (l *Listener) SearchNow() {
	for _, qt := range l.qtrackers {
		qt.FireNow()
	}
}

func (l *Listener) startQuery(name mdnsrr.DomainName, rtype mdnsrr.RRType) {
	k := qkey{name: name.Key(), rtype: rtype}
	if _, ok := l.qtrackers[k]; ok {
		return
	}
	qt := mdnsrr.NewQuestionTracker(name, rtype, mdnsrr.ClassIN, l.engine.cache, l.engine.runner, l.sendQuery)
	l.qtrackers[k] = qt
	qt.AddCallback(l.onRecordEvent)
	_ = qt.Start()
}

func (l *Listener) stopQuery(name mdnsrr.DomainName, rtype mdnsrr.RRType) {
	k := qkey{name: name.Key(), rtype: rtype}
	if qt, ok := l.qtrackers[k]; ok {
		qt.Close()
		delete(l.qtrackers, k)
	}
}

func (l *Listener) sendQuery(name mdnsrr.DomainName, rtype mdnsrr.RRType, class uint16) {
	pkt, err := mdnsrr.BuildQuery(name, rtype, class)
	if err != nil {
		l.reportError(err)
		return
	}
	if err := l.engine.send(pkt, false); err != nil {
		l.reportError(err)
	}
}

func (l *Listener) onRecordEvent(event mdnsrr.RecordEvent, rec mdnsrr.Record) {
	l.dtracker.HandleRecordEvent(event, rec)
}

// ingestFromWire feeds every record from one incoming packet through the
// active question trackers as a single batch, so a packet that touches
// several records of the same instance collapses into one InstanceEvent.
//
// A PTR in this same packet can cause startQuery to register a brand new
// SRV/TXT tracker mid-pass; that tracker still needs to see this packet's
// SRV/TXT records rather than wait for the next one, so this loops over
// fixed snapshots of the tracker set until a sweep registers nothing new.
func (l *Listener) ingestFromWire(records []mdnsrr.Record) {
	l.dtracker.BeginBatch()
	seen := make(map[qkey]bool)
	for {
		var pending []qkey
		for k := range l.qtrackers {
			if !seen[k] {
				pending = append(pending, k)
			}
		}
		if len(pending) == 0 {
			break
		}
		for _, k := range pending {
			seen[k] = true
			qt := l.qtrackers[k]
			for _, rec := range records {
				qt.HandleRecord(rec)
			}
		}
	}
	l.dtracker.EndBatch()
}

func (l *Listener) onInstanceEvent(e dnssd.InstanceEvent) {
	switch e.Kind {
	case dnssd.InstanceAdded:
		l.hadPeers = true
		if l.cb.OnPeerAdded != nil {
			l.cb.OnPeerAdded(e.Instance)
		}
	case dnssd.InstanceChanged:
		if l.cb.OnPeerChanged != nil {
			l.cb.OnPeerChanged(e.Instance)
		}
	case dnssd.InstanceRemoved:
		l.hadPeers = len(l.dtracker.Instances()) > 0
		if l.cb.OnPeerRemoved != nil {
			l.cb.OnPeerRemoved(e.Instance)
		}
	}
}

// ResolveHost returns whichever IPv4/IPv6 addresses are currently cached for
// instance's SRV target, for a caller that needs a dialable address rather
// than just the instance's existence.
func (l *Listener) ResolveHost(instance dnssd.ServiceInstance) (v4, v6 []net.IP) {
	info, ok := l.dtracker.Host(dnssd.HostKey{Socket: "mdns", Domain: instance.DomainName})
	if !ok {
		return nil, nil
	}
	return info.V4, info.V6
}

func (l *Listener) reportError(err error) {
	if l.cb.OnError != nil {
		l.cb.OnError(err)
	}
}
