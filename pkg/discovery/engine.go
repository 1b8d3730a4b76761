// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
	"github.com/openscreen-go/ospcast/pkg/platform"
)

// Transport sends an already-framed mDNS packet to the standard multicast
// group. Production code (cmd/ospd's mdnsSocket) backs this with UDP sockets
// joined to 224.0.0.251:5353 and its IPv6 counterpart ([ff02::fb]:5353); tests use a
// fake that records sent packets instead of touching a real socket.
type Transport interface {
	Send(pkt []byte, v6 bool) error
}

// Engine is the mDNS record cache and multicast transport shared by a
// Publisher and Listener pair. It survives exactly as long as at least one
// of them is active, per the "engine survives iff either is running" rule.
type Engine struct {
	clock       platform.Clock
	runner      platform.TaskRunner
	transport   Transport
	serviceType mdnsrr.DomainName

	cache     *mdnsrr.Cache
	refCount  int
	state     State
	suspended bool

	listener  *Listener
	publisher *Publisher
}

// NewEngine constructs an idle engine for the given service type, e.g.
// "_openscreen._udp.local".
func NewEngine(clock platform.Clock, runner platform.TaskRunner, transport Transport, serviceType mdnsrr.DomainName) *Engine {
	return &Engine{clock: clock, runner: runner, transport: transport, serviceType: serviceType}
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

func (e *Engine) acquire() {
	e.refCount++
	if e.refCount == 1 {
		e.state = Starting
		e.cache = mdnsrr.NewCache(e.clock, e.runner, 0)
		e.state = Running
	}
}

func (e *Engine) release() {
	if e.refCount == 0 {
		return
	}
	e.refCount--
	if e.refCount == 0 {
		e.cache = nil
		e.state = Stopped
		e.suspended = false
	}
}

// Suspend rejects new query and announcement traffic but keeps existing
// trackers and cached records intact.
func (e *Engine) Suspend() {
	if e.state == Running {
		e.suspended = true
		e.state = Suspended
	}
}

// Resume undoes Suspend.
func (e *Engine) Resume() {
	if e.state == Suspended {
		e.suspended = false
		e.state = Running
	}
}

func (e *Engine) send(pkt []byte, v6 bool) error {
	if e.suspended || e.transport == nil {
		return nil
	}
	return e.transport.Send(pkt, v6)
}

// HandleIncomingPacket parses one raw mDNS UDP payload and routes it to
// whichever of the Publisher/Listener are currently active. Reading bytes
// off the actual socket happens outside this package (see cmd/ospd's
// mdnsSocket.readLoop); this is the delivery point once a full
// datagram has been read.
func (e *Engine) HandleIncomingPacket(data []byte) {
	if e.suspended {
		return
	}
	records, isQuery, err := mdnsrr.ParseMessage(data)
	if err != nil {
		return
	}
	if isQuery {
		if e.publisher != nil {
			e.publisher.handleQuery()
		}
		return
	}
	if e.listener != nil {
		e.listener.ingestFromWire(records)
	}
}
