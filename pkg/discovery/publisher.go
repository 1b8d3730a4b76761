// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"time"

	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/platform"
)

const (
	announceInterval = 60 * time.Second
	announceTTL      = 120 * time.Second
)

// Publisher advertises a single local service instance under an Engine's
// service type, re-announcing periodically and whenever a query is
// observed on the wire.
type Publisher struct {
	engine       *Engine
	instanceName string
	port         uint16
	txt          map[string]string

	started       bool
	announceAlarm platform.AlarmHandle
}

// NewPublisher constructs a Publisher for a local instance named
// instanceName, reachable at port, carrying the given TXT key/value set.
func NewPublisher(engine *Engine, instanceName string, port uint16, txt map[string]string) *Publisher {
	return &Publisher{engine: engine, instanceName: instanceName, port: port, txt: txt}
}

// Start acquires the shared engine and sends the first announcement.
func (p *Publisher) Start() error {
	if p.started {
		return ospcast.New(ospcast.ErrOperationInvalid, "discovery.Publisher.Start: already started", nil)
	}
	p.started = true
	p.engine.acquire()
	p.engine.publisher = p
	p.announce()
	return nil
}

// Stop cancels the announce schedule and releases the shared engine. It
// does not send a goodbye packet; callers that need one should build and
// send it explicitly before calling Stop.
func (p *Publisher) Stop() {
	if !p.started {
		return
	}
	if p.announceAlarm != nil {
		p.announceAlarm.Cancel()
		p.announceAlarm = nil
	}
	p.engine.publisher = nil
	p.engine.release()
	p.started = false
}

// UpdateTXT replaces the advertised TXT record and, if currently started,
// re-announces immediately so listeners pick up the change.
func (p *Publisher) UpdateTXT(txt map[string]string) {
	p.txt = txt
	if p.started {
		p.announce()
	}
}

func (p *Publisher) instanceDomain() mdnsrr.DomainName {
	labels := append([]string{p.instanceName}, p.engine.serviceType.Labels...)
	return mdnsrr.DomainName{Labels: labels}
}

func (p *Publisher) hostDomain() mdnsrr.DomainName {
	suffix := p.engine.serviceType.Labels[2:]
	labels := append([]string{p.instanceName}, suffix...)
	return mdnsrr.DomainName{Labels: labels}
}

func (p *Publisher) announce() {
	if p.announceAlarm != nil {
		p.announceAlarm.Cancel()
		p.announceAlarm = nil
	}

	instance := p.instanceDomain()
	host := p.hostDomain()

	ptr := mdnsrr.Record{
		Name: p.engine.serviceType, Type: mdnsrr.TypePTR, Class: mdnsrr.ClassIN, TTL: announceTTL,
		RData: mdnsrr.PTRRecordData{Target: instance},
	}
	srv := mdnsrr.Record{
		Name: instance, Type: mdnsrr.TypeSRV, Class: mdnsrr.ClassIN, TTL: announceTTL,
		RData: mdnsrr.SRVRecordData{Target: host, Port: p.port},
	}
	txt := mdnsrr.Record{
		Name: instance, Type: mdnsrr.TypeTXT, Class: mdnsrr.ClassIN, TTL: announceTTL,
		RData: mdnsrr.TXTRecordData{Entries: encodeTXT(p.txt)},
	}

	pkt, err := mdnsrr.BuildResponse([]mdnsrr.Record{ptr, srv, txt})
	if err == nil {
		_ = p.engine.send(pkt, false)
	}

	p.announceAlarm = p.engine.runner.PostAlarm(announceInterval, p.announce)
}

// handleQuery reacts to any observed query by re-announcing. This is a
// best-effort response: it does not inspect the query's question section
// for an exact name/type match, trading precision for simplicity.
func (p *Publisher) handleQuery() {
	p.announce()
}

func encodeTXT(kv map[string]string) []string {
	entries := make([]string, 0, len(kv))
	for k, v := range kv {
		if v == "" {
			entries = append(entries, k)
			continue
		}
		entries = append(entries, k+"="+v)
	}
	return entries
}
