// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/openscreen-go/ospcast/pkg/dnssd"
	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
)

var (
	svcType  = mdnsrr.MustDomainName("_openscreen._udp.local")
	instName = mdnsrr.MustDomainName("Living Room TV._openscreen._udp.local")
	hostName = mdnsrr.MustDomainName("Living-Room-TV.local")
)

func TestListenerStartSendsInitialPTRQuery(t *testing.T) {
	engine, _, transport := newTestEngine()
	l := NewListener(engine, PeerCallbacks{})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if engine.State() != Running {
		t.Fatalf("engine state = %v, want Running", engine.State())
	}
	if len(transport.sent) != 1 {
		t.Fatalf("want 1 query sent, got %d", len(transport.sent))
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(transport.sent[0]); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(msg.Question) != 1 || msg.Question[0].Qtype != dns.TypePTR {
		t.Fatalf("unexpected question: %+v", msg.Question)
	}
}

func TestListenerIngestFromWireEmitsPeerAddedOnceForFullRecordSet(t *testing.T) {
	engine, _, _ := newTestEngine()
	var added []dnssd.ServiceInstance
	l := NewListener(engine, PeerCallbacks{
		OnPeerAdded: func(si dnssd.ServiceInstance) { added = append(added, si) },
	})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// PTR, SRV and TXT arrive together in one packet, the way a full DNS-SD
	// response typically bundles them: the PTR triggers the SRV/TXT trackers
	// mid-pass, and ingestFromWire must still feed them this same packet.
	records := []mdnsrr.Record{
		{Name: svcType, Type: mdnsrr.TypePTR, Class: mdnsrr.ClassIN, TTL: 120 * time.Second, RData: mdnsrr.PTRRecordData{Target: instName}},
		{Name: instName, Type: mdnsrr.TypeSRV, Class: mdnsrr.ClassIN, TTL: 120 * time.Second, RData: mdnsrr.SRVRecordData{Target: hostName, Port: 9000}},
		{Name: instName, Type: mdnsrr.TypeTXT, Class: mdnsrr.ClassIN, TTL: 120 * time.Second, RData: mdnsrr.TXTRecordData{Entries: []string{"fp=abc123"}}},
	}
	l.ingestFromWire(records)

	if len(added) != 1 {
		t.Fatalf("want exactly 1 OnPeerAdded, got %d", len(added))
	}
	if added[0].Port != 9000 {
		t.Fatalf("port = %d, want 9000", added[0].Port)
	}
}

func TestListenerAResponseAfterSRVMarksPeerChanged(t *testing.T) {
	engine, _, _ := newTestEngine()
	var changed int
	l := NewListener(engine, PeerCallbacks{
		OnPeerAdded:   func(dnssd.ServiceInstance) {},
		OnPeerChanged: func(dnssd.ServiceInstance) { changed++ },
	})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.ingestFromWire([]mdnsrr.Record{
		{Name: svcType, Type: mdnsrr.TypePTR, Class: mdnsrr.ClassIN, TTL: 120 * time.Second, RData: mdnsrr.PTRRecordData{Target: instName}},
		{Name: instName, Type: mdnsrr.TypeSRV, Class: mdnsrr.ClassIN, TTL: 120 * time.Second, RData: mdnsrr.SRVRecordData{Target: hostName, Port: 9000}},
	})

	l.ingestFromWire([]mdnsrr.Record{
		{Name: hostName, Type: mdnsrr.TypeA, Class: mdnsrr.ClassIN, TTL: 120 * time.Second, RData: mdnsrr.ARecordData{Addr: net.ParseIP("192.0.2.10")}},
	})

	if changed != 1 {
		t.Fatalf("want 1 OnPeerChanged after address resolves, got %d", changed)
	}
}

func TestListenerSearchNowFiresQueryImmediately(t *testing.T) {
	engine, _, transport := newTestEngine()
	l := NewListener(engine, PeerCallbacks{})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sentBefore := len(transport.sent)
	l.SearchNow()
	if len(transport.sent) != sentBefore+1 {
		t.Fatalf("want one extra query from SearchNow, sent=%d", len(transport.sent))
	}
}

func TestListenerStopFiresOnAllRemovedWhenPeersWerePresent(t *testing.T) {
	engine, _, _ := newTestEngine()
	var allRemoved bool
	l := NewListener(engine, PeerCallbacks{
		OnPeerAdded:  func(dnssd.ServiceInstance) {},
		OnAllRemoved: func() { allRemoved = true },
	})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.ingestFromWire([]mdnsrr.Record{
		{Name: svcType, Type: mdnsrr.TypePTR, Class: mdnsrr.ClassIN, TTL: 120 * time.Second, RData: mdnsrr.PTRRecordData{Target: instName}},
	})

	l.Stop()
	if !allRemoved {
		t.Fatal("expected OnAllRemoved to fire on Stop when a peer was known")
	}
	if engine.State() != Stopped {
		t.Fatalf("engine state = %v, want Stopped", engine.State())
	}
}

func TestListenerStopWithoutPeersDoesNotFireOnAllRemoved(t *testing.T) {
	engine, _, _ := newTestEngine()
	var allRemoved bool
	l := NewListener(engine, PeerCallbacks{OnAllRemoved: func() { allRemoved = true }})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Stop()
	if allRemoved {
		t.Fatal("did not expect OnAllRemoved with no peers ever seen")
	}
}
