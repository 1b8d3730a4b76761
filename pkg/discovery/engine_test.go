// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"testing"

	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
)

func newTestEngine() (*Engine, *fakeRunner, *fakeTransport) {
	runner := newFakeRunner()
	transport := &fakeTransport{}
	engine := NewEngine(runner.clock, runner, transport, mdnsrr.MustDomainName("_openscreen._udp.local"))
	return engine, runner, transport
}

func TestEngineRefcountTransitionsThroughRunningAndBack(t *testing.T) {
	engine, _, _ := newTestEngine()
	if engine.State() != Stopped {
		t.Fatalf("initial state = %v, want Stopped", engine.State())
	}

	engine.acquire()
	if engine.State() != Running {
		t.Fatalf("after first acquire = %v, want Running", engine.State())
	}
	if engine.cache == nil {
		t.Fatal("expected cache to be constructed on first acquire")
	}

	engine.acquire()
	if engine.State() != Running {
		t.Fatalf("after second acquire = %v, want Running", engine.State())
	}

	engine.release()
	if engine.State() != Running {
		t.Fatalf("after first release = %v, want still Running", engine.State())
	}

	engine.release()
	if engine.State() != Stopped {
		t.Fatalf("after last release = %v, want Stopped", engine.State())
	}
	if engine.cache != nil {
		t.Fatal("expected cache to be dropped once refcount hits zero")
	}
}

func TestEngineSuspendResumeBlocksSend(t *testing.T) {
	engine, _, transport := newTestEngine()
	engine.acquire()

	engine.Suspend()
	if engine.State() != Suspended {
		t.Fatalf("state = %v, want Suspended", engine.State())
	}
	if err := engine.send([]byte("x"), false); err != nil {
		t.Fatalf("send during suspend returned error: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Fatal("expected no packet sent while suspended")
	}

	engine.Resume()
	if engine.State() != Running {
		t.Fatalf("state = %v, want Running after resume", engine.State())
	}
	if err := engine.send([]byte("x"), false); err != nil {
		t.Fatalf("send after resume returned error: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatal("expected packet sent after resume")
	}
}

func TestEngineHandleIncomingPacketRoutesQueryVsResponse(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.acquire()

	engine.publisher = NewPublisher(engine, "Living Room TV", 9000, nil)

	pkt, err := mdnsrr.BuildQuery(mdnsrr.MustDomainName("_openscreen._udp.local"), mdnsrr.TypePTR, mdnsrr.ClassIN)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	engine.HandleIncomingPacket(pkt)
	if len(engine.transport.(*fakeTransport).sent) == 0 {
		t.Fatal("expected publisher.handleQuery to re-announce on incoming query")
	}
}
