// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dnssd

import (
	"net"

	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
)

// Tracker applies the DNS-SD record-added/record-removed transition table
// to a stream of mdnsrr.RecordEvents, maintaining ServiceInstance and
// HostInfo state and emitting one deduplicated InstanceEvent per changed
// instance at the end of each batch, in first-touched order.
//
// It never issues queries itself: startQuery/stopQuery are called at the
// exact points the transition table calls for a new sub-query to begin or
// end, and it is the caller's job (the discovery facade) to actually wire
// those into QuestionTrackers.
type Tracker struct {
	socket string

	instances map[string]*ServiceInstance
	hosts     map[string]*HostInfo

	onEvent    func(InstanceEvent)
	startQuery func(name mdnsrr.DomainName, rtype mdnsrr.RRType)
	stopQuery  func(name mdnsrr.DomainName, rtype mdnsrr.RRType)

	inBatch    bool
	batchSeen  map[string]bool
	dirtyOrder []InstanceKey
	dirtySeen  map[string]bool
	removed    map[string]ServiceInstance
}

// NewTracker constructs an empty Tracker scoped to one socket. onEvent
// receives the batched instance-lifecycle notifications; startQuery and
// stopQuery are invoked when a SRV+TXT or A+AAAA sub-query should begin or
// end (nil is accepted if the caller doesn't need them, e.g. in tests).
func NewTracker(socket string, onEvent func(InstanceEvent), startQuery, stopQuery func(mdnsrr.DomainName, mdnsrr.RRType)) *Tracker {
	if startQuery == nil {
		startQuery = func(mdnsrr.DomainName, mdnsrr.RRType) {}
	}
	if stopQuery == nil {
		stopQuery = func(mdnsrr.DomainName, mdnsrr.RRType) {}
	}
	return &Tracker{
		socket:     socket,
		instances:  make(map[string]*ServiceInstance),
		hosts:      make(map[string]*HostInfo),
		onEvent:    onEvent,
		startQuery: startQuery,
		stopQuery:  stopQuery,
	}
}

// instanceKeyFromName splits a full instance domain name
// ("Living Room TV._openscreen._udp.local") into its InstanceKey parts. The
// first label is the instance name; the next two are the service type and
// protocol; everything after that is the DNS-SD domain.
func instanceKeyFromName(name mdnsrr.DomainName) InstanceKey {
	labels := name.Labels
	var service, domain mdnsrr.DomainName
	if len(labels) >= 3 {
		service = mdnsrr.DomainName{Labels: append([]string(nil), labels[1:3]...)}
		domain = mdnsrr.DomainName{Labels: append([]string(nil), labels[3:]...)}
	}
	return InstanceKey{Instance: name, Service: service, Domain: domain}
}

// BeginBatch snapshots which instances currently exist, so EndBatch can
// tell an instance that appeared this batch (Added) from one that already
// existed and merely changed (Changed).
func (t *Tracker) BeginBatch() {
	t.inBatch = true
	t.batchSeen = make(map[string]bool, len(t.instances))
	for k := range t.instances {
		t.batchSeen[k] = true
	}
	t.dirtyOrder = nil
	t.dirtySeen = make(map[string]bool)
	t.removed = make(map[string]ServiceInstance)
}

// EndBatch emits one InstanceEvent per instance touched since BeginBatch,
// in the order each was first touched. An instance that appeared and
// disappeared within the same batch produces no event.
func (t *Tracker) EndBatch() {
	for _, key := range t.dirtyOrder {
		k := key.Key()
		_, existsNow := t.instances[k]
		existedBefore := t.batchSeen[k]

		switch {
		case existsNow && !existedBefore:
			t.onEvent(InstanceEvent{Kind: InstanceAdded, Instance: *t.instances[k]})
		case existsNow && existedBefore:
			t.onEvent(InstanceEvent{Kind: InstanceChanged, Instance: *t.instances[k]})
		case !existsNow && existedBefore:
			t.onEvent(InstanceEvent{Kind: InstanceRemoved, Instance: t.removed[k]})
		}
	}
	t.inBatch = false
	t.batchSeen = nil
	t.dirtyOrder = nil
	t.dirtySeen = nil
	t.removed = nil
}

// markDirty records key as touched during the active batch (BeginBatch is
// always called before this, either explicitly by the caller or implicitly
// by HandleRecordEvent for a single-event batch).
func (t *Tracker) markDirty(key InstanceKey) {
	k := key.Key()
	if !t.dirtySeen[k] {
		t.dirtySeen[k] = true
		t.dirtyOrder = append(t.dirtyOrder, key)
	}
}

func (t *Tracker) getOrCreateInstance(key InstanceKey) *ServiceInstance {
	k := key.Key()
	if inst, ok := t.instances[k]; ok {
		return inst
	}
	inst := &ServiceInstance{Key: key}
	t.instances[k] = inst
	return inst
}

func (t *Tracker) getOrCreateHost(key HostKey) *HostInfo {
	k := key.Key()
	if h, ok := t.hosts[k]; ok {
		return h
	}
	h := &HostInfo{Key: key, Dependents: make(map[string]InstanceKey)}
	t.hosts[k] = h
	return h
}

func (t *Tracker) hostKey(name mdnsrr.DomainName) HostKey {
	return HostKey{Socket: t.socket, Domain: name}
}

// HandleRecordEvent applies one mdnsrr record transition (Added, Updated or
// Removed) to the DNS-SD state per the record-added/record-removed
// transition table: PTR governs instance existence, SRV governs the
// instance's host and port, TXT governs its metadata, and A/AAAA govern the
// host's resolved addresses.
func (t *Tracker) HandleRecordEvent(event mdnsrr.RecordEvent, rec mdnsrr.Record) {
	solo := t.dirtySeen == nil
	if solo {
		t.BeginBatch()
	}

	switch event {
	case mdnsrr.RecordAdded, mdnsrr.RecordUpdated:
		t.handleAddedOrUpdated(rec)
	case mdnsrr.RecordRemoved:
		t.handleRemoved(rec)
	}

	if solo {
		t.EndBatch()
	}
}

func (t *Tracker) handleAddedOrUpdated(rec mdnsrr.Record) {
	switch rec.Type {
	case mdnsrr.TypePTR:
		target := rec.RData.(mdnsrr.PTRRecordData).Target
		key := instanceKeyFromName(target)
		inst := t.getOrCreateInstance(key)
		wasNew := !inst.HasPTR && !inst.HasSRV
		inst.HasPTR = true
		t.markDirty(key)
		if wasNew {
			t.startQuery(target, mdnsrr.TypeSRV)
			t.startQuery(target, mdnsrr.TypeTXT)
		}

	case mdnsrr.TypeSRV:
		key := instanceKeyFromName(rec.Name)
		inst := t.getOrCreateInstance(key)
		srv := rec.RData.(mdnsrr.SRVRecordData)

		hkey := t.hostKey(srv.Target)
		host := t.getOrCreateHost(hkey)
		newHost := len(host.Dependents) == 0
		host.Dependents[key.Key()] = key

		inst.DomainName = srv.Target
		inst.Port = srv.Port
		inst.HasSRV = true
		t.markDirty(key)

		if newHost {
			t.startQuery(srv.Target, mdnsrr.TypeA)
			t.startQuery(srv.Target, mdnsrr.TypeAAAA)
		}

	case mdnsrr.TypeTXT:
		key := instanceKeyFromName(rec.Name)
		inst := t.getOrCreateInstance(key)
		inst.TXT = parseTXT(rec.RData.(mdnsrr.TXTRecordData).Entries)
		t.markDirty(key)

	case mdnsrr.TypeA:
		t.addAddress(rec.Name, rec.RData.(mdnsrr.ARecordData).Addr, true)

	case mdnsrr.TypeAAAA:
		t.addAddress(rec.Name, rec.RData.(mdnsrr.AAAARecordData).Addr, false)
	}
}

func (t *Tracker) addAddress(host mdnsrr.DomainName, addr net.IP, v4 bool) {
	hkey := t.hostKey(host)
	h, ok := t.hosts[hkey.Key()]
	if !ok {
		return
	}
	if v4 {
		h.V4 = append(h.V4, addr)
	} else {
		h.V6 = append(h.V6, addr)
	}
	for _, dep := range h.Dependents {
		t.markDirty(dep)
	}
}

func (t *Tracker) handleRemoved(rec mdnsrr.Record) {
	switch rec.Type {
	case mdnsrr.TypePTR:
		target := rec.RData.(mdnsrr.PTRRecordData).Target
		key := instanceKeyFromName(target)
		inst, ok := t.instances[key.Key()]
		if !ok {
			return
		}
		inst.HasPTR = false
		if !inst.HasSRV {
			t.retireInstance(key)
		} else {
			t.markDirty(key)
		}

	case mdnsrr.TypeSRV:
		key := instanceKeyFromName(rec.Name)
		inst, ok := t.instances[key.Key()]
		if !ok {
			return
		}
		oldHostKey := t.hostKey(inst.DomainName)
		inst.HasSRV = false
		inst.Port = 0
		inst.DomainName = mdnsrr.DomainName{}

		if host, ok := t.hosts[oldHostKey.Key()]; ok {
			delete(host.Dependents, key.Key())
			if len(host.Dependents) == 0 {
				t.stopQuery(host.Key.Domain, mdnsrr.TypeA)
				t.stopQuery(host.Key.Domain, mdnsrr.TypeAAAA)
				delete(t.hosts, oldHostKey.Key())
			}
		}

		if !inst.HasPTR {
			t.retireInstance(key)
		} else {
			t.markDirty(key)
		}

	case mdnsrr.TypeTXT:
		key := instanceKeyFromName(rec.Name)
		if inst, ok := t.instances[key.Key()]; ok {
			inst.TXT = nil
			t.markDirty(key)
		}

	case mdnsrr.TypeA, mdnsrr.TypeAAAA:
		hkey := t.hostKey(rec.Name)
		host, ok := t.hosts[hkey.Key()]
		if !ok {
			return
		}
		if rec.Type == mdnsrr.TypeA {
			host.V4 = nil
		} else {
			host.V6 = nil
		}
		for _, dep := range host.Dependents {
			t.markDirty(dep)
		}
	}
}

// retireInstance drops an instance whose PTR and SRV are both now absent —
// the policy that tolerates transient PTR refresh gaps.
func (t *Tracker) retireInstance(key InstanceKey) {
	k := key.Key()
	if inst, ok := t.instances[k]; ok && t.removed != nil {
		t.removed[k] = *inst
	}
	delete(t.instances, k)
	t.markDirty(key)
}

// Instances returns a snapshot of every currently tracked service instance.
func (t *Tracker) Instances() []ServiceInstance {
	out := make([]ServiceInstance, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, *inst)
	}
	return out
}

// Host looks up a tracked host's resolved address state.
func (t *Tracker) Host(key HostKey) (HostInfo, bool) {
	h, ok := t.hosts[key.Key()]
	if !ok {
		return HostInfo{}, false
	}
	return *h, true
}
