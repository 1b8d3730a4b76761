// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnssd materializes the RFC 6763 DNS-SD data model (service
// instances and the hosts they resolve to) out of the raw resource records
// tracked by mdnsrr.Cache. It owns no sockets and issues no queries itself;
// it only maintains state and tells its caller, via startQuery/stopQuery
// hooks, when a new sub-query needs to begin or end.
package dnssd

import (
	"net"

	"github.com/openscreen-go/ospcast/pkg/mdnsrr"
)

// InstanceKey identifies one service instance by its full three-part name.
type InstanceKey struct {
	Instance mdnsrr.DomainName
	Service  mdnsrr.DomainName
	Domain   mdnsrr.DomainName
}

// ServiceKey identifies a service type within a domain, e.g.
// "_openscreen._udp" within "local".
type ServiceKey struct {
	Service mdnsrr.DomainName
	Domain  mdnsrr.DomainName
}

func (k InstanceKey) ServiceKey() ServiceKey {
	return ServiceKey{Service: k.Service, Domain: k.Domain}
}

// Key returns a case-folded string uniquely identifying k, suitable for use
// as a map key since mdnsrr.DomainName itself (holding a []string) is not
// comparable.
func (k InstanceKey) Key() string {
	return k.Instance.Key() + "|" + k.Service.Key() + "|" + k.Domain.Key()
}

// TXTEntry is one parsed "key=value" pair, or a bare flag (HasValue false)
// from a TXT record.
type TXTEntry struct {
	Key      string
	Value    string
	HasValue bool
}

// ServiceInstance is the DNS-SD view of one advertised service instance,
// assembled from whichever of its PTR/SRV/TXT records have been seen so
// far.
type ServiceInstance struct {
	Key InstanceKey

	// DomainName is the target host name populated by the instance's SRV
	// record — not to be confused with Key.Domain, the DNS-SD domain
	// (typically "local") the instance itself lives in.
	DomainName mdnsrr.DomainName
	Port       uint16
	TXT        []TXTEntry

	HasPTR, HasSRV bool
}

// HostKey identifies one host record set, scoped to the socket it was
// received on so identically named hosts seen on two interfaces don't
// collide.
type HostKey struct {
	Socket string
	Domain mdnsrr.DomainName
}

// Key returns a case-folded string uniquely identifying k, suitable for use
// as a map key since mdnsrr.DomainName itself (holding a []string) is not
// comparable.
func (k HostKey) Key() string {
	return k.Socket + "|" + k.Domain.Key()
}

// HostInfo is the resolved address set for one SRV target, plus the set of
// service instances currently depending on it, keyed by InstanceKey.Key().
type HostInfo struct {
	Key        HostKey
	V4, V6     []net.IP
	Dependents map[string]InstanceKey
}

// InstanceEventKind classifies a notification the Tracker emits about a
// service instance's visible lifecycle.
type InstanceEventKind int

const (
	InstanceAdded InstanceEventKind = iota
	InstanceChanged
	InstanceRemoved
)

func (k InstanceEventKind) String() string {
	switch k {
	case InstanceAdded:
		return "Added"
	case InstanceChanged:
		return "Changed"
	case InstanceRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// InstanceEvent is one batched, deduplicated notification about a service
// instance's state changing.
type InstanceEvent struct {
	Kind     InstanceEventKind
	Instance ServiceInstance
}
