// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mdnsrr implements the mDNS record cache and its two tracker
// kinds. Wire parsing of DNS messages is delegated to github.com/miekg/dns
// (the same library backing the real mDNS client/server in
// weaveworks-weave's nameserver package); TTL aging, refresh scheduling and
// goodbye/expiry semantics are this package's own responsibility, since
// miekg/dns is a message codec, not a cache.
package mdnsrr

import (
	"fmt"
	"strings"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
)

// DomainName is an ordered sequence of labels, each up to 63 octets of
// UTF-8, with a total wire length up to 255 octets. Comparison is
// case-insensitive per label.
type DomainName struct {
	Labels []string
}

// NewDomainName splits a dotted-form name ("Friendly._openscreen._udp.local")
// into labels, validating RFC 1035's per-label and total length limits.
func NewDomainName(dotted string) (DomainName, error) {
	dotted = strings.TrimSuffix(dotted, ".")
	if dotted == "" {
		return DomainName{}, nil
	}
	labels := strings.Split(dotted, ".")

	total := 0
	for _, l := range labels {
		if len(l) == 0 || len(l) > 63 {
			return DomainName{}, ospcast.New(ospcast.ErrParseError, fmt.Sprintf("mdnsrr: label %q invalid length", l), nil)
		}
		total += len(l) + 1
	}
	if total > 255 {
		return DomainName{}, ospcast.New(ospcast.ErrParseError, "mdnsrr: domain name exceeds 255 octets", nil)
	}
	return DomainName{Labels: labels}, nil
}

// MustDomainName panics on invalid input; used for compile-time-known names.
func MustDomainName(dotted string) DomainName {
	d, err := NewDomainName(dotted)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the domain name in dotted form.
func (d DomainName) String() string {
	return strings.Join(d.Labels, ".")
}

// Equal compares two domain names label-wise, case-insensitively.
func (d DomainName) Equal(o DomainName) bool {
	if len(d.Labels) != len(o.Labels) {
		return false
	}
	for i := range d.Labels {
		if !strings.EqualFold(d.Labels[i], o.Labels[i]) {
			return false
		}
	}
	return true
}

// Key returns a case-folded string suitable for use as a map key, so
// name-keyed lookups are label-wise case-insensitive without needing a
// custom map implementation.
func (d DomainName) Key() string {
	labels := make([]string, len(d.Labels))
	for i, l := range d.Labels {
		labels[i] = strings.ToLower(l)
	}
	return strings.Join(labels, ".")
}

// IsSubdomainOf reports whether d ends with suffix's labels.
func (d DomainName) IsSubdomainOf(suffix DomainName) bool {
	if len(suffix.Labels) > len(d.Labels) {
		return false
	}
	off := len(d.Labels) - len(suffix.Labels)
	for i, l := range suffix.Labels {
		if !strings.EqualFold(d.Labels[off+i], l) {
			return false
		}
	}
	return true
}
