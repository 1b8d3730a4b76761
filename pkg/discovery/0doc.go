// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery is the service discovery facade: it owns the shared
// mDNS engine (record cache plus continuous queries) and exposes it to
// callers as a Publisher (advertise a local service instance) and a
// Listener (watch for remote ones), per RFC 6762/6763.
package discovery

const (
	// mdnsAddr4 is the standard mDNS IPv4 multicast group.
	mdnsAddr4 = "224.0.0.251"

	// mdnsAddr6 is the standard mDNS IPv6 multicast group.
	mdnsAddr6 = "ff02::fb"

	// mdnsPort is the standard mDNS UDP port.
	mdnsPort = 5353
)
