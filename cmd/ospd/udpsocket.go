// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var (
	mdnsGroupV4 = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}
	mdnsGroupV6 = &net.UDPAddr{IP: net.ParseIP("ff02::fb"), Port: 5353}
)

// mdnsSocket wraps a pair of multicast UDP sockets (v4 and, if available,
// v6) as a single discovery.Transport, since the discovery engine addresses
// its packets purely by an "is this v6" bool.
type mdnsSocket struct {
	v4 *net.UDPConn
	v6 *net.UDPConn

	pconn4 *ipv4.PacketConn
	pconn6 *ipv6.PacketConn
}

// resolveInterfaces returns the OS interfaces named by indices, or every
// up, multicast-capable interface if indices is empty.
func resolveInterfaces(indices []int) ([]net.Interface, error) {
	if len(indices) == 0 {
		all, err := net.Interfaces()
		if err != nil {
			return nil, err
		}
		var out []net.Interface
		for _, ifc := range all {
			if ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagMulticast != 0 {
				out = append(out, ifc)
			}
		}
		return out, nil
	}

	out := make([]net.Interface, 0, len(indices))
	for _, idx := range indices {
		ifc, err := net.InterfaceByIndex(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, *ifc)
	}
	return out, nil
}

// openMDNSSocket binds one shared IPv4 socket and, if available, one shared
// IPv6 socket to the mDNS port, then joins the multicast group on each of
// ifaceIndices' interfaces individually via golang.org/x/net/ipv4 and
// ipv6.PacketConn.JoinGroup — a single net.ListenMulticastUDP call can only
// ever bind one interface, so a host with more than one multicast-capable
// interface needs this per-interface join loop to hear queries on all of
// them.
func openMDNSSocket(ifaceIndices []int) (*mdnsSocket, error) {
	ifaces, err := resolveInterfaces(ifaceIndices)
	if err != nil {
		return nil, err
	}

	v4, err := net.ListenUDP("udp4", &net.UDPAddr{Port: mdnsGroupV4.Port})
	if err != nil {
		return nil, err
	}
	pconn4 := ipv4.NewPacketConn(v4)
	joined4 := 0
	for i := range ifaces {
		if err := pconn4.JoinGroup(&ifaces[i], mdnsGroupV4); err != nil {
			log.WithError(err).WithField("interface", ifaces[i].Name).Warn("cmd/ospd: IPv4 mDNS group join failed")
			continue
		}
		joined4++
	}
	if joined4 == 0 {
		_ = v4.Close()
		return nil, fmt.Errorf("openMDNSSocket: no interface joined the IPv4 mDNS group")
	}

	s := &mdnsSocket{v4: v4, pconn4: pconn4}

	v6, err := net.ListenUDP("udp6", &net.UDPAddr{Port: mdnsGroupV6.Port})
	if err != nil {
		log.WithError(err).Warn("cmd/ospd: IPv6 mDNS socket unavailable, continuing IPv4-only")
		return s, nil
	}
	pconn6 := ipv6.NewPacketConn(v6)
	joined6 := 0
	for i := range ifaces {
		if err := pconn6.JoinGroup(&ifaces[i], &net.UDPAddr{IP: mdnsGroupV6.IP}); err != nil {
			log.WithError(err).WithField("interface", ifaces[i].Name).Debug("cmd/ospd: IPv6 mDNS group join failed")
			continue
		}
		joined6++
	}
	if joined6 == 0 {
		_ = v6.Close()
		log.Warn("cmd/ospd: no interface joined the IPv6 mDNS group, continuing IPv4-only")
		return s, nil
	}
	s.v6 = v6
	s.pconn6 = pconn6
	return s, nil
}

// Send implements discovery.Transport.
func (s *mdnsSocket) Send(pkt []byte, v6 bool) error {
	if v6 {
		if s.v6 == nil {
			return nil
		}
		_, err := s.v6.WriteToUDP(pkt, mdnsGroupV6)
		return err
	}
	_, err := s.v4.WriteToUDP(pkt, mdnsGroupV4)
	return err
}

func (s *mdnsSocket) Close() {
	_ = s.v4.Close()
	if s.v6 != nil {
		_ = s.v6.Close()
	}
}

// readLoop reads inbound datagrams off conn (one loop runs per socket) and hands each one to
// deliver, which the caller wires to (*discovery.Engine).HandleIncomingPacket
// via the runner so the engine only ever sees packets on its own thread.
func (s *mdnsSocket) readLoop(conn *net.UDPConn, deliver func([]byte)) {
	buf := make([]byte, 8192)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		deliver(data)
	}
}

func (s *mdnsSocket) Start(deliver func([]byte)) {
	go s.readLoop(s.v4, deliver)
	if s.v6 != nil {
		go s.readLoop(s.v6, deliver)
	}
}

// quicPacketConn wraps a bound *net.UDPConn as platform.PacketConn for the
// QUIC listener, which needs the WriteToUDP surface on top of net.PacketConn.
type quicPacketConn struct {
	*net.UDPConn
}

func openQUICSocket(port int) (*quicPacketConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &quicPacketConn{UDPConn: conn}, nil
}
