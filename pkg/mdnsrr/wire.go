// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mdnsrr

import (
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
)

// ParseMessage unpacks a raw mDNS UDP payload into our Record type using
// miekg/dns for the wire-format grunt work, discarding any resource record
// type this stack doesn't understand rather than failing the whole packet:
// one unsupported RR among several valid ones shouldn't sink the batch.
func ParseMessage(data []byte) (answers []Record, isQuery bool, err error) {
	msg := new(dns.Msg)
	if uerr := msg.Unpack(data); uerr != nil {
		return nil, false, ospcast.New(ospcast.ErrParseError, "mdnsrr.ParseMessage", uerr)
	}

	all := make([]dns.RR, 0, len(msg.Answer)+len(msg.Ns)+len(msg.Extra))
	all = append(all, msg.Answer...)
	all = append(all, msg.Ns...)
	all = append(all, msg.Extra...)

	for _, rr := range all {
		if rec, ok := fromDNSRR(rr); ok {
			answers = append(answers, rec)
		}
	}
	return answers, !msg.Response, nil
}

func fromDNSRR(rr dns.RR) (Record, bool) {
	hdr := rr.Header()
	name, err := NewDomainName(hdr.Name)
	if err != nil {
		return Record{}, false
	}
	ttl := time.Duration(hdr.Ttl) * time.Second

	switch v := rr.(type) {
	case *dns.A:
		return Record{Name: name, Type: TypeA, Class: hdr.Class, TTL: ttl, RData: ARecordData{Addr: v.A}}, true
	case *dns.AAAA:
		return Record{Name: name, Type: TypeAAAA, Class: hdr.Class, TTL: ttl, RData: AAAARecordData{Addr: v.AAAA}}, true
	case *dns.PTR:
		target, err := NewDomainName(v.Ptr)
		if err != nil {
			return Record{}, false
		}
		return Record{Name: name, Type: TypePTR, Class: hdr.Class, TTL: ttl, RData: PTRRecordData{Target: target}}, true
	case *dns.SRV:
		target, err := NewDomainName(v.Target)
		if err != nil {
			return Record{}, false
		}
		return Record{Name: name, Type: TypeSRV, Class: hdr.Class, TTL: ttl, RData: SRVRecordData{
			Priority: v.Priority, Weight: v.Weight, Port: v.Port, Target: target,
		}}, true
	case *dns.TXT:
		return Record{Name: name, Type: TypeTXT, Class: hdr.Class, TTL: ttl, RData: TXTRecordData{Entries: v.Txt}}, true
	default:
		return Record{}, false
	}
}

func toDNSRR(r Record) (dns.RR, error) {
	hdr := dns.RR_Header{
		Name:   dns.Fqdn(r.Name.String()),
		Class:  r.Class,
		Ttl:    uint32(r.TTL / time.Second),
	}
	switch v := r.RData.(type) {
	case ARecordData:
		hdr.Rrtype = dns.TypeA
		return &dns.A{Hdr: hdr, A: v.Addr}, nil
	case AAAARecordData:
		hdr.Rrtype = dns.TypeAAAA
		return &dns.AAAA{Hdr: hdr, AAAA: v.Addr}, nil
	case PTRRecordData:
		hdr.Rrtype = dns.TypePTR
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(v.Target.String())}, nil
	case SRVRecordData:
		hdr.Rrtype = dns.TypeSRV
		return &dns.SRV{Hdr: hdr, Priority: v.Priority, Weight: v.Weight, Port: v.Port, Target: dns.Fqdn(v.Target.String())}, nil
	case TXTRecordData:
		hdr.Rrtype = dns.TypeTXT
		return &dns.TXT{Hdr: hdr, Txt: v.Entries}, nil
	default:
		return nil, ospcast.New(ospcast.ErrParameterInvalid, fmt.Sprintf("mdnsrr.toDNSRR: unsupported rdata %T", r.RData), nil)
	}
}

// BuildResponse packs a set of records into an mDNS response message ready
// for multicast.
func BuildResponse(records []Record) ([]byte, error) {
	msg := new(dns.Msg)
	msg.Response = true
	msg.Compress = true
	for _, r := range records {
		rr, err := toDNSRR(r)
		if err != nil {
			return nil, err
		}
		msg.Answer = append(msg.Answer, rr)
	}
	return msg.Pack()
}

// BuildQuery packs a single question (name, type, class) into an mDNS query
// message.
func BuildQuery(name DomainName, qtype RRType, class uint16) ([]byte, error) {
	msg := new(dns.Msg)
	dnsType, err := toDNSType(qtype)
	if err != nil {
		return nil, err
	}
	msg.Question = []dns.Question{{Name: dns.Fqdn(name.String()), Qtype: dnsType, Qclass: class}}
	return msg.Pack()
}

func toDNSType(t RRType) (uint16, error) {
	switch t {
	case TypeA:
		return dns.TypeA, nil
	case TypeAAAA:
		return dns.TypeAAAA, nil
	case TypePTR:
		return dns.TypePTR, nil
	case TypeSRV:
		return dns.TypeSRV, nil
	case TypeTXT:
		return dns.TypeTXT, nil
	default:
		return 0, ospcast.New(ospcast.ErrParameterInvalid, "mdnsrr.toDNSType: unknown RRType", nil)
	}
}
