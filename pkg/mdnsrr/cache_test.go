// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mdnsrr

import (
	"testing"
	"time"
)

func TestCacheIngestCreatesThenUpdates(t *testing.T) {
	r := newFakeRunner()
	c := NewCache(r.clock, r, 0)

	updates := 0
	tr := c.Ingest(newTestARecord(60*time.Second, "10.0.0.1"), func() {},
		func(Record) { updates++ }, func() {})
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	tr2 := c.Ingest(newTestARecord(60*time.Second, "10.0.0.2"), func() {},
		func(Record) { updates++ }, func() {})
	if tr2 != tr {
		t.Fatal("Ingest on existing key created a second tracker")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d after update, want 1", c.Len())
	}
	if updates != 1 {
		t.Fatalf("updates = %d, want 1", updates)
	}
}

func TestCacheExpiryRemovesEntry(t *testing.T) {
	r := newFakeRunner()
	c := NewCache(r.clock, r, 0)

	c.Ingest(newTestARecord(10*time.Second, "10.0.0.1"), func() {}, func(Record) {}, func() {})
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	r.Advance(11 * time.Second)
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after TTL expiry, want 0", c.Len())
	}
	if _, ok := c.Get(MustDomainName("host.local"), TypeA, ClassIN); ok {
		t.Fatal("expired record still retrievable via Get")
	}
}

func TestCacheRemoveDoesNotFireExpiry(t *testing.T) {
	r := newFakeRunner()
	c := NewCache(r.clock, r, 0)

	expired := false
	c.Ingest(newTestARecord(60*time.Second, "10.0.0.1"), func() {}, func(Record) {}, func() { expired = true })

	c.Remove(MustDomainName("host.local"), TypeA, ClassIN)
	if expired {
		t.Fatal("Remove should not invoke the onExpired callback")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after Remove, want 0", c.Len())
	}
}

func TestCacheRecordsSnapshot(t *testing.T) {
	r := newFakeRunner()
	c := NewCache(r.clock, r, 0)

	c.Ingest(newTestARecord(60*time.Second, "10.0.0.1"), func() {}, func(Record) {}, func() {})
	other := Record{Name: MustDomainName("other.local"), Type: TypeA, Class: ClassIN, TTL: 60 * time.Second, RData: ARecordData{}}
	c.Ingest(other, func() {}, func(Record) {}, func() {})

	recs := c.Records()
	if len(recs) != 2 {
		t.Fatalf("Records() len = %d, want 2", len(recs))
	}
}

// Liveness invariant: a record is present in the cache exactly while
// current_time < received_at + ttl, or, once a goodbye (TTL=0) has been
// received, current_time < goodbye_received_at + goodbye_grace.
func TestCacheLivenessInvariantWithGrace(t *testing.T) {
	r := newFakeRunner()
	grace := 2 * time.Second
	c := NewCache(r.clock, r, grace)

	c.Ingest(newTestARecord(10*time.Second, "10.0.0.1"), func() {}, func(Record) {}, func() {})

	r.Advance(5 * time.Second)
	if c.Len() != 1 {
		t.Fatal("record should still be live before its TTL elapses")
	}

	goodbye := newTestARecord(0, "10.0.0.1")
	c.Ingest(goodbye, func() {}, func(Record) {}, func() {})

	r.Advance(1900 * time.Millisecond)
	if c.Len() != 1 {
		t.Fatal("record should still be live within the goodbye grace window")
	}
	r.Advance(200 * time.Millisecond)
	if c.Len() != 0 {
		t.Fatal("record should be gone once the goodbye grace period has elapsed")
	}
}
