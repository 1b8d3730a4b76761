// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mdnsrr

import (
	"time"

	"github.com/openscreen-go/ospcast/pkg/platform"
)

type recKey struct {
	name  string
	rtype RRType
	class uint16
}

func keyOf(rec Record) recKey {
	return recKey{name: rec.Name.Key(), rtype: rec.Type, class: rec.Class}
}

// Cache is the shared store of RecordTrackers, keyed by (name, type, class).
// It owns every RecordTracker exclusively; QuestionTrackers only ever reach
// a RecordTracker through the Cache and hold no reference of their own.
type Cache struct {
	clock    platform.Clock
	runner   platform.TaskRunner
	grace    time.Duration
	trackers map[recKey]*RecordTracker
}

// NewCache constructs an empty record cache.
func NewCache(clock platform.Clock, runner platform.TaskRunner, goodbyeGrace time.Duration) *Cache {
	return &Cache{
		clock:    clock,
		runner:   runner,
		grace:    goodbyeGrace,
		trackers: make(map[recKey]*RecordTracker),
	}
}

// Ingest records rec, creating a new RecordTracker if none exists for its
// (name, type, class) or updating the existing one otherwise. onExpired is
// only ever invoked for a freshly created tracker; an existing tracker
// keeps the onExpired it was created with, since the identity of "this
// cached record's owner" doesn't change across updates.
func (c *Cache) Ingest(rec Record, sendRefreshQuery func(), onUpdated func(Record), onExpired func()) *RecordTracker {
	key := keyOf(rec)
	if t, ok := c.trackers[key]; ok {
		t.Update(rec)
		return t
	}

	t := NewRecordTracker(rec, c.clock, c.runner, c.grace, sendRefreshQuery, onUpdated, func() {
		delete(c.trackers, key)
		onExpired()
	})
	c.trackers[key] = t
	_ = t.Start()
	return t
}

// Get looks up a cached record without side effects.
func (c *Cache) Get(name DomainName, rtype RRType, class uint16) (*RecordTracker, bool) {
	t, ok := c.trackers[recKey{name: name.Key(), rtype: rtype, class: class}]
	return t, ok
}

// Remove drops a tracker without firing its expiry callback, used when the
// owning socket is torn down rather than the record having actually lapsed.
func (c *Cache) Remove(name DomainName, rtype RRType, class uint16) {
	key := recKey{name: name.Key(), rtype: rtype, class: class}
	if t, ok := c.trackers[key]; ok {
		t.Cancel()
		delete(c.trackers, key)
	}
}

// Len reports the number of live tracked records, for property tests.
func (c *Cache) Len() int { return len(c.trackers) }

// Records returns a snapshot of every cached record's current value.
func (c *Cache) Records() []Record {
	out := make([]Record, 0, len(c.trackers))
	for _, t := range c.trackers {
		out = append(out, t.Record())
	}
	return out
}
