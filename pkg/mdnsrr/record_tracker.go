// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mdnsrr

import (
	"time"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/platform"
)

// refreshFractions are the points in a record's remaining TTL at which
// RecordTracker re-queries for a fresher copy, per RFC 6762 §5.2.
var refreshFractions = []float64{0.80, 0.85, 0.90, 0.95}

// DefaultGoodbyeGrace is the grace period after a TTL=0 goodbye before the
// record is actually expired. RFC 6762 only suggests "about one second"; we
// make it configurable and default to that suggestion.
const DefaultGoodbyeGrace = 1 * time.Second

// RecordTracker owns a single cached record, schedules RFC 6762 refresh
// queries, and fires Updated/Expired callbacks.
type RecordTracker struct {
	clock  platform.Clock
	runner platform.TaskRunner

	record     Record
	receivedAt time.Time
	grace      time.Duration

	sendRefreshQuery func()
	onUpdated        func(Record)
	onExpired        func()

	alarms  []platform.AlarmHandle
	started bool
}

// NewRecordTracker constructs a tracker for rec. sendRefreshQuery is invoked
// at each RFC 6762 refresh point; onUpdated fires when an Update changes
// rdata; onExpired fires once, on TTL elapse or goodbye.
func NewRecordTracker(rec Record, clock platform.Clock, runner platform.TaskRunner, grace time.Duration, sendRefreshQuery func(), onUpdated func(Record), onExpired func()) *RecordTracker {
	if grace <= 0 {
		grace = DefaultGoodbyeGrace
	}
	return &RecordTracker{
		clock:            clock,
		runner:           runner,
		record:           rec,
		grace:            grace,
		sendRefreshQuery: sendRefreshQuery,
		onUpdated:        onUpdated,
		onExpired:        onExpired,
	}
}

// Record returns the currently cached record.
func (t *RecordTracker) Record() Record { return t.record }

// Start arms the tracker's refresh/expiry alarms. A tracker may be started
// at most once; calling Start again yields ospcast.ErrOperationInvalid.
func (t *RecordTracker) Start() error {
	if t.started {
		return ospcast.New(ospcast.ErrOperationInvalid, "mdnsrr.RecordTracker.Start: already started", nil)
	}
	t.started = true
	t.receivedAt = t.clock.Now()
	t.arm()
	return nil
}

func (t *RecordTracker) arm() {
	t.cancelAlarms()

	if t.record.IsGoodbye() {
		t.alarms = append(t.alarms, t.runner.PostAlarm(t.grace, t.expire))
		return
	}

	for _, frac := range refreshFractions {
		delay := time.Duration(float64(t.record.TTL) * frac)
		t.alarms = append(t.alarms, t.runner.PostAlarm(delay, t.sendRefreshQuery))
	}
	t.alarms = append(t.alarms, t.runner.PostAlarm(t.record.TTL, t.expire))
}

// Update replaces the cached record with a freshly received one for the
// same name/type/class. If rdata changed, Updated fires. A TTL=0 update is
// a goodbye: the tracker schedules expiry after the grace period regardless
// of whether rdata changed.
func (t *RecordTracker) Update(newRec Record) {
	changed := !SameRData(t.record.RData, newRec.RData)
	t.record = newRec
	t.receivedAt = t.clock.Now()
	t.arm()

	if changed && !newRec.IsGoodbye() {
		t.onUpdated(newRec)
	}
}

// ExpiresAt reports when this tracker's record will lapse absent a refresh.
func (t *RecordTracker) ExpiresAt() time.Time {
	if t.record.IsGoodbye() {
		return t.receivedAt.Add(t.grace)
	}
	return t.receivedAt.Add(t.record.TTL)
}

func (t *RecordTracker) expire() {
	t.cancelAlarms()
	t.onExpired()
}

// Cancel disarms the tracker without firing Expired — used when the owning
// socket is torn down and the tracker's removal doesn't need to be
// propagated as an expiry event.
func (t *RecordTracker) Cancel() {
	t.cancelAlarms()
}

func (t *RecordTracker) cancelAlarms() {
	for _, a := range t.alarms {
		a.Cancel()
	}
	t.alarms = nil
}
