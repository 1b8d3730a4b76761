// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mdnsrr

import (
	"math/rand"
	"time"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/platform"
)

// RecordEvent classifies a change a QuestionTracker reports to its
// subscribed callbacks.
type RecordEvent int

const (
	RecordAdded RecordEvent = iota
	RecordUpdated
	RecordRemoved
)

func (e RecordEvent) String() string {
	switch e {
	case RecordAdded:
		return "Added"
	case RecordUpdated:
		return "Updated"
	case RecordRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// QuestionCallback receives every Added/Updated/Removed transition for
// records matching the owning QuestionTracker's question.
type QuestionCallback func(event RecordEvent, rec Record)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Minute
	maxJitter      = 120 * time.Millisecond
)

// QuestionTracker owns a continuous (name, type, class) query, re-sending it
// with exponential backoff and jitter per RFC 6762 §5.2.
type QuestionTracker struct {
	Name  DomainName
	Type  RRType
	Class uint16

	cache     *Cache
	runner    platform.TaskRunner
	sendQuery func(name DomainName, qtype RRType, class uint16)
	jitter    func() time.Duration

	callbacks map[*callbackToken]QuestionCallback
	backoff   time.Duration
	alarm     platform.AlarmHandle
	started   bool
}

type callbackToken struct{}

// NewQuestionTracker constructs a tracker for the given question. sendQuery
// is invoked to actually transmit a query packet (owned by the caller,
// typically the discovery facade's socket layer).
func NewQuestionTracker(name DomainName, rtype RRType, class uint16, cache *Cache, runner platform.TaskRunner, sendQuery func(DomainName, RRType, uint16)) *QuestionTracker {
	return &QuestionTracker{
		Name:      name,
		Type:      rtype,
		Class:     class,
		cache:     cache,
		runner:    runner,
		sendQuery: sendQuery,
		jitter:    defaultJitter,
		callbacks: make(map[*callbackToken]QuestionCallback),
		backoff:   initialBackoff,
	}
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(maxJitter) + 1))
}

// Start begins the continuous query. Restarting an already-started tracker
// yields ospcast.ErrOperationInvalid.
func (t *QuestionTracker) Start() error {
	if t.started {
		return ospcast.New(ospcast.ErrOperationInvalid, "mdnsrr.QuestionTracker.Start: already started", nil)
	}
	t.started = true
	t.fireQuery()
	return nil
}

func (t *QuestionTracker) fireQuery() {
	t.sendQuery(t.Name, t.Type, t.Class)

	delay := t.backoff + t.jitter()
	t.alarm = t.runner.PostAlarm(delay, t.fireQuery)

	if t.backoff < maxBackoff {
		t.backoff *= 2
		if t.backoff > maxBackoff {
			t.backoff = maxBackoff
		}
	}
}

// FireNow re-sends the query immediately, cancelling whatever backoff
// alarm was pending, for an explicit user-triggered search.
func (t *QuestionTracker) FireNow() {
	if !t.started {
		return
	}
	if t.alarm != nil {
		t.alarm.Cancel()
	}
	t.fireQuery()
}

// Close stops sending further queries for this question. Already-cached
// records are unaffected; they continue to age via their own
// RecordTrackers.
func (t *QuestionTracker) Close() {
	if t.alarm != nil {
		t.alarm.Cancel()
		t.alarm = nil
	}
	t.started = false
}

// AddCallback subscribes cb to this question's record events. The mutation
// is posted to the task runner so the callback set never needs a lock; the
// returned CancelFunc posts the matching removal.
func (t *QuestionTracker) AddCallback(cb QuestionCallback) (cancel func()) {
	token := &callbackToken{}
	t.runner.PostTask(func() {
		t.callbacks[token] = cb
	})
	return func() {
		t.runner.PostTask(func() {
			delete(t.callbacks, token)
		})
	}
}

// HandleRecord routes an inbound record matching this question into the
// shared Cache, creating or updating its RecordTracker, then invokes
// subscribed callbacks.
func (t *QuestionTracker) HandleRecord(rec Record) {
	if !rec.Name.Equal(t.Name) || rec.Type != t.Type || rec.Class != t.Class {
		return
	}

	_, existed := t.cache.Get(rec.Name, rec.Type, rec.Class)

	sendRefresh := func() { t.sendQuery(t.Name, t.Type, t.Class) }
	tracker := t.cache.Ingest(rec, sendRefresh,
		func(updated Record) { t.fire(RecordUpdated, updated) },
		func() { t.fire(RecordRemoved, rec) },
	)

	if !existed {
		t.fire(RecordAdded, tracker.Record())
	}
}

func (t *QuestionTracker) fire(event RecordEvent, rec Record) {
	for _, cb := range t.callbacks {
		cb(event, rec)
	}
}
