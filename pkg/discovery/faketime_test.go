// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"time"

	"github.com/openscreen-go/ospcast/pkg/platform"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeAlarm struct {
	at        time.Time
	fn        func()
	cancelled bool
	fired     bool
}

func (a *fakeAlarm) Cancel() { a.cancelled = true }

type fakeRunner struct {
	clock  *fakeClock
	alarms []*fakeAlarm
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{clock: &fakeClock{now: time.Unix(0, 0)}}
}

func (r *fakeRunner) PostTask(fn func()) { fn() }

func (r *fakeRunner) PostAlarm(delay time.Duration, fn func()) platform.AlarmHandle {
	a := &fakeAlarm{at: r.clock.now.Add(delay), fn: fn}
	r.alarms = append(r.alarms, a)
	return a
}

func (r *fakeRunner) Advance(d time.Duration) {
	r.clock.now = r.clock.now.Add(d)
	for {
		progressed := false
		for _, a := range r.alarms {
			if a.cancelled || a.fired {
				continue
			}
			if !a.at.After(r.clock.now) {
				a.fired = true
				progressed = true
				a.fn()
			}
		}
		if !progressed {
			return
		}
	}
}

// fakeTransport records every packet handed to Send instead of touching a
// real socket.
type fakeTransport struct {
	sent [][]byte
	fail error
}

func (t *fakeTransport) Send(pkt []byte, v6 bool) error {
	if t.fail != nil {
		return t.fail
	}
	t.sent = append(t.sent, pkt)
	return nil
}
