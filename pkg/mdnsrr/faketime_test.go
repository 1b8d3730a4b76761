// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mdnsrr

import (
	"time"

	"github.com/openscreen-go/ospcast/pkg/platform"
)

// fakeClock and fakeRunner give tests deterministic control over alarm
// timing instead of sleeping on the wall clock, the same role the
// hand-rolled test doubles in pkg/cla/mock_cla_test.go play for CLAs.
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
	tasks  []func()
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

// Advance moves the virtual clock forward by d, firing every alarm whose
// deadline falls within the new "now" — including alarms newly scheduled by
// a firing callback, so a chain of back-to-back alarms all resolve within
// one Advance call.
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
