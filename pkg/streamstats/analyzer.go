// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package streamstats

import (
	"time"

	"github.com/openscreen-go/ospcast/pkg/platform"
)

// DefaultCadence is how often a snapshot is emitted per media kind when the
// caller doesn't override it.
const DefaultCadence = 500 * time.Millisecond

// window accumulates events for one media kind between two cadence ticks.
// It is reset to its zero value once its snapshot has been taken.
type window struct {
	frameEventCount int
	encodeBytes     int
	sentBytes       int

	numPacketsSent     int
	numPacketsReceived int
	numLateFrames      int

	frameEncodedAt map[uint64]time.Time
	packetSentAt   map[uint64]time.Time

	frameLatencySum    time.Duration
	frameLatencyCount  int
	queueingLatencySum time.Duration
	queueingLatencyCount int
	networkLatencySum  time.Duration
	networkLatencyCount int
	packetLatencySum   time.Duration
	packetLatencyCount int

	firstEventTime           time.Time
	lastEventTime            time.Time
	lastReceiverResponseTime time.Time

	frameLatenessHist Histogram
	queueingHist      Histogram
	networkHist       Histogram
	packetHist        Histogram
}

func newWindow() *window {
	return &window{
		frameEncodedAt: make(map[uint64]time.Time),
		packetSentAt:   make(map[uint64]time.Time),
	}
}

func (w *window) touch(ts time.Time) {
	if w.firstEventTime.IsZero() || ts.Before(w.firstEventTime) {
		w.firstEventTime = ts
	}
	if ts.After(w.lastEventTime) {
		w.lastEventTime = ts
	}
}

func (w *window) handleFrame(e *FrameEvent) {
	w.frameEventCount++
	w.touch(e.Timestamp)

	if e.EventKind == FrameEncoded {
		w.encodeBytes += e.Size
		w.frameEncodedAt[e.FrameID] = e.Timestamp
	}
	if e.EventKind == FrameAckSent {
		if encodedAt, ok := w.frameEncodedAt[e.FrameID]; ok {
			d := e.Timestamp.Sub(encodedAt)
			w.frameLatencySum += d
			w.frameLatencyCount++
		}
	}
	if e.DelayDelta != nil {
		w.frameLatenessHist.add(*e.DelayDelta)
		if *e.DelayDelta > 0 {
			w.numLateFrames++
		}
	}
}

func (w *window) handlePacket(e *PacketEvent) {
	w.touch(e.Timestamp)

	switch e.EventKind {
	case PacketSent:
		w.numPacketsSent++
		w.sentBytes += e.Size
		w.packetSentAt[e.PacketID] = e.Timestamp
		if encodedAt, ok := w.frameEncodedAt[e.FrameID]; ok {
			d := e.Timestamp.Sub(encodedAt)
			w.queueingLatencySum += d
			w.queueingLatencyCount++
			w.queueingHist.add(d)
		}
	case PacketReceived:
		w.numPacketsReceived++
		w.lastReceiverResponseTime = e.Timestamp
		if sentAt, ok := w.packetSentAt[e.PacketID]; ok {
			d := e.Timestamp.Sub(sentAt)
			w.networkLatencySum += d
			w.networkLatencyCount++
			w.networkHist.add(d)
		}
		if encodedAt, ok := w.frameEncodedAt[e.FrameID]; ok {
			d := e.Timestamp.Sub(encodedAt)
			w.packetLatencySum += d
			w.packetLatencyCount++
			w.packetHist.add(d)
		}
	}
}

func avgMs(sum time.Duration, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum.Milliseconds()) / float64(count)
}

func (w *window) snapshot(windowDuration time.Duration, now time.Time) SenderStats {
	windowMs := float64(windowDuration.Milliseconds())
	if windowMs <= 0 {
		windowMs = float64(DefaultCadence.Milliseconds())
	}

	stats := SenderStats{
		EnqueueFps:                  float64(w.frameEventCount) / (windowMs / 1000),
		EncodeRateKbps:              float64(w.encodeBytes*8) / windowMs,
		PacketTransmissionRateKbps:  float64(w.sentBytes*8) / windowMs,
		NumPacketsSent:              w.numPacketsSent,
		NumPacketsReceived:          w.numPacketsReceived,
		NumLateFrames:               w.numLateFrames,
		AvgFrameLatencyMs:           avgMs(w.frameLatencySum, w.frameLatencyCount),
		AvgQueueingLatencyMs:        avgMs(w.queueingLatencySum, w.queueingLatencyCount),
		AvgNetworkLatencyMs:         avgMs(w.networkLatencySum, w.networkLatencyCount),
		AvgPacketLatencyMs:          avgMs(w.packetLatencySum, w.packetLatencyCount),
		FrameLatenessMs:             w.frameLatenessHist,
		QueueingLatencyMs:           w.queueingHist,
		NetworkLatencyMs:            w.networkHist,
		PacketLatencyMs:             w.packetHist,
	}
	if !w.firstEventTime.IsZero() {
		stats.FirstEventTimeMs = w.firstEventTime.UnixMilli()
		stats.LastEventTimeMs = w.lastEventTime.UnixMilli()
	}
	if !w.lastReceiverResponseTime.IsZero() {
		stats.TimeSinceLastReceiverResponseMs = now.Sub(w.lastReceiverResponseTime).Milliseconds()
	}
	return stats
}

// Analyzer consumes StatsEvents and emits a SenderStats snapshot per media
// kind on a fixed cadence, driven by a platform.TaskRunner alarm the same
// way pkg/quicconn.Manager drives its own cleanup cycle.
type Analyzer struct {
	runner   platform.TaskRunner
	clock    platform.Clock
	cadence  time.Duration
	delegate Delegate

	windows      map[MediaType]*window
	lastTickTime time.Time
	alarm        platform.AlarmHandle
	running      bool
}

// New builds an Analyzer. cadence <= 0 uses DefaultCadence.
func New(runner platform.TaskRunner, clock platform.Clock, cadence time.Duration, delegate Delegate) *Analyzer {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Analyzer{
		runner:   runner,
		clock:    clock,
		cadence:  cadence,
		delegate: delegate,
		windows:  map[MediaType]*window{Audio: newWindow(), Video: newWindow()},
	}
}

// Start arms the recurring snapshot alarm.
func (a *Analyzer) Start() {
	if a.running {
		return
	}
	a.running = true
	a.lastTickTime = a.clock.Now()
	a.armTick()
}

// Stop disarms the recurring snapshot alarm. Events already folded into the
// current windows are kept (Snapshot still reports them); no further
// snapshot is emitted for them until Start is called again.
func (a *Analyzer) Stop() {
	a.running = false
	if a.alarm != nil {
		a.alarm.Cancel()
		a.alarm = nil
	}
}

func (a *Analyzer) armTick() {
	a.alarm = a.runner.PostAlarm(a.cadence, a.tick)
}

func (a *Analyzer) tick() {
	now := a.clock.Now()
	elapsed := now.Sub(a.lastTickTime)
	for mediaType, w := range a.windows {
		stats := w.snapshot(elapsed, now)
		a.windows[mediaType] = newWindow()
		if a.delegate.OnSnapshot != nil {
			a.delegate.OnSnapshot(mediaType, stats)
		}
	}
	a.lastTickTime = now
	if a.running {
		a.armTick()
	}
}

// HandleEvent folds one event into the media kind's current window.
func (a *Analyzer) HandleEvent(e StatsEvent) {
	switch {
	case e.Frame != nil:
		a.windowFor(e.Frame.MediaType).handleFrame(e.Frame)
	case e.Packet != nil:
		a.windowFor(e.Packet.MediaType).handlePacket(e.Packet)
	}
}

func (a *Analyzer) windowFor(mediaType MediaType) *window {
	w, ok := a.windows[mediaType]
	if !ok {
		w = newWindow()
		a.windows[mediaType] = w
	}
	return w
}

// Snapshot returns mediaType's current, not-yet-flushed window as if a tick
// happened right now, without resetting it. Useful for on-demand inspection
// between cadence ticks (e.g. a debug HTTP endpoint).
func (a *Analyzer) Snapshot(mediaType MediaType) SenderStats {
	now := a.clock.Now()
	return a.windowFor(mediaType).snapshot(now.Sub(a.lastTickTime), now)
}
