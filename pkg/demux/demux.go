// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package demux routes decoded message bytes arriving on a QUIC stream to
// whichever watcher registered interest in the message's type tag. Bytes
// accumulate per stream until a full frame is available; a watcher that
// reports it needs more data leaves the buffer untouched for the next
// delivery.
package demux

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Watcher is called with every message of the tag it was registered for.
// It reports how many bytes of body it consumed, or an error. Returning
// (0, nil) means the frame is incomplete and the demuxer should wait for
// more bytes before calling it again with the same tag.
type Watcher func(instanceID uint64, streamID uint64, tag byte, body []byte, now time.Time) (consumed int, err error)

// CancelFunc unsubscribes the watch it was returned from. Calling it twice,
// or after a different watcher has since taken the same tag, is a no-op.
type CancelFunc func()

type streamKey struct {
	instanceID uint64
	streamID   uint64
}

// watchToken gives each registration an identity CancelFunc can match
// against, so unregistering never removes a watcher installed later by
// someone else for the same tag.
type watchToken struct{}

type watchEntry struct {
	token *watchToken
	fn    Watcher
}

// Demuxer holds the type-tag → watcher table and the per-stream reassembly
// buffers. It is not safe for concurrent use; callers run it on the same
// single thread that owns the connections feeding it.
type Demuxer struct {
	watches map[byte]watchEntry
	buffers map[streamKey][]byte
}

// New returns an empty Demuxer.
func New() *Demuxer {
	return &Demuxer{
		watches: make(map[byte]watchEntry),
		buffers: make(map[streamKey][]byte),
	}
}

// SetDefaultMessageTypeWatch installs w as the handler for every message
// carrying tag, replacing any previous watcher for that tag. The returned
// CancelFunc removes only this registration.
func (d *Demuxer) SetDefaultMessageTypeWatch(tag byte, w Watcher) CancelFunc {
	token := &watchToken{}
	d.watches[tag] = watchEntry{token: token, fn: w}

	cancelled := false
	return func() {
		if cancelled {
			return
		}
		cancelled = true
		if entry, ok := d.watches[tag]; ok && entry.token == token {
			delete(d.watches, tag)
		}
	}
}

// Feed appends newly-read stream bytes to the reassembly buffer for
// (instanceID, streamID) and drains as many complete messages as are
// available. An unrecognized tag drops just that one byte, logs, and
// resumes at the next byte, since one unknown message type must not stall
// every other message type sharing the stream.
func (d *Demuxer) Feed(instanceID, streamID uint64, data []byte, now time.Time) error {
	key := streamKey{instanceID, streamID}
	buf := append(d.buffers[key], data...)

	for len(buf) > 0 {
		tag := buf[0]
		entry, ok := d.watches[tag]
		if !ok {
			logrus.WithFields(logrus.Fields{
				"instance_id": instanceID,
				"stream_id":   streamID,
				"tag":         tag,
			}).Debug("demux: no watcher for message type, dropping tag byte")
			buf = buf[1:]
			continue
		}

		consumed, err := entry.fn(instanceID, streamID, tag, buf[1:], now)
		if err != nil {
			d.buffers[key] = buf
			return err
		}
		if consumed == 0 {
			break
		}
		buf = buf[1+consumed:]
	}

	d.buffers[key] = buf
	return nil
}

// DropStream discards any buffered partial frame for a stream that has
// closed, so a connection's teardown doesn't leak its reassembly buffer.
func (d *Demuxer) DropStream(instanceID, streamID uint64) {
	delete(d.buffers, streamKey{instanceID, streamID})
}
