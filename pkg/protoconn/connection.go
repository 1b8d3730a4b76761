// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package protoconn wraps one QUIC stream as a bidirectional byte pipe: a
// strict-FIFO write queue drained by a background pump, and inbound bytes
// handed to the owner's data handler as they arrive. It knows nothing about
// message framing — pkg/demux and pkg/wire own that — its only job is
// getting bytes on and off the wire and reporting exactly one close event.
package protoconn

import (
	"sync"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/platform"
)

// DataHandler receives raw bytes read off the stream, in order.
type DataHandler func(body []byte)

// DestroyObserver is notified when a Connection finishes tearing down, so
// the owning manager can reap whatever per-stream state it keeps.
type DestroyObserver interface {
	OnConnectionDestroyed(instanceID, streamID uint64)
}

// Connection is one bidirectional CBOR message stream on top of one QUIC
// stream. Write calls from the same Connection are delivered to the wire in
// the order they were made; there is no ordering guarantee between
// different Connections sharing a QUIC connection or transport.
type Connection struct {
	runner     platform.TaskRunner
	stream     platform.QuicStream
	instanceID uint64
	streamID   uint64
	manager    DestroyObserver

	onData  DataHandler
	onClose func()

	mu          sync.Mutex
	queue       [][]byte
	pumping     bool
	writeClosed bool

	closeOnce sync.Once
	destroyed bool
}

// New wraps stream, immediately starting its background read loop. instanceID
// identifies the QUIC connection the stream belongs to, for delivery to a
// demuxer alongside the stream's own id.
func New(runner platform.TaskRunner, stream platform.QuicStream, instanceID uint64, manager DestroyObserver) *Connection {
	c := &Connection{
		runner:     runner,
		stream:     stream,
		instanceID: instanceID,
		streamID:   uint64(stream.StreamID()),
		manager:    manager,
	}
	go c.readLoop()
	return c
}

// StreamID returns the underlying QUIC stream's id.
func (c *Connection) StreamID() uint64 { return c.streamID }

// SetOnData installs the handler bytes read off the stream are delivered
// to, invoked on the task runner's thread.
func (c *Connection) SetOnData(h DataHandler) { c.onData = h }

// SetOnClose installs the handler fired exactly once, whether the local
// side destroyed the connection or the peer's FIN was observed on read.
func (c *Connection) SetOnClose(h func()) { c.onClose = h }

// Write enqueues b for transmission, returning an error immediately if the
// write end has already been closed rather than queuing doomed data.
func (c *Connection) Write(b []byte) error {
	c.mu.Lock()
	if c.writeClosed {
		c.mu.Unlock()
		return ospcast.New(ospcast.ErrOperationInvalid, "protoconn.Connection.Write: write end closed", nil)
	}
	cp := append([]byte(nil), b...)
	c.queue = append(c.queue, cp)
	alreadyPumping := c.pumping
	c.pumping = true
	c.mu.Unlock()

	if !alreadyPumping {
		go c.pump()
	}
	return nil
}

// pump drains the write queue strictly in FIFO order on a background
// goroutine, since the underlying stream write can block; queue mutation
// itself stays behind the mutex so Write can be called from the task
// runner's thread without blocking on stream I/O.
func (c *Connection) pump() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.pumping = false
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if _, err := c.stream.Write(next); err != nil {
			c.runner.PostTask(c.Destroy)
			return
		}
	}
}

// CloseWriteEnd half-closes the stream: the peer observes EOF on its read
// of this stream, while this side's read direction stays usable.
func (c *Connection) CloseWriteEnd() error {
	c.mu.Lock()
	if c.writeClosed {
		c.mu.Unlock()
		return nil
	}
	c.writeClosed = true
	c.mu.Unlock()
	return c.stream.Close()
}

// readLoop feeds inbound bytes to onData until the stream errors or the
// peer closes its write end, at which point it hands off to Destroy.
func (c *Connection) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			c.runner.PostTask(func() {
				if c.onData != nil {
					c.onData(data)
				}
			})
		}
		if err != nil {
			c.runner.PostTask(c.Destroy)
			return
		}
	}
}

// Destroy always half-closes before dropping the underlying stream
// reference, fires OnClose exactly once regardless of how many times or
// from which direction Destroy is reached, and notifies the owning
// manager so per-stream bookkeeping can be reaped. Safe to call more than
// once; only the first call has any effect.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	_ = c.CloseWriteEnd()
	c.stream.CancelRead(0)

	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})

	if c.manager != nil {
		c.manager.OnConnectionDestroyed(c.instanceID, c.streamID)
	}
}
