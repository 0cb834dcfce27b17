// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package realtime

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// defaultSendBuffer bounds the per-connection outbound queue.
const defaultSendBuffer = 100

// Conn is a transport-agnostic handle for one live connection. The transport
// layer drains Outbox into the wire; the gateway enqueues fan-out messages.
// Delivery within one connection is FIFO.
type Conn struct {
	id   ulid.ULID
	send chan []byte

	mu     sync.Mutex
	marker string
	closed bool
}

// NewConn creates a connection handle. A non-positive buffer falls back to
// the default.
func NewConn(buffer int) *Conn {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Conn{
		id:   ulid.Make(),
		send: make(chan []byte, buffer),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() ulid.ULID {
	return c.id
}

// Marker returns the identity marker, or "" when no identity is bound.
func (c *Conn) Marker() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marker
}

// setMarker stamps the connection with an identity marker. A connection has
// at most one marker; a rebind replaces it.
func (c *Conn) setMarker(marker string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marker = marker
}

// Outbox returns the channel the transport drains for outbound messages.
// It is closed when the connection is detached from the gateway.
func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

// enqueue offers a message to the outbound queue without blocking.
// Returns false when the connection is closed or its buffer is full.
func (c *Conn) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close shuts the outbound queue. Idempotent.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
