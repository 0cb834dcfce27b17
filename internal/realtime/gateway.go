// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package realtime

import (
	"log/slog"
	"sync"

	"github.com/zenithweb/zenith/internal/observability"
)

// Gateway routes published events to channel subscribers and owns the
// connection registry. Publish snapshots the current subscriber set; a
// subscribe after a publish never sees that publish.
type Gateway struct {
	mu       sync.RWMutex
	conns    map[*Conn]struct{}
	channels map[string]map[*Conn]struct{}
	logger   *slog.Logger
}

// NewGateway creates a gateway with a no-op logger.
func NewGateway() *Gateway {
	return NewGatewayWithLogger(slog.New(slog.DiscardHandler))
}

// NewGatewayWithLogger creates a gateway with the provided logger.
func NewGatewayWithLogger(logger *slog.Logger) *Gateway {
	return &Gateway{
		conns:    make(map[*Conn]struct{}),
		channels: make(map[string]map[*Conn]struct{}),
		logger:   logger,
	}
}

// Attach registers a connection and auto-subscribes it to the default
// channel.
func (g *Gateway) Attach(conn *Conn) {
	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.subscribeLocked(conn, DefaultChannel)
	g.mu.Unlock()

	observability.RecordConnectionOpened()
	g.logger.Debug("connection attached", "conn_id", conn.ID().String())
}

// Detach removes a connection from every channel and closes its outbox.
// Must be called promptly when the transport observes a close; stale
// subscriptions are a correctness bug, not just leaked memory.
func (g *Gateway) Detach(conn *Conn) {
	g.mu.Lock()
	if _, attached := g.conns[conn]; !attached {
		g.mu.Unlock()
		return
	}
	delete(g.conns, conn)
	for name, subs := range g.channels {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(g.channels, name)
		}
	}
	g.mu.Unlock()

	conn.close()
	observability.RecordConnectionClosed()
	g.logger.Debug("connection detached", "conn_id", conn.ID().String())
}

// Subscribe registers a connection as a subscriber of the named channel.
// Idempotent; effective for publishes that start after it returns.
func (g *Gateway) Subscribe(conn *Conn, channel string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, attached := g.conns[conn]; !attached {
		g.logger.Debug("subscribe for unattached connection",
			"conn_id", conn.ID().String(),
			"channel", channel,
		)
		return
	}
	g.subscribeLocked(conn, channel)
}

func (g *Gateway) subscribeLocked(conn *Conn, channel string) {
	subs, ok := g.channels[channel]
	if !ok {
		subs = make(map[*Conn]struct{})
		g.channels[channel] = subs
	}
	subs[conn] = struct{}{}
}

// Unsubscribe removes a connection from the named channel.
func (g *Gateway) Unsubscribe(conn *Conn, channel string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	subs, ok := g.channels[channel]
	if !ok {
		return
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(g.channels, channel)
	}
}

// SetMarker stamps a connection with an identity marker on behalf of the
// binder. The marker's content is the binder's concern; the gateway only
// stores it for the connection's lifetime.
func (g *Gateway) SetMarker(conn *Conn, marker string) {
	conn.setMarker(marker)
}

// Publish delivers event to every current subscriber of its channel.
// Delivery is best-effort and unordered across subscribers; per subscriber,
// events arrive in publish order. A subscriber with a full buffer misses the
// event.
func (g *Gateway) Publish(event Event) error {
	message, err := event.Encode()
	if err != nil {
		return err
	}

	g.mu.RLock()
	subs := g.channels[event.Channel]
	snapshot := make([]*Conn, 0, len(subs))
	for conn := range subs {
		snapshot = append(snapshot, conn)
	}
	g.mu.RUnlock()

	for _, conn := range snapshot {
		if !conn.enqueue(message) {
			observability.RecordEventDropped(event.Channel)
			g.logger.Warn("event dropped: subscriber buffer full or closed",
				"channel", event.Channel,
				"event_id", event.ID.String(),
				"event_type", event.Type,
				"conn_id", conn.ID().String(),
			)
		}
	}

	observability.RecordEventPublished(event.Channel)
	return nil
}

// Subscribers returns the current subscriber count for a channel.
func (g *Gateway) Subscribers(channel string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.channels[channel])
}
