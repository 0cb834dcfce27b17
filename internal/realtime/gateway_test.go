// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package realtime

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drainOne(t *testing.T, conn *Conn) Event {
	t.Helper()

	select {
	case raw, ok := <-conn.Outbox():
		require.True(t, ok, "outbox closed unexpectedly")
		var event Event
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestGateway_AttachAutoSubscribesDefaultChannel(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)
	gw.Attach(conn)
	defer gw.Detach(conn)

	assert.Equal(t, 1, gw.Subscribers(DefaultChannel))

	event, err := NewEvent(DefaultChannel, "test.ping", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, gw.Publish(event))

	got := drainOne(t, conn)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, DefaultChannel, got.Channel)
	assert.Equal(t, "test.ping", got.Type)
}

func TestGateway_PublishReachesAllSubscribers(t *testing.T) {
	gw := NewGateway()

	conns := make([]*Conn, 3)
	for i := range conns {
		conns[i] = NewConn(0)
		gw.Attach(conns[i])
		gw.Subscribe(conns[i], "rooms.lobby")
	}
	defer func() {
		for _, c := range conns {
			gw.Detach(c)
		}
	}()

	event, err := NewEvent("rooms.lobby", "test.broadcast", nil)
	require.NoError(t, err)
	require.NoError(t, gw.Publish(event))

	for _, c := range conns {
		got := drainOne(t, c)
		assert.Equal(t, event.ID, got.ID)
	}
}

func TestGateway_PublishSkipsNonSubscribers(t *testing.T) {
	gw := NewGateway()

	subscriber := NewConn(0)
	bystander := NewConn(0)
	gw.Attach(subscriber)
	gw.Attach(bystander)
	gw.Subscribe(subscriber, "rooms.private")
	defer gw.Detach(subscriber)
	defer gw.Detach(bystander)

	event, err := NewEvent("rooms.private", "test.secret", nil)
	require.NoError(t, err)
	require.NoError(t, gw.Publish(event))

	drainOne(t, subscriber)

	select {
	case raw := <-bystander.Outbox():
		t.Fatalf("bystander received event: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateway_PerConnectionFIFO(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(10)
	gw.Attach(conn)
	defer gw.Detach(conn)

	for i := range 5 {
		event, err := NewEvent(DefaultChannel, "test.seq", map[string]int{"seq": i})
		require.NoError(t, err)
		require.NoError(t, gw.Publish(event))
	}

	for i := range 5 {
		got := drainOne(t, conn)
		var payload map[string]int
		require.NoError(t, json.Unmarshal(got.Payload, &payload))
		assert.Equal(t, i, payload["seq"], "events must arrive in publish order")
	}
}

func TestGateway_SubscribeAfterPublishMissesEvent(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)
	gw.Attach(conn)
	defer gw.Detach(conn)

	event, err := NewEvent("rooms.late", "test.early", nil)
	require.NoError(t, err)
	require.NoError(t, gw.Publish(event))

	gw.Subscribe(conn, "rooms.late")

	select {
	case raw := <-conn.Outbox():
		t.Fatalf("late subscriber received earlier event: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateway_SubscribeIsIdempotent(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)
	gw.Attach(conn)
	defer gw.Detach(conn)

	gw.Subscribe(conn, "rooms.dup")
	gw.Subscribe(conn, "rooms.dup")
	assert.Equal(t, 1, gw.Subscribers("rooms.dup"))

	event, err := NewEvent("rooms.dup", "test.once", nil)
	require.NoError(t, err)
	require.NoError(t, gw.Publish(event))

	drainOne(t, conn)
	select {
	case <-conn.Outbox():
		t.Fatal("duplicate delivery for doubly subscribed connection")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateway_SubscribeRequiresAttach(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)

	gw.Subscribe(conn, "rooms.orphan")
	assert.Equal(t, 0, gw.Subscribers("rooms.orphan"))
}

func TestGateway_Unsubscribe(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)
	gw.Attach(conn)
	defer gw.Detach(conn)

	gw.Subscribe(conn, "rooms.leave")
	require.Equal(t, 1, gw.Subscribers("rooms.leave"))

	gw.Unsubscribe(conn, "rooms.leave")
	assert.Equal(t, 0, gw.Subscribers("rooms.leave"))

	// Unsubscribing from a channel the connection never joined is a no-op.
	gw.Unsubscribe(conn, "rooms.never")
}

func TestGateway_DetachRemovesAllSubscriptions(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)
	gw.Attach(conn)
	gw.Subscribe(conn, "rooms.a")
	gw.Subscribe(conn, "rooms.b")

	gw.Detach(conn)

	assert.Equal(t, 0, gw.Subscribers(DefaultChannel))
	assert.Equal(t, 0, gw.Subscribers("rooms.a"))
	assert.Equal(t, 0, gw.Subscribers("rooms.b"))

	_, open := <-conn.Outbox()
	assert.False(t, open, "outbox must be closed after detach")
}

func TestGateway_DetachIsIdempotent(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)
	gw.Attach(conn)

	gw.Detach(conn)
	gw.Detach(conn)
}

func TestGateway_PublishDropsOnFullBuffer(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(1)
	gw.Attach(conn)
	defer gw.Detach(conn)

	first, err := NewEvent(DefaultChannel, "test.fill", nil)
	require.NoError(t, err)
	require.NoError(t, gw.Publish(first))

	// Buffer is full; this publish must not block and the event is lost
	// for this subscriber.
	overflow, err := NewEvent(DefaultChannel, "test.overflow", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, gw.Publish(overflow))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber buffer")
	}

	got := drainOne(t, conn)
	assert.Equal(t, first.ID, got.ID)
}

func TestGateway_PublishAfterDetachDoesNotPanic(t *testing.T) {
	gw := NewGateway()
	conn := NewConn(0)
	gw.Attach(conn)
	gw.Detach(conn)

	event, err := NewEvent(DefaultChannel, "test.ghost", nil)
	require.NoError(t, err)
	assert.NoError(t, gw.Publish(event))
}

func TestGateway_ConcurrentPublishAndChurn(t *testing.T) {
	gw := NewGateway()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 50 {
			conn := NewConn(0)
			gw.Attach(conn)
			gw.Subscribe(conn, fmt.Sprintf("rooms.%d", i%4))
			gw.Detach(conn)
		}
	}()

	for range 50 {
		event, err := NewEvent(DefaultChannel, "test.churn", nil)
		require.NoError(t, err)
		require.NoError(t, gw.Publish(event))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("churn goroutine did not finish")
	}
}

func TestConn_EnqueueAfterCloseReturnsFalse(t *testing.T) {
	conn := NewConn(4)
	conn.close()
	assert.False(t, conn.enqueue([]byte("late")))
	conn.close()
}

func TestConn_MarkerRoundTrip(t *testing.T) {
	conn := NewConn(0)
	assert.Empty(t, conn.Marker())

	conn.setMarker("user:42")
	assert.Equal(t, "user:42", conn.Marker())

	// Rebinding replaces the marker.
	conn.setMarker("user:7")
	assert.Equal(t, "user:7", conn.Marker())
}
