// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zenithweb/zenith/internal/auth"
)

const (
	// writeWait bounds a single outbound write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so pings go out before the
	// read deadline expires.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize bounds inbound client frames. Pager texts are short;
	// anything bigger is a misbehaving client.
	maxFrameSize = 4096
)

// Client method names.
const (
	methodHello       = "hello"
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
	methodPagerSend   = "pager.send"
)

// Server reply event types. Published events keep their own types; these
// cover the request/reply half of the protocol.
const (
	EventTypeHelloAck = "hello.ack"
	EventTypeError    = "error"
)

// clientFrame is the envelope for every inbound client message.
type clientFrame struct {
	Method  string `json:"method"`
	SID     string `json:"sid,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
}

// errorReply is the payload of an error event sent back to one client.
type errorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSHandler upgrades HTTP requests to WebSocket connections and bridges
// them onto the gateway. Each connection gets a read pump (this goroutine)
// and a write pump draining the connection's outbox.
type WSHandler struct {
	gateway    *Gateway
	binder     *Binder
	pager      *Pager
	logger     *slog.Logger
	sendBuffer int
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler. A non-positive sendBuffer falls
// back to the connection default. checkOrigin may be nil to accept only
// same-origin requests per the upgrader's default policy.
func NewWSHandler(gateway *Gateway, binder *Binder, pager *Pager, logger *slog.Logger, sendBuffer int, checkOrigin func(*http.Request) bool) *WSHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WSHandler{
		gateway:    gateway,
		binder:     binder,
		pager:      pager,
		logger:     logger,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Debug("websocket upgrade failed",
			"remote", r.RemoteAddr,
			"error", err,
		)
		return
	}

	conn := NewConn(h.sendBuffer)
	h.gateway.Attach(conn)

	h.logger.Info("websocket connected",
		"conn_id", conn.ID().String(),
		"remote", r.RemoteAddr,
	)

	go h.writePump(conn, ws)
	h.readPump(r.Context(), conn, ws)
}

// readPump consumes client frames until the connection dies, then detaches
// the connection. Detach closes the outbox, which in turn stops the write
// pump.
func (h *WSHandler) readPump(ctx context.Context, conn *Conn, ws *websocket.Conn) {
	defer func() {
		h.gateway.Detach(conn)
		//nolint:errcheck // close error on an already-failed socket is noise
		ws.Close()
	}()

	ws.SetReadLimit(maxFrameSize)
	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Debug("set read deadline failed", "conn_id", conn.ID().String(), "error", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				h.logger.Warn("websocket read failed",
					"conn_id", conn.ID().String(),
					"error", err,
				)
			} else {
				h.logger.Debug("websocket closed",
					"conn_id", conn.ID().String(),
					"error", err,
				)
			}
			return
		}

		h.handleFrame(ctx, conn, raw)
	}
}

// handleFrame dispatches one inbound frame. Protocol errors are reported to
// the client on the connection's own outbox; the connection stays up.
func (h *WSHandler) handleFrame(ctx context.Context, conn *Conn, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.replyError(conn, "bad_request", "malformed frame")
		return
	}

	switch frame.Method {
	case methodHello:
		ack, err := h.binder.Bind(ctx, conn, frame.SID)
		if err != nil {
			h.replyAuthError(conn, err)
			return
		}
		h.reply(conn, EventTypeHelloAck, ack)

	case methodSubscribe:
		if frame.Channel == "" {
			h.replyError(conn, "bad_request", "channel is required")
			return
		}
		h.gateway.Subscribe(conn, frame.Channel)

	case methodUnsubscribe:
		if frame.Channel == "" {
			h.replyError(conn, "bad_request", "channel is required")
			return
		}
		h.gateway.Unsubscribe(conn, frame.Channel)

	case methodPagerSend:
		if err := h.pager.Send(ctx, conn, frame.Text); err != nil {
			h.replyAuthError(conn, err)
			return
		}

	default:
		h.replyError(conn, "bad_request", "unknown method")
	}
}

// reply sends a request/reply event to one connection only.
func (h *WSHandler) reply(conn *Conn, eventType string, payload any) {
	event, err := NewEvent("", eventType, payload)
	if err != nil {
		h.logger.Error("encode reply failed",
			"conn_id", conn.ID().String(),
			"event_type", eventType,
			"error", err,
		)
		return
	}
	message, err := event.Encode()
	if err != nil {
		h.logger.Error("encode reply failed",
			"conn_id", conn.ID().String(),
			"event_type", eventType,
			"error", err,
		)
		return
	}
	if !conn.enqueue(message) {
		h.logger.Warn("reply dropped: outbox full or closed",
			"conn_id", conn.ID().String(),
			"event_type", eventType,
		)
	}
}

// replyAuthError maps identity errors onto wire error codes.
func (h *WSHandler) replyAuthError(conn *Conn, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		h.replyError(conn, "unauthenticated", "session is invalid or expired")
	case errors.Is(err, auth.ErrForbidden):
		h.replyError(conn, "forbidden", "connection has no bound identity")
	default:
		h.logger.Error("request failed",
			"conn_id", conn.ID().String(),
			"error", err,
		)
		h.replyError(conn, "internal", "internal error")
	}
}

func (h *WSHandler) replyError(conn *Conn, code, message string) {
	h.reply(conn, EventTypeError, errorReply{Code: code, Message: message})
}

// writePump drains the connection's outbox into the socket and keeps the
// connection alive with periodic pings. It exits when the outbox closes or
// a write fails.
func (h *WSHandler) writePump(conn *Conn, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		//nolint:errcheck // close error on teardown is noise
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Outbox():
			//nolint:errcheck // a failed deadline surfaces as a write error next
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // best-effort close frame
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed",
					"conn_id", conn.ID().String(),
					"error", err,
				)
				return
			}

		case <-ticker.C:
			//nolint:errcheck // a failed deadline surfaces as a write error next
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
