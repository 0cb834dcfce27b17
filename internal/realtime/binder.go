// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/zenithweb/zenith/internal/auth"
)

// markerPrefix tags identity markers. Everything after it is the uid in
// decimal.
const markerPrefix = "user:"

// SessionResolver resolves a session token to a user id.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// UserLoader loads a user record by id.
type UserLoader interface {
	Load(ctx context.Context, uid int64) (*auth.User, error)
}

// MarkerSetter stamps a connection with an identity marker. Implemented by
// the gateway, which owns connection state.
type MarkerSetter interface {
	SetMarker(conn *Conn, marker string)
}

// HelloAck is the handshake acknowledgment returned to a freshly bound
// connection.
type HelloAck struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`
}

// Binder bridges cookie-based HTTP identity to persistent connections that
// cannot carry cookies the same way. After a successful handshake the
// connection's marker is trusted without re-resolving the session; that
// holds only as long as the transport guarantees markers cannot be forged
// or moved between connections.
type Binder struct {
	sessions SessionResolver
	users    UserLoader
	gateway  MarkerSetter
	logger   *slog.Logger
}

// NewBinder creates a Binder with a no-op logger.
// Returns an error if any required dependency is nil.
func NewBinder(sessions SessionResolver, users UserLoader, gateway MarkerSetter) (*Binder, error) {
	return NewBinderWithLogger(sessions, users, gateway, slog.New(slog.DiscardHandler))
}

// NewBinderWithLogger creates a Binder with the provided logger.
// Returns an error if any required dependency is nil.
func NewBinderWithLogger(sessions SessionResolver, users UserLoader, gateway MarkerSetter, logger *slog.Logger) (*Binder, error) {
	if sessions == nil {
		return nil, oops.Errorf("session resolver is required")
	}
	if users == nil {
		return nil, oops.Errorf("user loader is required")
	}
	if gateway == nil {
		return nil, oops.Errorf("marker setter is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Binder{
		sessions: sessions,
		users:    users,
		gateway:  gateway,
		logger:   logger,
	}, nil
}

// MarkerFor builds the identity marker for a uid.
func MarkerFor(uid int64) string {
	return fmt.Sprintf("%s%d", markerPrefix, uid)
}

// Bind performs the identity-binding handshake: resolves the session token,
// loads the user, stamps the connection, and returns the handshake ack.
// Fails with auth.ErrUnauthenticated when the token does not resolve.
func (b *Binder) Bind(ctx context.Context, conn *Conn, token string) (HelloAck, error) {
	uid, err := b.sessions.Resolve(ctx, token)
	if err != nil {
		return HelloAck{}, err
	}

	user, err := b.users.Load(ctx, uid)
	if err != nil {
		return HelloAck{}, err
	}

	b.gateway.SetMarker(conn, MarkerFor(uid))
	b.logger.Info("connection bound",
		"conn_id", conn.ID().String(),
		"uid", uid,
	)

	return HelloAck{UID: uid, Name: user.Name}, nil
}

// Identity returns the uid bound to a connection.
// Fails with auth.ErrForbidden when the marker is absent or malformed; a
// valid marker is trusted without re-verification.
func (b *Binder) Identity(conn *Conn) (int64, error) {
	return ParseMarker(conn.Marker())
}

// ParseMarker extracts the uid from an identity marker.
func ParseMarker(marker string) (int64, error) {
	rest, found := strings.CutPrefix(marker, markerPrefix)
	if !found {
		return 0, oops.Code("REALTIME_FORBIDDEN").
			Wrap(auth.ErrForbidden)
	}
	uid, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || uid <= 0 {
		return 0, oops.Code("REALTIME_FORBIDDEN").
			With("marker", marker).
			Wrap(auth.ErrForbidden)
	}
	return uid, nil
}
