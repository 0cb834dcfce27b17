// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/zenithweb/zenith/internal/kv"
)

// Session token configuration.
const (
	// SessionTokenBytes of entropy per token; 32 bytes = 64 hex chars.
	SessionTokenBytes = 32

	// DefaultSessionTTL bounds how long a token stays valid.
	DefaultSessionTTL = 24 * time.Hour
)

// SessionManager issues opaque bearer tokens bound to user ids. Tokens are
// stored under their SHA-256 hash so a leaked store dump cannot be replayed.
type SessionManager struct {
	store kv.Store
	ttl   time.Duration
}

// NewSessionManager creates a SessionManager. A non-positive ttl falls back
// to DefaultSessionTTL.
func NewSessionManager(store kv.Store, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{store: store, ttl: ttl}
}

func sessionKey(token string) string {
	hash := sha256.Sum256([]byte(token))
	return "session:" + hex.EncodeToString(hash[:])
}

// Create mints a fresh token for uid and persists the mapping with the
// manager's TTL. The plaintext token is handed to the client as a capability;
// only its hash is stored.
func (m *SessionManager) Create(ctx context.Context, uid int64) (string, error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}
	token := hex.EncodeToString(tokenBytes)

	value := []byte(strconv.FormatInt(uid, 10))
	if err := m.store.Set(ctx, sessionKey(token), value, m.ttl); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("uid", uid).
			Wrap(err)
	}
	return token, nil
}

// Resolve returns the uid a token is bound to.
// Absent and expired tokens both return ErrUnauthenticated; the caller treats
// that as "not logged in", not as a hard failure.
func (m *SessionManager) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, oops.Code("SESSION_TOKEN_EMPTY").Wrap(ErrUnauthenticated)
	}

	value, err := m.store.Get(ctx, sessionKey(token))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, oops.Code("SESSION_INVALID").Wrap(ErrUnauthenticated)
	}
	if err != nil {
		return 0, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	uid, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, oops.Code("SESSION_CORRUPT_RECORD").Wrap(err)
	}
	return uid, nil
}

// Revoke invalidates a token immediately. Revoking an unknown token is not
// an error.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, sessionKey(token)); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}
