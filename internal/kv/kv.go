// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

// Package kv provides the shared key-value store backing Zenith's identity core.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a requested key does not exist or has expired.
var ErrKeyNotFound = errors.New("key not found")

// Store is the key-value store contract shared by all Zenith components.
//
// Blob keys (Get/Set/SetNX/Delete) and counter keys (Incr) live in separate
// namespaces; incrementing a key never collides with a blob stored under the
// same name.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrKeyNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any prior value.
	// A non-zero ttl makes the entry expire after that duration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value under key only if the key is currently absent.
	// Returns true if the value was stored. The check-and-set is atomic
	// against concurrent SetNX calls for the same key.
	SetNX(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the counter stored under key and returns
	// the new value. A missing counter starts at zero, so the first Incr
	// returns 1. Counter values are never reused or reset.
	Incr(ctx context.Context, key string) (int64, error)

	// DeleteExpired removes all expired entries and returns the count of
	// deleted records.
	DeleteExpired(ctx context.Context) (int64, error)
}
