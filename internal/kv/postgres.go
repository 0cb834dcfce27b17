// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package kv

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// connectAttempts bounds the initial connection ping retries.
const connectAttempts = 5

// DB abstracts the pgx pool operations used by PostgresStore.
// Satisfied by *pgxpool.Pool and pgxmock.PgxPoolIface.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db DB
}

// NewPostgresStore connects to PostgreSQL and verifies the connection,
// retrying the initial ping with fibonacci backoff.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("KV_CONNECT_FAILED").
			With("operation", "create connection pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectAttempts, retry.NewFibonacci(500*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(pool.Ping(ctx))
	}); err != nil {
		pool.Close()
		return nil, oops.Code("KV_CONNECT_FAILED").
			With("operation", "ping database").
			Wrap(err)
	}

	return &PostgresStore{db: pool}, nil
}

// NewPostgresStoreWithDB creates a PostgresStore over an existing pool.
func NewPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// Get returns the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, oops.Code("KV_GET_FAILED").
			With("operation", "select entry").
			With("key", key).
			Wrap(err)
	}
	return value, nil
}

// Set stores value under key, overwriting any prior value.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return oops.Code("KV_SET_FAILED").
			With("operation", "upsert entry").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// SetNX stores value under key only if the key is currently absent.
// An expired entry counts as absent.
func (s *PostgresStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	// Clear an expired row first so the insert below sees a free key.
	_, err := s.db.Exec(ctx, `
		DELETE FROM kv_entries
		WHERE key = $1 AND expires_at IS NOT NULL AND expires_at <= now()
	`, key)
	if err != nil {
		return false, oops.Code("KV_SETNX_FAILED").
			With("operation", "clear expired entry").
			With("key", key).
			Wrap(err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO kv_entries (key, value) VALUES ($1, $2)
	`, key, value)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, nil
		}
		return false, oops.Code("KV_SETNX_FAILED").
			With("operation", "insert entry").
			With("key", key).
			Wrap(err)
	}
	return true, nil
}

// Delete removes a key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	if err != nil {
		return oops.Code("KV_DELETE_FAILED").
			With("operation", "delete entry").
			With("key", key).
			Wrap(err)
	}
	return nil
}

// Incr atomically increments the counter stored under key.
func (s *PostgresStore) Incr(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO kv_counters (key, value) VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET value = kv_counters.value + 1
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, oops.Code("KV_INCR_FAILED").
			With("operation", "upsert counter").
			With("key", key).
			Wrap(err)
	}
	return value, nil
}

// DeleteExpired removes all expired entries.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()
	`)
	if err != nil {
		return 0, oops.Code("KV_SWEEP_FAILED").
			With("operation", "delete expired entries").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}
