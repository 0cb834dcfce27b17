// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/zenithweb/zenith/internal/kv"
)

// uidCounterKey is the atomic counter behind uid allocation. Uids are
// strictly increasing and never reused.
const uidCounterKey = "uid_counter"

// Service runs the registration and login flows over the identity stores.
type Service struct {
	store       kv.Store
	directory   *Directory
	credentials *CredentialStore
	users       *UserStore
	sessions    *SessionManager
	logger      *slog.Logger
}

// NewService creates a Service with a no-op logger.
func NewService(store kv.Store, directory *Directory, credentials *CredentialStore, users *UserStore, sessions *SessionManager) *Service {
	return NewServiceWithLogger(store, directory, credentials, users, sessions, slog.New(slog.DiscardHandler))
}

// NewServiceWithLogger creates a Service with the provided logger.
func NewServiceWithLogger(store kv.Store, directory *Directory, credentials *CredentialStore, users *UserStore, sessions *SessionManager, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		directory:   directory,
		credentials: credentials,
		users:       users,
		sessions:    sessions,
		logger:      logger,
	}
}

// Register creates a new account: allocates a uid, reserves name then email
// in the directory, persists the credential, and saves the initial user
// record. A failed email reservation rolls back the name reservation so the
// name is not squatted by the failed attempt.
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	if err := ValidateUsername(name); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	uid, err := s.store.Incr(ctx, uidCounterKey)
	if err != nil {
		return nil, oops.Code("AUTH_UID_ALLOC_FAILED").
			With("operation", "increment uid counter").
			Wrap(err)
	}

	ok, err := s.directory.Reserve(ctx, name, uid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code("AUTH_NAME_TAKEN").
			With("field", "name").
			Wrap(ErrNameTaken)
	}

	ok, err = s.directory.Reserve(ctx, email, uid)
	if err != nil {
		s.rollbackReservation(ctx, name)
		return nil, err
	}
	if !ok {
		s.rollbackReservation(ctx, name)
		return nil, oops.Code("AUTH_EMAIL_TAKEN").
			With("field", "email").
			Wrap(ErrEmailTaken)
	}

	if err := s.credentials.Set(ctx, uid, password); err != nil {
		s.rollbackReservation(ctx, name)
		s.rollbackReservation(ctx, email)
		return nil, err
	}

	user := &User{ID: uid, Level: DefaultLevel, Name: name, Email: email}
	if err := s.users.Save(ctx, user); err != nil {
		s.rollbackReservation(ctx, name)
		s.rollbackReservation(ctx, email)
		return nil, err
	}

	s.logger.Info("user registered", "uid", uid, "name", name)
	return user, nil
}

// rollbackReservation undoes a directory reservation, best effort. The uid
// counter is never rolled back; uids are never reused.
func (s *Service) rollbackReservation(ctx context.Context, identifier string) {
	if err := s.directory.Release(ctx, identifier); err != nil {
		s.logger.Error("registration rollback failed",
			"identifier", NormalizeIdentifier(identifier),
			"error", err,
		)
	}
}

// Login verifies the identifier/password pair and mints a session token.
// Unknown identifier and wrong password both fail with ErrInvalidCredentials;
// a dummy verification keeps the timing of the two paths aligned.
func (s *Service) Login(ctx context.Context, identifier, password string) (*User, string, error) {
	uid, err := s.directory.Lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = verifyAgainstBlob(password, dummyCredentialBlob) //nolint:errcheck // timing alignment only
			return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, "", err
	}

	valid, err := s.credentials.Verify(ctx, uid, password)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			// Data-integrity failure, not a wrong password. Loud by design.
			s.logger.Error("corrupt credential record", "uid", uid, "error", err)
		}
		return nil, "", err
	}
	if !valid {
		return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	user, err := s.users.Load(ctx, uid)
	if err != nil {
		return nil, "", err
	}

	token, err := s.sessions.Create(ctx, uid)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user logged in", "uid", uid)
	return user, token, nil
}

// Logout revokes a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// Authenticate resolves a session token and loads the user behind it.
// Returns ErrUnauthenticated when the token is absent or expired.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	uid, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.users.Load(ctx, uid)
}
