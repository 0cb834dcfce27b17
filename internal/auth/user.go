// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/samber/oops"

	"github.com/zenithweb/zenith/internal/kv"
)

// DefaultLevel is the membership level assigned at registration.
const DefaultLevel = 1

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 24
)

// usernameRegex matches names that start with a letter and contain only
// letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// emailRegex is a light structural check; real validation happens when mail
// is actually sent.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User is a registered account's mutable profile state.
// The id is assigned once at registration and never changes or gets reused.
type User struct {
	ID    int64  `json:"-"`
	Level int    `json:"level"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ValidateUsername validates a login name against the naming rules.
func ValidateUsername(name string) error {
	if name == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("name cannot be empty")
	}
	if len(name) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("name must be at least %d characters", MinUsernameLength)
	}
	if len(name) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("name must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(name) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("name must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail validates an email address structurally.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email address is not valid")
	}
	return nil
}

// UserStore persists user profile records in the shared key-value store.
type UserStore struct {
	store kv.Store
}

// NewUserStore creates a new UserStore.
func NewUserStore(store kv.Store) *UserStore {
	return &UserStore{store: store}
}

func userKey(uid int64) string {
	return fmt.Sprintf("user:%d", uid)
}

// Load returns the user record for uid. A missing record is valid initial
// state and yields a default-valued user (level 1, empty name and email).
func (s *UserStore) Load(ctx context.Context, uid int64) (*User, error) {
	user := &User{ID: uid, Level: DefaultLevel}

	data, err := s.store.Get(ctx, userKey(uid))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return user, nil
	}
	if err != nil {
		return nil, oops.Code("USER_LOAD_FAILED").
			With("operation", "get user record").
			With("uid", uid).
			Wrap(err)
	}

	if err := json.Unmarshal(data, user); err != nil {
		return nil, oops.Code("USER_CORRUPT_RECORD").
			With("uid", uid).
			Wrap(err)
	}
	return user, nil
}

// Save serializes the mutable profile fields and overwrites the record for
// the user's id. This is a full overwrite, not a merge.
func (s *UserStore) Save(ctx context.Context, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return oops.Code("USER_ENCODE_FAILED").
			With("uid", user.ID).
			Wrap(err)
	}

	if err := s.store.Set(ctx, userKey(user.ID), data, 0); err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "set user record").
			With("uid", user.ID).
			Wrap(err)
	}
	return nil
}
