// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

// Package auth provides Zenith's identity core: credentials, the identifier
// directory, user records, sessions, and the registration/login flows.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/zenithweb/zenith/internal/kv"
)

// Credential blob layout: tag(1) || sha256(password||salt)(32) || salt(32).
const (
	credentialSchemeSHA256 byte = 0x01

	credentialHashLen = sha256.Size
	credentialSaltLen = 32
	credentialBlobLen = 1 + credentialHashLen + credentialSaltLen
)

// ErrEmptyPassword is returned when attempting to store an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// dummyCredentialBlob is verified against when a login identifier is unknown,
// keeping response time flat so timing cannot reveal account existence.
// It is structurally valid but matches no password in practice.
var dummyCredentialBlob = func() []byte {
	blob := make([]byte, credentialBlobLen)
	blob[0] = credentialSchemeSHA256
	return blob
}()

// CredentialStore persists per-user password credentials as fixed-length
// tagged blobs in the shared key-value store.
type CredentialStore struct {
	store kv.Store
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(store kv.Store) *CredentialStore {
	return &CredentialStore{store: store}
}

func credentialKey(uid int64) string {
	return fmt.Sprintf("credential:%d", uid)
}

// Set hashes password with a fresh random salt and persists the credential
// blob for uid, overwriting any prior value.
func (c *CredentialStore) Set(ctx context.Context, uid int64, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	salt := make([]byte, credentialSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	blob := make([]byte, 0, credentialBlobLen)
	blob = append(blob, credentialSchemeSHA256)
	blob = append(blob, saltedHash(password, salt)...)
	blob = append(blob, salt...)

	if err := c.store.Set(ctx, credentialKey(uid), blob, 0); err != nil {
		return oops.Code("AUTH_CREDENTIAL_SET_FAILED").
			With("operation", "persist credential blob").
			With("uid", uid).
			Wrap(err)
	}
	return nil
}

// Verify checks password against the stored credential for uid.
// Returns (false, ErrNotFound) when no credential exists and ErrCorruptRecord
// when the blob fails structural validation; a wrong password is (false, nil).
func (c *CredentialStore) Verify(ctx context.Context, uid int64, password string) (bool, error) {
	blob, err := c.store.Get(ctx, credentialKey(uid))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return false, oops.Code("AUTH_CREDENTIAL_NOT_FOUND").
			With("uid", uid).
			Wrap(ErrNotFound)
	}
	if err != nil {
		return false, oops.Code("AUTH_CREDENTIAL_GET_FAILED").
			With("operation", "load credential blob").
			With("uid", uid).
			Wrap(err)
	}

	ok, err := verifyAgainstBlob(password, blob)
	if err != nil {
		return false, oops.Code("AUTH_CORRUPT_CREDENTIAL").
			With("uid", uid).
			With("blob_len", len(blob)).
			Wrap(err)
	}
	return ok, nil
}

// verifyAgainstBlob recomputes the salted hash and compares in constant time.
// Returns ErrCorruptRecord if the blob has the wrong length or scheme tag.
func verifyAgainstBlob(password string, blob []byte) (bool, error) {
	if len(blob) != credentialBlobLen {
		return false, ErrCorruptRecord
	}
	if blob[0] != credentialSchemeSHA256 {
		return false, ErrCorruptRecord
	}

	storedHash := blob[1 : 1+credentialHashLen]
	salt := blob[1+credentialHashLen:]

	computed := saltedHash(password, salt)
	return subtle.ConstantTimeCompare(computed, storedHash) == 1, nil
}

func saltedHash(password string, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write(salt)
	return h.Sum(nil)
}
