// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/zenithweb/zenith/internal/kv"
)

// Directory maps normalized login identifiers (names and emails share one
// namespace) to user ids, enforcing global uniqueness.
type Directory struct {
	store kv.Store
}

// NewDirectory creates a new Directory.
func NewDirectory(store kv.Store) *Directory {
	return &Directory{store: store}
}

// NormalizeIdentifier canonicalizes an identifier for directory lookups.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func directoryKey(identifier string) string {
	return "directory:" + NormalizeIdentifier(identifier)
}

// Reserve atomically maps identifier to uid if the identifier is free.
// Returns false when the identifier is already taken.
func (d *Directory) Reserve(ctx context.Context, identifier string, uid int64) (bool, error) {
	ok, err := d.store.SetNX(ctx, directoryKey(identifier), []byte(strconv.FormatInt(uid, 10)))
	if err != nil {
		return false, oops.Code("DIRECTORY_RESERVE_FAILED").
			With("operation", "conditional insert").
			With("identifier", NormalizeIdentifier(identifier)).
			Wrap(err)
	}
	return ok, nil
}

// Lookup returns the uid mapped to identifier.
// Returns ErrNotFound when the identifier is unmapped.
func (d *Directory) Lookup(ctx context.Context, identifier string) (int64, error) {
	value, err := d.store.Get(ctx, directoryKey(identifier))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return 0, oops.Code("DIRECTORY_ENTRY_NOT_FOUND").
			With("identifier", NormalizeIdentifier(identifier)).
			Wrap(ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("DIRECTORY_LOOKUP_FAILED").
			With("operation", "get entry").
			With("identifier", NormalizeIdentifier(identifier)).
			Wrap(err)
	}

	uid, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, oops.Code("DIRECTORY_CORRUPT_ENTRY").
			With("identifier", NormalizeIdentifier(identifier)).
			Wrap(err)
	}
	return uid, nil
}

// Release unconditionally removes an identifier mapping. Used only to roll
// back a partially completed registration.
func (d *Directory) Release(ctx context.Context, identifier string) error {
	if err := d.store.Delete(ctx, directoryKey(identifier)); err != nil {
		return oops.Code("DIRECTORY_RELEASE_FAILED").
			With("operation", "delete entry").
			With("identifier", NormalizeIdentifier(identifier)).
			Wrap(err)
	}
	return nil
}
