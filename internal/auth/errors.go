// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package auth

import "errors"

// Sentinel errors for the identity core. Callers branch with errors.Is; the
// service layer wraps these with oops codes for logging context.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredentials is returned on login failure. Unknown identifier
	// and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid name or password")

	// ErrNameTaken is returned when the requested login name is reserved.
	ErrNameTaken = errors.New("name is already taken")

	// ErrEmailTaken is returned when the requested email is reserved.
	ErrEmailTaken = errors.New("email is already taken")

	// ErrCorruptRecord is returned when a credential blob fails structural
	// validation. Fatal: indicates storage tampering or a bug, never a wrong
	// password.
	ErrCorruptRecord = errors.New("corrupt credential record")

	// ErrUnauthenticated is returned when no valid session backs a request.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden is returned when a realtime operation requires an identity
	// the connection has not bound.
	ErrForbidden = errors.New("forbidden")
)
