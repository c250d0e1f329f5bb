// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., name taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but not allowed to act (e.g., not the owner).
	ErrForbidden = errors.New("forbidden")

	// ErrNotMember indicates the account does not belong to the group.
	ErrNotMember = errors.New("not a member")

	// ErrInvalidInput indicates a malformed or rejected payload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrReservedName indicates a reserved display name used from a disallowed address.
	ErrReservedName = errors.New("reserved name")
)
