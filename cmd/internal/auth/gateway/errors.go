package gateway

import "errors"

var (
	// ErrAuthenticationFailed is returned for unknown users and wrong passwords alike.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrForbiddenRole is returned when valid credentials belong to a role that may not sign in.
	ErrForbiddenRole = errors.New("role not allowed")

	// ErrBlacklisted is returned for a revoked token.
	ErrBlacklisted = errors.New("token blacklisted")

	// ErrRevocationFailed is returned when logout could not persist the revocation.
	ErrRevocationFailed = errors.New("revocation failed")

	// ErrInvalidRequest is returned for missing input.
	ErrInvalidRequest = errors.New("invalid request")
)
