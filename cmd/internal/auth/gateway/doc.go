// Package gateway orchestrates login, refresh, logout and validation.
//
// Credential checks and role admission are delegated to collaborators; the
// gateway owns the order of operations and the token/session state machine:
// issued -> valid -> expired | revoked, with no way back from either end
// state.
//
// Refresh issues a new access token only. The refresh token itself is not
// rotated, so a captured refresh token stays usable until it expires or is
// blacklisted at logout.
package gateway
