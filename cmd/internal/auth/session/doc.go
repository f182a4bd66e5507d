// Package session tracks presence sessions for signed-in CRM users.
//
// A session is created at login and identified by an opaque, random session
// token that is independent of the JWT access token. Clients keep it alive with
// heartbeats; logout or the idle sweep ends it. An ended session is terminal:
// heartbeats never make it active again.
//
// Session tokens are stored hashed (HMAC-SHA256 when CRM_TOKEN_HMAC_KEY is
// set, otherwise SHA-256). Each row also carries a ULID that access tokens
// reference in their "sid" claim, so logout can end the session without the
// session token.
package session
