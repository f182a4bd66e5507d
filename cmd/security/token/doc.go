// Package token provides hashing and generation primitives for bearer values
// that the server stores or compares: JWT revocation hashes and opaque
// session tokens.
//
// Stored hashes are 64-char lowercase hex. Revocation rows always use plain
// SHA-256 of the raw JWT. Session tokens use HMAC-SHA256 when a key is
// configured (CRM_TOKEN_HMAC_KEY) and plain SHA-256 otherwise.
package token
