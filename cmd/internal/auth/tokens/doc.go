// Package tokens issues and verifies the CRM's signed bearer tokens.
//
// Access and refresh tokens are HS256 JWTs. Each token type has its own
// 256-bit secret, generated once through a SecretStore and persisted; secrets
// change only through an explicit Rotate, which invalidates every outstanding
// token of that type.
//
// Decoding fails fast, in this order: malformed, unsupported_algorithm,
// bad_signature, expired, wrong_type, wrong_issuer. A client IP that differs
// from the one embedded at issuance is logged, and rejected only under the
// "reject" IP policy.
package tokens
