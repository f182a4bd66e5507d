package identity

import "strings"

// NormalizeLogin canonicalizes a username or email for lookup: trimmed and
// lower-cased.
func NormalizeLogin(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRole canonicalizes a role name the same way.
func NormalizeRole(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
