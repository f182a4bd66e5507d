// Package identity is the CRM's credential directory.
//
// It stores users with their role and Argon2id password hash, resolves the
// capability list of each role, and verifies login credentials for the auth
// gateway. Unknown users cost the same hashing work as known ones.
package identity
