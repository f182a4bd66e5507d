// Package password hashes and verifies CRM user passwords with Argon2id.
//
// Hashes use the PHC string form
// $argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>. Stored hashes
// are untrusted input: Verify refuses parameters far above the configured
// cost so a tampered row cannot pin the CPU.
package password
