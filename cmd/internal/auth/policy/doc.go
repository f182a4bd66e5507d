// Package policy decides which roles may sign in and caches the capability
// list of each role.
package policy
