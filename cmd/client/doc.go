// Package client is the Go consumer of the CRM auth API.
//
// Client.Do attaches the access token to every call. When calls come back 401
// the client refreshes the access token exactly once per expiry, however many
// calls were in flight, and replays the waiting calls with the new token. A
// replayed call that is rejected again is returned to its caller as
// ErrUnauthorized; it never triggers a second refresh. When the refresh
// itself fails, stored tokens are dropped, every waiting call gets
// ErrSessionExpired and the OnSessionExpired hook runs once. An explicit
// Client.Refresh takes part in the same protocol.
package client
