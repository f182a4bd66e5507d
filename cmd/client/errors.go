package client

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is returned to every caller waiting on a refresh that
	// failed. The stored tokens are gone; the user must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthorized is returned when a replayed call is rejected again.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotLoggedIn is returned by helpers that need stored tokens.
	ErrNotLoggedIn = errors.New("not logged in")
)

// APIError is a non-success answer from the auth API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" && e.Reason != e.Code {
		return fmt.Sprintf("auth api: %d %s (%s): %s", e.Status, e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("auth api: %d %s: %s", e.Status, e.Code, e.Message)
}
