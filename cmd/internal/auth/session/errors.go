package session

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")

	// ErrMissingToken is returned when an operation needs a session token and got none.
	ErrMissingToken = errors.New("missing session token")
)
