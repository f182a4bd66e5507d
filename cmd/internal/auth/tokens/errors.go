package tokens

import (
	"errors"
	"fmt"
)

// Kind is a stable, client-visible decode failure category.
type Kind string

const (
	KindMalformed            Kind = "malformed"
	KindUnsupportedAlgorithm Kind = "unsupported_algorithm"
	KindBadSignature         Kind = "bad_signature"
	KindExpired              Kind = "expired"
	KindWrongType            Kind = "wrong_type"
	KindWrongIssuer          Kind = "wrong_issuer"
	KindIPMismatch           Kind = "ip_mismatch"
	KindInvalid              Kind = "invalid_token"
)

// Error is a token decode failure.
type Error struct {
	Kind Kind
}

func (e *Error) Error() string { return fmt.Sprintf("token %s", e.Kind) }

var (
	ErrMalformed            = &Error{Kind: KindMalformed}
	ErrUnsupportedAlgorithm = &Error{Kind: KindUnsupportedAlgorithm}
	ErrBadSignature         = &Error{Kind: KindBadSignature}
	ErrExpired              = &Error{Kind: KindExpired}
	ErrWrongType            = &Error{Kind: KindWrongType}
	ErrWrongIssuer          = &Error{Kind: KindWrongIssuer}
	ErrIPMismatch           = &Error{Kind: KindIPMismatch}

	// ErrInvalid covers every failure that is not one of the kinds above.
	ErrInvalid = &Error{Kind: KindInvalid}
)

var (
	// ErrConfig is returned for invalid service configuration.
	ErrConfig = errors.New("invalid token config")

	// ErrUnknownType is returned for a token type other than access or refresh.
	ErrUnknownType = errors.New("unknown token type")

	// ErrSecretCorrupt is returned when a persisted secret has the wrong size.
	ErrSecretCorrupt = errors.New("persisted secret has wrong size")
)

// KindOf returns the decode failure kind carried by err, or KindInvalid.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInvalid
}
