package tokens

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errUnsupportedAlg = errors.New("signing method is not HS256")
	errKeyUnavailable = errors.New("signing key unavailable")
)

// Keys resolves the signing secret for a token type.
type Keys interface {
	Key(t Type) ([]byte, error)
}

// KeyFunc adapts a function to Keys.
type KeyFunc func(t Type) ([]byte, error)

// Key implements Keys.
func (f KeyFunc) Key(t Type) ([]byte, error) { return f(t) }

// Codec encodes and decodes HS256 tokens for a single issuer.
// It holds no secret material and is safe for concurrent use.
type Codec struct {
	issuer  string
	parser  *jwt.Parser
	lenient *jwt.Parser // no time checks
}

// NewCodec builds a Codec. leeway widens the expiry check; now defaults to time.Now.
func NewCodec(issuer string, leeway time.Duration, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithLeeway(leeway),
			jwt.WithTimeFunc(now),
			jwt.WithExpirationRequired(),
		),
		lenient: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
}

// Encode signs claims with secret.
func (c *Codec) Encode(claims Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("encode: %w", errKeyUnavailable)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Decode verifies raw as a token of the expected type.
//
// Checks run in a fixed order and the first failure wins: shape, header
// algorithm, signature, expiry, type, issuer. The payload is not read before
// the signature verifies.
//
// A token that fails the signature check under the expected type's secret but
// verifies under the secret of the type it declares is authentic and is
// reported as expired or wrong_type, not bad_signature.
func (c *Codec) Decode(raw string, expected Type, keys Keys) (*Claims, error) {
	return c.decode(raw, expected, keys, c.parser)
}

// DecodeExpired is Decode without the expiry check. The signature, type and
// issuer checks still apply.
func (c *Codec) DecodeExpired(raw string, expected Type, keys Keys) (*Claims, error) {
	return c.decode(raw, expected, keys, c.lenient)
}

func (c *Codec) decode(raw string, expected Type, keys Keys, parser *jwt.Parser) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	if headerAlg(parts[0]) != jwt.SigningMethodHS256.Alg() {
		return nil, ErrUnsupportedAlgorithm
	}

	keyType := expected
	err := verifySignature(parts, keyType, keys)
	if errors.Is(err, ErrBadSignature) {
		if declared, ok := declaredType(parts[1]); ok && declared != expected &&
			verifySignature(parts, declared, keys) == nil {
			keyType, err = declared, nil
		}
	}
	if err != nil {
		return nil, err
	}

	claims, err := parse(parser, raw, keyType, keys)
	if err != nil {
		return nil, err
	}
	if claims.Type != expected {
		return nil, ErrWrongType
	}
	if claims.Issuer != c.issuer {
		return nil, ErrWrongIssuer
	}
	return claims, nil
}

// headerAlg returns the alg of an encoded JOSE header, or "" when the header
// does not decode.
func headerAlg(seg string) string {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return ""
	}
	var h struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return ""
	}
	return h.Alg
}

// declaredType reads the type claim of an unverified payload.
func declaredType(seg string) (Type, bool) {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return "", false
	}
	var p struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(b, &p); err != nil || !p.Type.Valid() {
		return "", false
	}
	return p.Type, true
}

// verifySignature checks the HS256 MAC over header.payload in constant time.
func verifySignature(parts []string, keyType Type, keys Keys) error {
	key, err := keys.Key(keyType)
	if err != nil || len(key) == 0 {
		return ErrInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return ErrBadSignature
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return ErrBadSignature
	}
	return nil
}

// parse decodes the payload of a token whose signature already verified and
// applies the time checks.
func parse(parser *jwt.Parser, raw string, keyType Type, keys Keys) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errUnsupportedAlg
		}
		key, err := keys.Key(keyType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errKeyUnavailable, err)
		}
		return key, nil
	})
	return claims, classify(err)
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errKeyUnavailable):
		return ErrInvalid
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformed
	case errors.Is(err, errUnsupportedAlg), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrUnsupportedAlgorithm
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrInvalid
	}
}
