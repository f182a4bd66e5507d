package tokens

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signWith(t *testing.T, method jwt.SigningMethod, claims Claims, key any) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return raw
}

func validClaims(svc *Service, typ Type) Claims {
	now := svc.now().UTC()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    svc.cfg.Issuer,
			Subject:   testUser.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Type: typ,
		User: testUser,
	}
}

func TestDecodeMalformed(t *testing.T) {
	svc, _ := newTestService(t, nil)
	key, _ := svc.Key(TypeAccess)

	// The payload cases carry an authentic MAC.
	cases := map[string]string{
		"empty":                 "",
		"one part":              "abc",
		"two parts":             "a.b",
		"four parts":            "a.b.c.d",
		"payload not json":      macToken(key, `{"alg":"HS256","typ":"JWT"}`, "nope"),
		"payload not an object": macToken(key, `{"alg":"HS256","typ":"JWT"}`, `[1]`),
	}
	for name, raw := range cases {
		if _, err := svc.Decode(raw, TypeAccess, ""); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestDecodeHeaderCheckedBeforePayload(t *testing.T) {
	svc, _ := newTestService(t, nil)

	cases := map[string]string{
		"bad header b64":         "!!!." + b64(`{}`) + ".sig",
		"header not json":        b64("nope") + "." + b64(`{}`) + ".sig",
		"missing alg":            b64(`{"typ":"JWT"}`) + "." + b64(`{}`) + ".sig",
		"RS256 payload not json": b64(`{"alg":"RS256","typ":"JWT"}`) + "." + b64("not json") + "." + b64("sig"),
		"none payload array":     b64(`{"alg":"none"}`) + "." + b64(`[1]`) + ".",
	}
	for name, raw := range cases {
		if _, err := svc.Decode(raw, TypeAccess, ""); !errors.Is(err, ErrUnsupportedAlgorithm) {
			t.Fatalf("%s: expected ErrUnsupportedAlgorithm, got %v", name, err)
		}
	}
}

func TestDecodeSignatureCheckedBeforePayload(t *testing.T) {
	svc, _ := newTestService(t, nil)
	forgedKey := []byte("0123456789abcdef0123456789abcdef")

	cases := map[string]string{
		"payload not json":  macToken(forgedKey, `{"alg":"HS256","typ":"JWT"}`, "not json"),
		"payload not b64":   b64(`{"alg":"HS256","typ":"JWT"}`) + ".!!!." + b64("sig"),
		"signature not b64": b64(`{"alg":"HS256","typ":"JWT"}`) + "." + b64(`{}`) + ".!!!",
	}
	for name, raw := range cases {
		if _, err := svc.Decode(raw, TypeAccess, ""); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("%s: expected ErrBadSignature, got %v", name, err)
		}
	}
}

func TestDecodeMissingExpIsMalformed(t *testing.T) {
	svc, _ := newTestService(t, nil)
	key, _ := svc.Key(TypeAccess)

	claims := validClaims(svc, TypeAccess)
	claims.ExpiresAt = nil

	raw := signWith(t, jwt.SigningMethodHS256, claims, key)
	if _, err := svc.Decode(raw, TypeAccess, ""); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeUnsupportedAlgorithm(t *testing.T) {
	svc, _ := newTestService(t, nil)
	key, _ := svc.Key(TypeAccess)
	claims := validClaims(svc, TypeAccess)

	hs384 := signWith(t, jwt.SigningMethodHS384, claims, key)
	if _, err := svc.Decode(hs384, TypeAccess, ""); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("HS384: expected ErrUnsupportedAlgorithm, got %v", err)
	}

	none := signWith(t, jwt.SigningMethodNone, claims, jwt.UnsafeAllowNoneSignatureType)
	if _, err := svc.Decode(none, TypeAccess, ""); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("none: expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestDecodeUnsupportedAlgorithmBeforeExpiry(t *testing.T) {
	svc, clk := newTestService(t, nil)
	key, _ := svc.Key(TypeAccess)
	raw := signWith(t, jwt.SigningMethodHS512, validClaims(svc, TypeAccess), key)

	clk.Advance(time.Hour)
	if _, err := svc.Decode(raw, TypeAccess, ""); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestDecodeForgedTokens(t *testing.T) {
	svc, clk := newTestService(t, nil)
	forgedKey := []byte("0123456789abcdef0123456789abcdef")

	forgedAccess := signWith(t, jwt.SigningMethodHS256, validClaims(svc, TypeAccess), forgedKey)
	if _, err := svc.Decode(forgedAccess, TypeAccess, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("forged access: expected ErrBadSignature, got %v", err)
	}

	// A forged token claiming the other type must not get past the signature check.
	forgedRefresh := signWith(t, jwt.SigningMethodHS256, validClaims(svc, TypeRefresh), forgedKey)
	if _, err := svc.Decode(forgedRefresh, TypeAccess, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("forged refresh as access: expected ErrBadSignature, got %v", err)
	}

	// Signature is checked before expiry.
	clk.Advance(time.Hour)
	if _, err := svc.Decode(forgedAccess, TypeAccess, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expired forgery: expected ErrBadSignature, got %v", err)
	}
}

func TestDecodeTamperedPayload(t *testing.T) {
	svc, _ := newTestService(t, nil)
	iss := mustIssue(t, svc, TypeAccess)

	claims := iss.Claims
	claims.User.Role = "admin"
	key := []byte("not-the-real-key-not-the-real-ke")
	forged := signWith(t, jwt.SigningMethodHS256, claims, key)

	// Original header and signature, attacker payload.
	orig := splitToken(iss.Token)
	tampered := orig[0] + "." + splitToken(forged)[1] + "." + orig[2]
	if _, err := svc.Decode(tampered, TypeAccess, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestDecodeWrongIssuer(t *testing.T) {
	svc, _ := newTestService(t, nil)
	key, _ := svc.Key(TypeAccess)

	claims := validClaims(svc, TypeAccess)
	claims.Issuer = "someone-else"

	raw := signWith(t, jwt.SigningMethodHS256, claims, key)
	if _, err := svc.Decode(raw, TypeAccess, ""); !errors.Is(err, ErrWrongIssuer) {
		t.Fatalf("expected ErrWrongIssuer, got %v", err)
	}
}

func TestDecodeWrongTypeBeforeWrongIssuer(t *testing.T) {
	svc, _ := newTestService(t, nil)
	key, _ := svc.Key(TypeAccess)

	claims := validClaims(svc, TypeRefresh)
	claims.Issuer = "someone-else"

	// Signed with the access key but declaring refresh.
	raw := signWith(t, jwt.SigningMethodHS256, claims, key)
	if _, err := svc.Decode(raw, TypeAccess, ""); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestCodecKeyUnavailable(t *testing.T) {
	t.Parallel()

	codec := NewCodec("crm", 0, nil)
	key := []byte("0123456789abcdef0123456789abcdef")
	raw, err := codec.Encode(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "crm",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Type: TypeAccess,
	}, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	missing := KeyFunc(func(Type) ([]byte, error) { return nil, ErrUnknownType })
	if _, err := codec.Decode(raw, TypeAccess, missing); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	if _, err := codec.Encode(Claims{}, nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// macToken assembles a token from raw header and payload JSON with a valid
// HS256 MAC under key.
func macToken(key []byte, header, payload string) string {
	signing := b64(header) + "." + b64(payload)
	sig, err := jwt.SigningMethodHS256.Sign(signing, key)
	if err != nil {
		panic(err)
	}
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func splitToken(raw string) []string {
	return strings.SplitN(raw, ".", 3)
}
