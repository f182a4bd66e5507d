package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const argon2Version = argon2.Version

var b64 = base64.RawStdEncoding

// Hash validates pw against the policy and returns its PHC-encoded Argon2id hash.
func (c Config) Hash(pw string) (string, error) {
	if err := c.Validate(pw); err != nil {
		return "", err
	}
	return c.hash(pw)
}

func (c Config) hash(pw string) (string, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	p := c.Params
	key := argon2.IDKey([]byte(pw), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether pw matches encoded. A malformed or over-priced hash
// yields ErrInvalidHash.
func (c Config) Verify(encoded, pw string) (bool, error) {
	params, salt, want, err := decode(encoded)
	if err != nil {
		return false, err
	}
	if !c.affordable(params) {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(pw), salt, params.Iterations, params.MemoryKiB, params.Parallelism,
		uint32(len(want))) // #nosec G115 -- bounded by decode.
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than c, so the caller can upgrade it after a successful login.
func (c Config) NeedsRehash(encoded string) bool {
	params, _, _, err := decode(encoded)
	if err != nil {
		return true
	}
	return params.MemoryKiB < c.Params.MemoryKiB ||
		params.Iterations < c.Params.Iterations ||
		params.KeyLength < c.Params.KeyLength
}

var (
	dummyMu   sync.Mutex
	dummyHash = map[Argon2idParams]string{}
)

// DummyVerify burns the same work as Verify for a user that does not exist,
// keeping unknown and known usernames indistinguishable by timing.
func (c Config) DummyVerify(pw string) {
	dummyMu.Lock()
	enc, ok := dummyHash[c.Params]
	if !ok {
		var err error
		if enc, err = c.hash("crm-dummy-password"); err != nil {
			dummyMu.Unlock()
			return
		}
		dummyHash[c.Params] = enc
	}
	dummyMu.Unlock()

	_, _ = c.Verify(enc, pw)
}

// affordable rejects hashes whose cost is far above ours. Older, cheaper
// hashes still verify.
func (c Config) affordable(got Argon2idParams) bool {
	lim := c.Params
	return got.MemoryKiB <= lim.MemoryKiB*2 &&
		got.Iterations <= lim.Iterations*2 &&
		uint32(got.Parallelism) <= uint32(lim.Parallelism)*2 &&
		got.SaltLength >= 8 && got.SaltLength <= 64 &&
		got.KeyLength >= 16 && got.KeyLength <= 128
}

func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, iter, lanes uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &lanes); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || lanes == 0 || lanes > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  iter,
		Parallelism: uint8(lanes),      // #nosec G115 -- checked above.
		SaltLength:  uint32(len(salt)), // #nosec G115
		KeyLength:   uint32(len(key)),  // #nosec G115
	}, salt, key, nil
}
