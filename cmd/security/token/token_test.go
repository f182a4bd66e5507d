package token

import (
	"strings"
	"testing"
)

func TestHashSHA256Hex_KnownVector(t *testing.T) {
	t.Parallel()

	got := HashSHA256Hex("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("HashSHA256Hex(abc)=%q want=%q", got, want)
	}
}

func TestHasher_KeyedDiffersFromPlain(t *testing.T) {
	t.Parallel()

	plain := NewHasher(nil)
	keyed := NewHasher([]byte("0123456789abcdef0123456789abcdef"))

	if plain.Keyed() || !keyed.Keyed() {
		t.Fatalf("unexpected keyed flags: plain=%v keyed=%v", plain.Keyed(), keyed.Keyed())
	}
	a := plain.Hash("session-token")
	b := keyed.Hash("session-token")
	if a == b {
		t.Fatalf("expected keyed hash to differ from plain hash")
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("expected 64-char digests, got %d and %d", len(a), len(b))
	}
	if b != keyed.Hash("session-token") {
		t.Fatalf("expected keyed hash to be stable")
	}
}

func TestHasher_NewOpaque(t *testing.T) {
	t.Parallel()

	h := NewHasher(nil)
	plain, hash, err := h.NewOpaque(32)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	if len(plain) != 43 {
		t.Fatalf("expected 43 base64url chars for 32 bytes, got %d", len(plain))
	}
	if strings.ContainsAny(plain, "+/=") {
		t.Fatalf("expected URL-safe token without padding, got %q", plain)
	}
	if hash != h.Hash(plain) {
		t.Fatalf("hash mismatch")
	}

	other, _, err := h.NewOpaque(32)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	if other == plain {
		t.Fatalf("expected distinct tokens")
	}
}

func TestHasher_NewOpaqueBounds(t *testing.T) {
	t.Parallel()

	h := NewHasher(nil)
	for _, n := range []int{0, MinOpaqueBytes - 1, MaxOpaqueBytes + 1} {
		if _, _, err := h.NewOpaque(n); err != ErrTokenBytes {
			t.Fatalf("NewOpaque(%d) err=%v want ErrTokenBytes", n, err)
		}
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("HMACKeyFromEnv: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(key))
	}
	if !HasherFromEnv().Keyed() {
		t.Fatalf("expected HasherFromEnv to be keyed")
	}
}
