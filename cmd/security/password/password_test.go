package password

import (
	"errors"
	"strings"
	"testing"
)

// cheap keeps tests fast; production cost comes from DefaultConfig.
func cheap() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	cfg := cheap()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	if ok, err := cfg.Verify(h, "correct horse battery staple"); err != nil || !ok {
		t.Fatalf("Verify(match): ok=%v err=%v", ok, err)
	}
	if ok, err := cfg.Verify(h, "wrong horse battery staple"); err != nil || ok {
		t.Fatalf("Verify(mismatch): ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsBadHashes(t *testing.T) {
	cfg := cheap()

	for _, enc := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5",
	} {
		if ok, err := cfg.Verify(enc, "whatever"); !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q): ok=%v err=%v", enc, ok, err)
		}
	}
}

func TestVerifyRefusesOverpricedHash(t *testing.T) {
	cfg := cheap()
	enc := "$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5"
	if _, err := cfg.Verify(enc, "whatever"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := cheap()
	h, err := weak.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if weak.NeedsRehash(h) {
		t.Fatalf("hash made with current params must not need rehash")
	}

	strong := weak
	strong.Params.Iterations = 2
	if !strong.NeedsRehash(h) {
		t.Fatalf("cheaper hash must need rehash")
	}
	if !strong.NeedsRehash("garbage") {
		t.Fatalf("undecodable hash must need rehash")
	}
}

func TestDummyVerifyDoesNotPanic(t *testing.T) {
	cfg := cheap()
	cfg.DummyVerify("anything")
	cfg.DummyVerify("anything else")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestValidateRejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 6

	for _, pw := range []string{"password", "11111111", "zzzzzzzz", "1234567", "Qwerty123"} {
		if err := cfg.Validate(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("Validate(%q): expected ErrWeakPassword, got %v", pw, err)
		}
	}
	if err := cfg.Validate("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}
