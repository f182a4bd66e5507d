package tokens

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
)

// SecretBytes is the size of every signing secret (256 bits).
const SecretBytes = 32

// SecretStore persists one signing secret per token type.
//
// Secret returns the persisted secret, generating and persisting it on first
// use. Rotate replaces it unconditionally. Implementations must be safe for
// concurrent use and must never rotate on their own.
type SecretStore interface {
	Secret(ctx context.Context, t Type) ([]byte, error)
	Rotate(ctx context.Context, t Type) ([]byte, error)
}

func newSecret() ([]byte, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return b, nil
}

// MemorySecretStore keeps secrets in process memory. Secrets do not survive a
// restart, so every token becomes invalid; use it for development and tests.
type MemorySecretStore struct {
	mu      sync.Mutex
	secrets map[Type][]byte
}

// NewMemorySecretStore creates an empty in-memory store.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[Type][]byte)}
}

// Secret returns the secret for t, generating it on first use.
func (s *MemorySecretStore) Secret(_ context.Context, t Type) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.secrets[t]; ok {
		return clone(b), nil
	}
	b, err := newSecret()
	if err != nil {
		return nil, err
	}
	s.secrets[t] = b
	return clone(b), nil
}

// Rotate replaces the secret for t.
func (s *MemorySecretStore) Rotate(_ context.Context, t Type) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownType
	}
	b, err := newSecret()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.secrets[t] = b
	s.mu.Unlock()

	return clone(b), nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
