package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps users in process memory (development, tests).
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
	roles map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		roles: make(map[string][]string),
	}
}

func (m *MemoryStore) UserByLogin(_ context.Context, login string) (User, error) {
	login = NormalizeLogin(login)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var byEmail *User
	for _, u := range m.users {
		if u.Username == login {
			return u, nil
		}
		if u.Email != "" && strings.ToLower(u.Email) == login {
			u := u
			byEmail = &u
		}
	}
	if byEmail != nil {
		return *byEmail, nil
	}
	return User{}, OpError{Op: "identity.UserByLogin", Kind: ErrNotFound}
}

func (m *MemoryStore) InsertUser(_ context.Context, u User) error {
	const op = "identity.InsertUser"

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return conflict(op, "username")
		}
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return conflict(op, "email")
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return OpError{Op: "identity.UpdatePasswordHash", Kind: ErrNotFound}
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *MemoryStore) RoleCapabilities(_ context.Context, role string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.roles[NormalizeRole(role)]), nil
}

func (m *MemoryStore) SetRoleCapabilities(_ context.Context, role string, caps []string) error {
	role = NormalizeRole(role)
	if role == "" {
		return invalid("identity.SetRoleCapabilities", "role is required")
	}

	set := make([]string, 0, len(caps))
	for _, c := range caps {
		if c = strings.TrimSpace(c); c != "" && !slices.Contains(set, c) {
			set = append(set, c)
		}
	}
	slices.Sort(set)

	m.mu.Lock()
	m.roles[role] = set
	m.mu.Unlock()
	return nil
}
