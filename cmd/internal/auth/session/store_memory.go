package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string]*Session
	byHash map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[string]*Session),
		byHash: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, s Session, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := s
	m.rows[s.ID] = &row
	m.byHash[tokenHash] = s.ID
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, tokenHash string, now time.Time, act Activity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.activeByHash(tokenHash)
	if row == nil {
		return false, nil
	}
	row.LastActivity = now
	if act.Module != "" {
		row.CurrentModule = act.Module
	}
	if act.Page != "" {
		row.CurrentPage = act.Page
	}
	return true, nil
}

func (m *MemoryStore) EndByHash(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return end(m.activeByHash(tokenHash), now), nil
}

func (m *MemoryStore) EndByID(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return end(m.rows[id], now), nil
}

func (m *MemoryStore) EndIdle(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, row := range m.rows {
		if row.Active && row.LastActivity.Before(cutoff) {
			end(row, row.LastActivity)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListActive(_ context.Context, since time.Time, f Filter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0)
	for _, row := range m.rows {
		if !row.Active || row.LastActivity.Before(since) {
			continue
		}
		if f.Module != "" && row.CurrentModule != f.Module {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// Get returns a copy of the row with id (tests, diagnostics).
func (m *MemoryStore) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return Session{}, false
	}
	return *row, true
}

func (m *MemoryStore) activeByHash(tokenHash string) *Session {
	row := m.rows[m.byHash[tokenHash]]
	if row == nil || !row.Active {
		return nil
	}
	return row
}

func end(row *Session, at time.Time) bool {
	if row == nil || !row.Active {
		return false
	}
	row.Active = false
	t := at
	row.LogoutAt = &t
	return true
}
