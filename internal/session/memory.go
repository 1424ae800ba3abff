package session

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, sid, key string) (string, error) {
	if err := validate(sid, key); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.sessions[sid][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, sid, key, value string) error {
	if err := validate(sid, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	values, ok := m.sessions[sid]
	if !ok {
		values = make(map[string]string)
		m.sessions[sid] = values
	}
	values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sid, key string) error {
	if err := validate(sid, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions[sid], key)
	if len(m.sessions[sid]) == 0 {
		delete(m.sessions, sid)
	}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, sid string) error {
	if sid == "" {
		return errEmptySessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sid)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
