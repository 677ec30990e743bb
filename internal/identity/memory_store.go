package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory verification store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*Verification
	byUser    map[string]string
	bySession map[string]string
}

// NewMemoryStore creates a new in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Verification),
		byUser:    make(map[string]string),
		bySession: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, v *Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byUser[v.UserID]; exists {
		return ErrAlreadyVerified
	}
	cp := *v
	m.byID[v.ID] = &cp
	m.byUser[v.UserID] = v.ID
	if v.StripeSessionID != "" {
		m.bySession[v.StripeSessionID] = v.ID
	}
	return nil
}

func (m *MemoryStore) GetByUser(_ context.Context, userID string) (*Verification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) GetBySession(_ context.Context, sessionID string) (*Verification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	if status == StatusVerified {
		v.VerifiedAt = &at
	}
	return nil
}
