package ingest

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory report/dispute store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	reports  map[string]*Report
	disputes map[string]*Dispute
	byReport map[string]string // report id -> dispute id
}

// NewMemoryStore creates a new in-memory ingest store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:  make(map[string]*Report),
		disputes: make(map[string]*Dispute),
		byReport: make(map[string]string),
	}
}

func (m *MemoryStore) CreateReport(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) SetReportOutcome(_ context.Context, id string, status ReportStatus, penaltyApplied int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return ErrReportNotFound
	}
	r.Status = status
	r.PenaltyApplied = penaltyApplied
	return nil
}

func (m *MemoryStore) ReportsForUser(_ context.Context, userID string, limit int) ([]*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Report
	for _, r := range m.reports {
		if r.ReportedUserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) IncidentTypes(_ context.Context, reportIDs []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make(map[string]string, len(reportIDs))
	for _, id := range reportIDs {
		if r, ok := m.reports[id]; ok {
			types[id] = r.IncidentType
		}
	}
	return types, nil
}

func (m *MemoryStore) CreateDispute(_ context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byReport[d.ReportID]; exists {
		return ErrAlreadyDisputed
	}
	cp := *d
	m.disputes[d.ID] = &cp
	m.byReport[d.ReportID] = d.ID
	return nil
}

func (m *MemoryStore) GetDispute(_ context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ResolveDispute(_ context.Context, id string, status DisputeStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return ErrDisputeNotFound
	}
	d.Status = status
	d.ResolvedAt = &at
	return nil
}
