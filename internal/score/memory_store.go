package score

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roadwatch/roadwatch/internal/idgen"
)

// MemoryStore is an in-memory score store for demo/development mode.
// A single mutex stands in for the database's per-row locking; it
// serializes all mutations, which trivially satisfies the per-user
// serialization guarantee.
type MemoryStore struct {
	mu         sync.Mutex
	aggregates map[string]*Aggregate
	events     []*Event
	milestones map[string]*Milestone // key: user|type|value
	now        func() time.Time
}

// NewMemoryStore creates a new in-memory score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[string]*Aggregate),
		milestones: make(map[string]*Milestone),
		now:        time.Now,
	}
}

func (m *MemoryStore) Apply(_ context.Context, mut Mutation) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !mut.Type.Valid() {
		return nil, ErrInvalidMutationKind
	}

	// Linked-entity dedup, inside the same critical section as the write.
	for _, ev := range m.events {
		if ev.Type != mut.Type {
			continue
		}
		if mut.ReportID != "" && ev.ReportID == mut.ReportID {
			return nil, ErrAlreadyApplied
		}
		if mut.DisputeID != "" && ev.DisputeID == mut.DisputeID {
			return nil, ErrAlreadyApplied
		}
	}
	if mut.OncePer > 0 {
		cutoff := m.now().Add(-mut.OncePer)
		for _, ev := range m.events {
			if ev.UserID == mut.UserID && ev.Type == mut.Type && ev.CreatedAt.After(cutoff) {
				return nil, ErrAlreadyApplied
			}
		}
	}

	agg := m.ensureLocked(mut.UserID)
	proposed := clamp(agg.CurrentScore + mut.RequestedImpact)

	ev := &Event{
		ID:            idgen.New(),
		UserID:        mut.UserID,
		Type:          mut.Type,
		Impact:        proposed - agg.CurrentScore,
		Description:   mut.Description,
		PreviousScore: agg.CurrentScore,
		NewScore:      proposed,
		ReportID:      mut.ReportID,
		DisputeID:     mut.DisputeID,
		CreatedAt:     m.now(),
	}
	m.events = append(m.events, ev)

	agg.PreviousScore = agg.CurrentScore
	agg.CurrentScore = proposed
	agg.UpdatedAt = ev.CreatedAt

	cp := *ev
	return &cp, nil
}

func (m *MemoryStore) ensureLocked(userID string) *Aggregate {
	agg, ok := m.aggregates[userID]
	if !ok {
		now := m.now()
		agg = &Aggregate{
			UserID:        userID,
			CurrentScore:  InitialScore,
			PreviousScore: InitialScore,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		m.aggregates[userID] = agg
	}
	return agg
}

func (m *MemoryStore) EnsureAggregate(_ context.Context, userID string) (*Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.ensureLocked(userID)
	return &cp, nil
}

func (m *MemoryStore) GetAggregate(_ context.Context, userID string) (*Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggregates[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *agg
	return &cp, nil
}

func (m *MemoryStore) History(_ context.Context, userID string, limit, offset int) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mine []*Event
	for _, ev := range m.events {
		if ev.UserID == userID {
			mine = append(mine, ev)
		}
	}
	// Newest first; the slice is in append order.
	for i, j := 0, len(mine)-1; i < j; i, j = i+1, j-1 {
		mine[i], mine[j] = mine[j], mine[i]
	}

	if offset >= len(mine) {
		return []*Event{}, nil
	}
	mine = mine[offset:]
	if limit > 0 && len(mine) > limit {
		mine = mine[:limit]
	}

	out := make([]*Event, len(mine))
	for i, ev := range mine {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context, userID string) (*UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &UserStats{}
	for _, ev := range m.events {
		if ev.UserID != userID {
			continue
		}
		switch ev.Type {
		case EventIncidentReported:
			stats.IncidentCount++
		case EventDisputeResolved:
			stats.DisputesWon++
		}
	}
	return stats, nil
}

func (m *MemoryStore) PercentileRank(_ context.Context, userID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.aggregates[userID]
	if !ok {
		return 0, 0, ErrUserNotFound
	}

	lower := 0
	for id, other := range m.aggregates {
		if id != userID && other.CurrentScore < agg.CurrentScore {
			lower++
		}
	}
	return lower, len(m.aggregates) - 1, nil
}

func (m *MemoryStore) RecoveryCandidates(_ context.Context, window time.Duration, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	var out []string
	for userID, agg := range m.aggregates {
		if agg.CurrentScore >= MaxScore {
			continue
		}
		recent := false
		for _, ev := range m.events {
			if ev.UserID == userID && ev.Type == EventTimeElapsed && ev.CreatedAt.After(cutoff) {
				recent = true
				break
			}
		}
		if !recent {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LastIncidentAt(_ context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last time.Time
	for _, ev := range m.events {
		if ev.UserID == userID && ev.Type == EventIncidentReported && ev.CreatedAt.After(last) {
			last = ev.CreatedAt
		}
	}
	return last, nil
}

func (m *MemoryStore) IncidentEvents(_ context.Context, userID string) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Event
	for _, ev := range m.events {
		if ev.UserID == userID && ev.Type == EventIncidentReported && ev.ReportID != "" {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveMilestone(_ context.Context, milestone *Milestone) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := milestoneKey(milestone)
	if _, exists := m.milestones[key]; exists {
		return false, nil
	}
	cp := *milestone
	m.milestones[key] = &cp
	return true, nil
}

func (m *MemoryStore) Milestones(_ context.Context, userID string, limit int) ([]*Milestone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Milestone
	for _, milestone := range m.milestones {
		if milestone.UserID == userID {
			cp := *milestone
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AchievedAt.Equal(out[j].AchievedAt) {
			return out[i].AchievedAt.After(out[j].AchievedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func milestoneKey(m *Milestone) string {
	return m.UserID + "|" + m.MilestoneType + "|" + strconv.Itoa(m.MilestoneValue)
}
