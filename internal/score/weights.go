package score

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrWeightNotFound is returned for incident types with no configured weight.
var ErrWeightNotFound = errors.New("incident weight not found")

// IncidentWeight maps an incident category to its score penalty.
// A zero base penalty marks an infrastructure hazard (pothole, debris):
// those reports are score-neutral and must never produce a ledger entry.
type IncidentWeight struct {
	IncidentType       string    `json:"incidentType"`
	BasePenalty        int       `json:"basePenalty"`
	SeverityMultiplier float64   `json:"severityMultiplier"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Infrastructure reports whether this incident type carries no penalty.
func (w IncidentWeight) Infrastructure() bool {
	return w.BasePenalty == 0
}

// Penalty is the resolved penalty: round(basePenalty * severityMultiplier).
func (w IncidentWeight) Penalty() int {
	return int(math.Round(float64(w.BasePenalty) * w.SeverityMultiplier))
}

// WeightStore reads and (for admin configuration) writes incident weights.
type WeightStore interface {
	Get(ctx context.Context, incidentType string) (*IncidentWeight, error)
	List(ctx context.Context) ([]*IncidentWeight, error)
	Upsert(ctx context.Context, w *IncidentWeight) error
}

// DefaultWeights is the seed weight table. Driver-behavior categories carry
// penalties; location hazards carry zero and never touch a score.
func DefaultWeights() []*IncidentWeight {
	return []*IncidentWeight{
		{IncidentType: "speeding", BasePenalty: 10, SeverityMultiplier: 1.0},
		{IncidentType: "tailgating", BasePenalty: 8, SeverityMultiplier: 1.0},
		{IncidentType: "reckless_driving", BasePenalty: 15, SeverityMultiplier: 1.25},
		{IncidentType: "red_light", BasePenalty: 12, SeverityMultiplier: 1.0},
		{IncidentType: "illegal_parking", BasePenalty: 4, SeverityMultiplier: 1.0},
		{IncidentType: "pothole", BasePenalty: 0, SeverityMultiplier: 0},
		{IncidentType: "debris", BasePenalty: 0, SeverityMultiplier: 0},
		{IncidentType: "broken_signal", BasePenalty: 0, SeverityMultiplier: 0},
		{IncidentType: "flooding", BasePenalty: 0, SeverityMultiplier: 0},
	}
}

// MemoryWeightStore is an in-memory weight table for demo/development mode.
type MemoryWeightStore struct {
	mu      sync.RWMutex
	weights map[string]*IncidentWeight
}

// NewMemoryWeightStore creates a weight store seeded with the defaults.
func NewMemoryWeightStore() *MemoryWeightStore {
	s := &MemoryWeightStore{weights: make(map[string]*IncidentWeight)}
	for _, w := range DefaultWeights() {
		cp := *w
		cp.UpdatedAt = time.Now()
		s.weights[w.IncidentType] = &cp
	}
	return s
}

func (s *MemoryWeightStore) Get(_ context.Context, incidentType string) (*IncidentWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.weights[incidentType]
	if !ok {
		return nil, ErrWeightNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryWeightStore) List(_ context.Context) ([]*IncidentWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*IncidentWeight, 0, len(s.weights))
	for _, w := range s.weights {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentType < out[j].IncidentType })
	return out, nil
}

func (s *MemoryWeightStore) Upsert(_ context.Context, w *IncidentWeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	cp.UpdatedAt = time.Now()
	s.weights[w.IncidentType] = &cp
	return nil
}
