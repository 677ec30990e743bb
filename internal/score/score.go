// Package score implements the driver score engine for RoadWatch.
//
// Every verified driver carries a bounded [0,100] score starting at 80.
// Incident reports debit it, disputes resolved in the driver's favor credit
// it back, and incident-free time slowly recovers it. Each change is one
// immutable ScoreEvent in an append-only ledger; the cached aggregate is
// updated in lockstep with the ledger append, inside the same transaction.
package score

import (
	"context"
	"errors"
	"time"
)

// Score bounds. Every committed aggregate stays inside [MinScore, MaxScore].
const (
	MinScore     = 0
	MaxScore     = 100
	InitialScore = 80
)

// EventType enumerates the kinds of score mutations.
type EventType string

const (
	EventIncidentReported EventType = "incident_reported"
	EventDisputeResolved  EventType = "dispute_resolved"
	EventTimeElapsed      EventType = "time_elapsed"
)

// Valid reports whether t is one of the enumerated mutation kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventIncidentReported, EventDisputeResolved, EventTimeElapsed:
		return true
	}
	return false
}

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidMutationKind = errors.New("invalid mutation kind")
	ErrAlreadyApplied      = errors.New("mutation already applied for linked entity")
	ErrPersistence         = errors.New("persistence failure")
	ErrSweepInProgress     = errors.New("recovery sweep already running")
)

// Aggregate is the cached per-driver score, derivable from the ledger but
// kept current so reads never replay events.
type Aggregate struct {
	UserID        string    `json:"userId"`
	CurrentScore  int       `json:"currentScore"`
	PreviousScore int       `json:"previousScore"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Event is one immutable ledger entry. Impact is the applied (clamped)
// delta, which may be smaller in magnitude than what the caller requested.
type Event struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Type          EventType `json:"eventType"`
	Impact        int       `json:"scoreImpact"`
	Description   string    `json:"description,omitempty"`
	PreviousScore int       `json:"previousScore"`
	NewScore      int       `json:"newScore"`
	ReportID      string    `json:"reportId,omitempty"`
	DisputeID     string    `json:"disputeId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Mutation describes one requested score change.
//
// ReportID and DisputeID are dedup keys: a store must refuse (with
// ErrAlreadyApplied) a mutation whose (Type, ReportID) or (Type, DisputeID)
// pair already has a ledger entry, checked inside the mutation transaction.
// OncePer, when positive, refuses the mutation if a same-type event exists
// for the user within the window; the recovery scheduler uses it to award
// at most one time_elapsed credit per period even across racing sweeps.
type Mutation struct {
	UserID          string
	Type            EventType
	RequestedImpact int
	Description     string
	ReportID        string
	DisputeID       string
	OncePer         time.Duration
}

// UserStats are ledger-derived counts surfaced with the current score.
type UserStats struct {
	IncidentCount int `json:"incidentCount"`
	DisputesWon   int `json:"disputesWon"`
}

// Store persists aggregates, the event ledger, and milestones.
//
// Apply must execute as a single atomic transaction per user: lock or
// create the aggregate, clamp, append exactly one event, and update the
// aggregate, rolling everything back on failure. Concurrent Apply calls
// for the same user serialize; different users do not block each other.
type Store interface {
	Apply(ctx context.Context, m Mutation) (*Event, error)
	EnsureAggregate(ctx context.Context, userID string) (*Aggregate, error)
	GetAggregate(ctx context.Context, userID string) (*Aggregate, error)
	History(ctx context.Context, userID string, limit, offset int) ([]*Event, error)
	Stats(ctx context.Context, userID string) (*UserStats, error)

	// PercentileRank returns how many users score strictly lower than
	// userID, and how many other users exist.
	PercentileRank(ctx context.Context, userID string) (lower, others int, err error)

	// RecoveryCandidates lists users with currentScore < MaxScore and no
	// time_elapsed event inside the window, ordered by user id.
	RecoveryCandidates(ctx context.Context, window time.Duration, limit int) ([]string, error)

	// LastIncidentAt returns the time of the user's most recent incident
	// event, or the zero time if they have none.
	LastIncidentAt(ctx context.Context, userID string) (time.Time, error)

	// IncidentEvents returns the user's report-linked incident penalties,
	// for the per-incident-type breakdown.
	IncidentEvents(ctx context.Context, userID string) ([]*Event, error)

	// SaveMilestone records a milestone once; it reports false without
	// error when the (user, type, value) triple is already recorded.
	SaveMilestone(ctx context.Context, m *Milestone) (bool, error)
	Milestones(ctx context.Context, userID string, limit int) ([]*Milestone, error)
}

// clamp restricts a proposed score to the valid range.
func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
