package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/roadwatch/roadwatch/internal/metrics"
	"github.com/roadwatch/roadwatch/internal/traces"
)

// ReportDirectory resolves report ids to their incident types. It is
// implemented by the ingestion layer, which keeps the report reference
// records; the engine only follows the linkage for the breakdown view.
type ReportDirectory interface {
	IncidentTypes(ctx context.Context, reportIDs []string) (map[string]string, error)
}

// Engine applies score mutations and serves the read model. It is
// stateless: all state lives in the injected Store, and correctness under
// concurrency comes from the store's per-user transaction boundary.
type Engine struct {
	store           Store
	directory       ReportDirectory
	detector        *Detector
	mutationTimeout time.Duration
	logger          *slog.Logger
}

// NewEngine creates a score engine on top of the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// SetDirectory wires the report directory used by Breakdown.
func (e *Engine) SetDirectory(d ReportDirectory) { e.directory = d }

// SetDetector wires a milestone detector, run opportunistically after each
// committed mutation.
func (e *Engine) SetDetector(d *Detector) { e.detector = d }

// SetMutationTimeout bounds the time a single mutation may spend in the
// store, detection included. Zero means no bound beyond the caller's context.
func (e *Engine) SetMutationTimeout(d time.Duration) { e.mutationTimeout = d }

// ApplyMutation applies one named mutation to a user's score.
//
// A zero requested impact is a silent no-op: no event is written and the
// aggregate is untouched. This covers both infrastructure incidents
// (base penalty 0) and recovery periods that compute to zero points.
//
// The engine never retries; PersistenceFailure propagates to the caller,
// which may retry safely when the mutation carries a dedup key.
func (e *Engine) ApplyMutation(ctx context.Context, m Mutation) (*Event, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMutationKind, m.Type)
	}
	if m.UserID == "" {
		return nil, ErrUserNotFound
	}
	if m.RequestedImpact == 0 {
		return nil, nil
	}

	if e.mutationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.mutationTimeout)
		defer cancel()
	}

	ctx, span := traces.StartSpan(ctx, "score.apply_mutation",
		traces.UserID(m.UserID),
		traces.EventType(string(m.Type)),
		traces.Impact(m.RequestedImpact),
	)
	defer span.End()

	ev, err := e.store.Apply(ctx, m)
	if err != nil {
		metrics.ScoreMutationFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	metrics.ScoreMutationsTotal.WithLabelValues(string(m.Type)).Inc()
	if ev.Impact != m.RequestedImpact {
		metrics.ScoreMutationsClampedTotal.Inc()
	}

	e.logger.Info("score mutation applied",
		"user", m.UserID,
		"type", m.Type,
		"requested", m.RequestedImpact,
		"applied", ev.Impact,
		"score", ev.NewScore,
	)

	if e.detector != nil {
		// Best effort: a milestone miss here is picked up on the next
		// mutation, since detection is idempotent over the ledger.
		if _, err := e.detector.Check(ctx, m.UserID); err != nil {
			e.logger.Warn("milestone detection failed", "user", m.UserID, "error", err)
		}
	}

	return ev, nil
}

// EnsureAggregate initializes a user's aggregate at the starting score if
// absent. Called when a driver passes identity verification.
func (e *Engine) EnsureAggregate(ctx context.Context, userID string) (*Aggregate, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	return e.store.EnsureAggregate(ctx, userID)
}

// Status is the composite current-score view for a driver.
type Status struct {
	UserID        string    `json:"userId"`
	CurrentScore  int       `json:"currentScore"`
	PreviousScore int       `json:"previousScore"`
	Change        int       `json:"change"`
	Percentile    int       `json:"percentile"`
	IncidentCount int       `json:"incidentCount"`
	DisputesWon   int       `json:"disputesWon"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CurrentScore returns the driver's score joined with percentile and
// ledger-derived counts. A user with no aggregate yet is lazily
// initialized at the starting score: "not yet scored" is a normal state,
// never an error.
func (e *Engine) CurrentScore(ctx context.Context, userID string) (*Status, error) {
	agg, err := e.store.GetAggregate(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		agg, err = e.store.EnsureAggregate(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	stats, err := e.store.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	pct, err := e.Percentile(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Status{
		UserID:        agg.UserID,
		CurrentScore:  agg.CurrentScore,
		PreviousScore: agg.PreviousScore,
		Change:        agg.CurrentScore - agg.PreviousScore,
		Percentile:    pct,
		IncidentCount: stats.IncidentCount,
		DisputesWon:   stats.DisputesWon,
		UpdatedAt:     agg.UpdatedAt,
	}, nil
}

// History returns the user's ledger entries, newest first.
func (e *Engine) History(ctx context.Context, userID string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return e.store.History(ctx, userID, limit, offset)
}

// Percentile returns the share of other users scoring strictly lower than
// this user, as a rounded 0-100 value. A user with no peers ranks 100.
// Ties sort below: equal scores do not count as "lower", so a field of
// identical scores yields percentile 0 for everyone.
func (e *Engine) Percentile(ctx context.Context, userID string) (int, error) {
	lower, others, err := e.store.PercentileRank(ctx, userID)
	if err != nil {
		return 0, err
	}
	if others <= 0 {
		return 100, nil
	}
	return int(math.Round(100 * float64(lower) / float64(others))), nil
}

// BreakdownEntry groups a user's incident penalties by incident type.
type BreakdownEntry struct {
	IncidentType string `json:"incidentType"`
	Count        int    `json:"count"`
	TotalImpact  int    `json:"totalImpact"`
}

// Breakdown groups the user's report-linked penalties by incident type,
// ordered most-negative total first.
func (e *Engine) Breakdown(ctx context.Context, userID string) ([]*BreakdownEntry, error) {
	events, err := e.store.IncidentEvents(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return []*BreakdownEntry{}, nil
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ReportID)
	}

	types := map[string]string{}
	if e.directory != nil {
		types, err = e.directory.IncidentTypes(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve incident types: %w", err)
		}
	}

	grouped := make(map[string]*BreakdownEntry)
	for _, ev := range events {
		incidentType, ok := types[ev.ReportID]
		if !ok {
			incidentType = "unknown"
		}
		entry, ok := grouped[incidentType]
		if !ok {
			entry = &BreakdownEntry{IncidentType: incidentType}
			grouped[incidentType] = entry
		}
		entry.Count++
		entry.TotalImpact += ev.Impact
	}

	out := make([]*BreakdownEntry, 0, len(grouped))
	for _, entry := range grouped {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalImpact != out[j].TotalImpact {
			return out[i].TotalImpact < out[j].TotalImpact
		}
		return out[i].IncidentType < out[j].IncidentType
	})
	return out, nil
}

// Milestones returns the user's recorded milestones, newest first.
func (e *Engine) Milestones(ctx context.Context, userID string, limit int) ([]*Milestone, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.Milestones(ctx, userID, limit)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyApplied):
		return "already_applied"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
