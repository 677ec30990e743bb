package score

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roadwatch/roadwatch/internal/metrics"
	"github.com/roadwatch/roadwatch/internal/traces"
)

// RecoveryRung is one step of the recovery ladder: after MinDays without
// an incident, a sweep credits Points.
type RecoveryRung struct {
	MinDays int
	Points  int
}

// RecoveryLadder maps incident-free days to recovery points. Rungs must be
// ordered by ascending MinDays; the highest satisfied rung wins.
type RecoveryLadder []RecoveryRung

// DefaultRecoveryLadder: nothing for the first week, then progressively
// faster recovery the longer a driver stays clean.
var DefaultRecoveryLadder = RecoveryLadder{
	{MinDays: 7, Points: 1},
	{MinDays: 30, Points: 2},
	{MinDays: 90, Points: 3},
}

// Points returns the recovery credit for a given incident-free streak.
func (l RecoveryLadder) Points(daysClean int) int {
	points := 0
	for _, rung := range l {
		if daysClean >= rung.MinDays {
			points = rung.Points
		}
	}
	return points
}

// SweepResult summarizes one recovery sweep.
type SweepResult struct {
	Candidates int `json:"candidates"`
	Credited   int `json:"credited"`
	Points     int `json:"points"`
	Skipped    int `json:"skipped"`
	Failures   int `json:"failures"`
}

// Sweeper awards time-based recovery. It is single-flight: a new sweep
// refuses to start while a previous one is still running. Eligibility is
// recomputed from ledger timestamps on every run, so restarts never
// double-award and failed users are naturally retried next period.
type Sweeper struct {
	engine       *Engine
	store        Store
	ladder       RecoveryLadder
	window       time.Duration
	sweepTimeout time.Duration
	logger       *slog.Logger
	running      atomic.Bool
	now          func() time.Time
}

// candidateBatch bounds one sweep's candidate query.
const candidateBatch = 10000

// NewSweeper creates a recovery sweeper. window is the "one recovery per
// period" window; sweepTimeout bounds a whole sweep, after which no new
// per-user mutations are issued.
func NewSweeper(engine *Engine, store Store, ladder RecoveryLadder, window, sweepTimeout time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine:       engine,
		store:        store,
		ladder:       ladder,
		window:       window,
		sweepTimeout: sweepTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Run executes one recovery sweep. Per-user failures are logged and do not
// abort the sweep; the batch query is advisory and each user's
// once-per-window rule is re-verified inside their mutation transaction.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.sweepTimeout)
	defer cancel()

	ctx, span := traces.StartSpan(ctx, "score.recovery_sweep")
	defer span.End()

	metrics.RecoverySweepsTotal.Inc()

	candidates, err := s.store.RecoveryCandidates(ctx, s.window, candidateBatch)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Candidates: len(candidates)}
	for _, userID := range candidates {
		if ctx.Err() != nil {
			s.logger.Warn("recovery sweep timed out", "processed", result.Credited+result.Skipped+result.Failures)
			break
		}

		ev, err := s.creditUser(ctx, userID)
		switch {
		case errors.Is(err, ErrAlreadyApplied):
			// Lost a race with a concurrent sweep or manual trigger.
			result.Skipped++
		case err != nil:
			result.Failures++
			s.logger.Warn("recovery failed for user", "user", userID, "error", err)
		case ev == nil:
			// Recovery computed to zero points: no event, by design.
			result.Skipped++
		default:
			result.Credited++
			result.Points += ev.Impact
			metrics.RecoveryPointsAwardedTotal.Add(float64(ev.Impact))
		}
	}

	s.logger.Info("recovery sweep completed",
		"candidates", result.Candidates,
		"credited", result.Credited,
		"points", result.Points,
		"skipped", result.Skipped,
		"failures", result.Failures,
	)
	return result, nil
}

// RunForUser applies recovery to a single user immediately (the manual
// trigger endpoint). The same once-per-window rule applies; a nil event
// with nil error means the user earned zero points this period.
func (s *Sweeper) RunForUser(ctx context.Context, userID string) (*Event, error) {
	if _, err := s.store.GetAggregate(ctx, userID); err != nil {
		return nil, err
	}
	return s.creditUser(ctx, userID)
}

func (s *Sweeper) creditUser(ctx context.Context, userID string) (*Event, error) {
	points, err := s.pointsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if points == 0 {
		return nil, nil
	}

	return s.engine.ApplyMutation(ctx, Mutation{
		UserID:          userID,
		Type:            EventTimeElapsed,
		RequestedImpact: points,
		Description:     "incident-free time recovery",
		OncePer:         s.window,
	})
}

// pointsFor computes the recovery credit from days since last incident.
// Users with a clean ledger measure their streak from aggregate creation.
func (s *Sweeper) pointsFor(ctx context.Context, userID string) (int, error) {
	last, err := s.store.LastIncidentAt(ctx, userID)
	if err != nil {
		return 0, err
	}
	if last.IsZero() {
		agg, err := s.store.GetAggregate(ctx, userID)
		if err != nil {
			return 0, err
		}
		last = agg.CreatedAt
	}
	daysClean := int(s.now().Sub(last).Hours() / 24)
	return s.ladder.Points(daysClean), nil
}
