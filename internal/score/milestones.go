package score

import (
	"context"
	"log/slog"
	"time"

	"github.com/roadwatch/roadwatch/internal/idgen"
	"github.com/roadwatch/roadwatch/internal/metrics"
)

// Milestone kinds.
const (
	MilestoneScoreReached = "score_reached"
	MilestoneCleanStreak  = "clean_streak"
)

// Milestone is a one-time recorded achievement. The (user, type, value)
// triple is unique; re-detection never duplicates it.
type Milestone struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	MilestoneType  string    `json:"milestoneType"`
	MilestoneValue int       `json:"milestoneValue"`
	AchievedAt     time.Time `json:"achievedAt"`
}

// MilestoneConfig holds the thresholds the detector checks. Thresholds are
// configuration, not hardcoded in the detection logic.
type MilestoneConfig struct {
	// ScoreThresholds are scores that record a milestone when reached.
	ScoreThresholds []int
	// CleanStreakDays are incident-free streak lengths worth recording.
	CleanStreakDays []int
}

// DefaultMilestoneConfig returns the standard thresholds.
func DefaultMilestoneConfig() MilestoneConfig {
	return MilestoneConfig{
		ScoreThresholds: []int{90, 100},
		CleanStreakDays: []int{30, 100, 365},
	}
}

// Detector checks a user's aggregate and ledger for threshold crossings.
// It runs opportunistically after mutations; there is no poll loop.
// Detection is idempotent: the store refuses duplicate triples silently.
type Detector struct {
	store  Store
	cfg    MilestoneConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewDetector creates a milestone detector.
func NewDetector(store Store, cfg MilestoneConfig, logger *slog.Logger) *Detector {
	return &Detector{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Check evaluates all configured thresholds for the user and returns the
// milestones newly recorded by this call.
func (d *Detector) Check(ctx context.Context, userID string) ([]*Milestone, error) {
	agg, err := d.store.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}

	var recorded []*Milestone

	for _, threshold := range d.cfg.ScoreThresholds {
		if agg.CurrentScore < threshold {
			continue
		}
		m, err := d.record(ctx, userID, MilestoneScoreReached, threshold)
		if err != nil {
			return recorded, err
		}
		if m != nil {
			recorded = append(recorded, m)
		}
	}

	streak, err := d.cleanStreakDays(ctx, agg)
	if err != nil {
		return recorded, err
	}
	for _, days := range d.cfg.CleanStreakDays {
		if streak < days {
			continue
		}
		m, err := d.record(ctx, userID, MilestoneCleanStreak, days)
		if err != nil {
			return recorded, err
		}
		if m != nil {
			recorded = append(recorded, m)
		}
	}

	return recorded, nil
}

// cleanStreakDays computes full days since the last incident, or since the
// aggregate was created for users with a clean ledger.
func (d *Detector) cleanStreakDays(ctx context.Context, agg *Aggregate) (int, error) {
	last, err := d.store.LastIncidentAt(ctx, agg.UserID)
	if err != nil {
		return 0, err
	}
	since := last
	if since.IsZero() {
		since = agg.CreatedAt
	}
	if since.IsZero() {
		return 0, nil
	}
	return int(d.now().Sub(since).Hours() / 24), nil
}

func (d *Detector) record(ctx context.Context, userID, milestoneType string, value int) (*Milestone, error) {
	m := &Milestone{
		ID:             idgen.WithPrefix("ms_"),
		UserID:         userID,
		MilestoneType:  milestoneType,
		MilestoneValue: value,
		AchievedAt:     d.now(),
	}
	inserted, err := d.store.SaveMilestone(ctx, m)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}

	metrics.MilestonesDetectedTotal.WithLabelValues(milestoneType).Inc()
	d.logger.Info("milestone recorded",
		"user", userID,
		"type", milestoneType,
		"value", value,
	)
	return m, nil
}
