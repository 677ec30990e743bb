package score

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/roadwatch/roadwatch/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Apply writes the event and the aggregate update in one transaction.
// Read committed is deliberate: the FOR UPDATE row lock serializes
// concurrent mutations for the same driver, and a waiter re-reads the
// committed score once the lock holder finishes. Under repeatable read
// or stricter the waiter would instead fail with a serialization error
// on wake-up.
func (p *PostgresStore) Apply(ctx context.Context, mut Mutation) (*Event, error) {
	if !mut.Type.Valid() {
		return nil, ErrInvalidMutationKind
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin", err)
	}
	defer tx.Rollback()

	// Lazy init: first mutation for an unseen driver creates the
	// aggregate at the initial score.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO score_aggregates (user_id, current_score, previous_score, created_at, updated_at)
		VALUES ($1, $2, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, mut.UserID, InitialScore)
	if err != nil {
		return nil, persistErr("init aggregate", err)
	}

	ev := &Event{
		ID:          idgen.New(),
		UserID:      mut.UserID,
		Type:        mut.Type,
		Description: mut.Description,
		ReportID:    mut.ReportID,
		DisputeID:   mut.DisputeID,
	}

	err = tx.QueryRowContext(ctx, `
		SELECT current_score FROM score_aggregates
		WHERE user_id = $1
		FOR UPDATE
	`, mut.UserID).Scan(&ev.PreviousScore)
	if err != nil {
		return nil, persistErr("lock aggregate", err)
	}

	// Once-per-window dedup for recovery credits. Runs under the row
	// lock taken above, so concurrent sweeps for the same driver
	// cannot both pass the check.
	if mut.OncePer > 0 {
		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM score_events
				WHERE user_id = $1 AND event_type = $2
				  AND created_at > NOW() - make_interval(secs => $3)
			)
		`, mut.UserID, mut.Type, mut.OncePer.Seconds()).Scan(&exists)
		if err != nil {
			return nil, persistErr("check window", err)
		}
		if exists {
			return nil, ErrAlreadyApplied
		}
	}

	ev.NewScore = clamp(ev.PreviousScore + mut.RequestedImpact)
	ev.Impact = ev.NewScore - ev.PreviousScore

	// Partial unique indexes on (event_type, report_id) and
	// (event_type, dispute_id) reject duplicate linked entities.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO score_events
			(id, user_id, event_type, impact, description, previous_score, new_score, report_id, dispute_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NOW())
		RETURNING created_at
	`, ev.ID, ev.UserID, ev.Type, ev.Impact, ev.Description, ev.PreviousScore, ev.NewScore, ev.ReportID, ev.DisputeID).Scan(&ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyApplied
		}
		return nil, persistErr("record event", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE score_aggregates SET
			previous_score = current_score,
			current_score  = $2,
			updated_at     = NOW()
		WHERE user_id = $1
	`, ev.UserID, ev.NewScore)
	if err != nil {
		return nil, persistErr("update aggregate", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit", err)
	}
	return ev, nil
}

func (p *PostgresStore) EnsureAggregate(ctx context.Context, userID string) (*Aggregate, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO score_aggregates (user_id, current_score, previous_score, created_at, updated_at)
		VALUES ($1, $2, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, InitialScore)
	if err != nil {
		return nil, persistErr("init aggregate", err)
	}
	return p.GetAggregate(ctx, userID)
}

func (p *PostgresStore) GetAggregate(ctx context.Context, userID string) (*Aggregate, error) {
	agg := &Aggregate{UserID: userID}
	err := p.db.QueryRowContext(ctx, `
		SELECT current_score, previous_score, created_at, updated_at
		FROM score_aggregates WHERE user_id = $1
	`, userID).Scan(&agg.CurrentScore, &agg.PreviousScore, &agg.CreatedAt, &agg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistErr("get aggregate", err)
	}
	return agg, nil
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit, offset int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, impact, description, previous_score, new_score,
		       COALESCE(report_id, ''), COALESCE(dispute_id, ''), created_at
		FROM score_events
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, persistErr("history", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Type, &ev.Impact, &ev.Description,
			&ev.PreviousScore, &ev.NewScore, &ev.ReportID, &ev.DisputeID, &ev.CreatedAt); err != nil {
			return nil, persistErr("scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("history", err)
	}
	return events, nil
}

func (p *PostgresStore) Stats(ctx context.Context, userID string) (*UserStats, error) {
	stats := &UserStats{}
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE event_type = $2),
			COUNT(*) FILTER (WHERE event_type = $3)
		FROM score_events WHERE user_id = $1
	`, userID, EventIncidentReported, EventDisputeResolved).Scan(&stats.IncidentCount, &stats.DisputesWon)
	if err != nil {
		return nil, persistErr("stats", err)
	}
	return stats, nil
}

func (p *PostgresStore) PercentileRank(ctx context.Context, userID string) (int, int, error) {
	var lower, others int
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE a.current_score < me.current_score),
			COUNT(a.user_id)
		FROM (
			SELECT current_score FROM score_aggregates WHERE user_id = $1
		) me
		LEFT JOIN score_aggregates a ON a.user_id <> $1
		GROUP BY me.current_score
	`, userID).Scan(&lower, &others)
	if err == sql.ErrNoRows {
		return 0, 0, ErrUserNotFound
	}
	if err != nil {
		return 0, 0, persistErr("percentile", err)
	}
	return lower, others, nil
}

// RecoveryCandidates returns drivers below the max score with no
// recovery credit inside the window. Ordered by user ID so repeated
// sweeps walk the population deterministically.
func (p *PostgresStore) RecoveryCandidates(ctx context.Context, window time.Duration, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.user_id
		FROM score_aggregates a
		WHERE a.current_score < $1
		  AND NOT EXISTS (
			SELECT 1 FROM score_events e
			WHERE e.user_id = a.user_id
			  AND e.event_type = $2
			  AND e.created_at > NOW() - make_interval(secs => $3)
		  )
		ORDER BY a.user_id
		LIMIT $4
	`, MaxScore, EventTimeElapsed, window.Seconds(), limit)
	if err != nil {
		return nil, persistErr("recovery candidates", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("scan candidate", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (p *PostgresStore) LastIncidentAt(ctx context.Context, userID string) (time.Time, error) {
	var last sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM score_events
		WHERE user_id = $1 AND event_type = $2
	`, userID, EventIncidentReported).Scan(&last)
	if err != nil {
		return time.Time{}, persistErr("last incident", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

func (p *PostgresStore) IncidentEvents(ctx context.Context, userID string) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, impact, description, previous_score, new_score,
		       COALESCE(report_id, ''), COALESCE(dispute_id, ''), created_at
		FROM score_events
		WHERE user_id = $1 AND event_type = $2 AND report_id IS NOT NULL
		ORDER BY created_at DESC
	`, userID, EventIncidentReported)
	if err != nil {
		return nil, persistErr("incident events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Type, &ev.Impact, &ev.Description,
			&ev.PreviousScore, &ev.NewScore, &ev.ReportID, &ev.DisputeID, &ev.CreatedAt); err != nil {
			return nil, persistErr("scan event", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *PostgresStore) SaveMilestone(ctx context.Context, milestone *Milestone) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO milestones (id, user_id, milestone_type, milestone_value, achieved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, milestone_type, milestone_value) DO NOTHING
	`, milestone.ID, milestone.UserID, milestone.MilestoneType, milestone.MilestoneValue, milestone.AchievedAt)
	if err != nil {
		return false, persistErr("save milestone", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("save milestone", err)
	}
	return n > 0, nil
}

func (p *PostgresStore) Milestones(ctx context.Context, userID string, limit int) ([]*Milestone, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, milestone_type, milestone_value, achieved_at
		FROM milestones
		WHERE user_id = $1
		ORDER BY achieved_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, persistErr("milestones", err)
	}
	defer rows.Close()

	milestones := []*Milestone{}
	for rows.Next() {
		m := &Milestone{}
		if err := rows.Scan(&m.ID, &m.UserID, &m.MilestoneType, &m.MilestoneValue, &m.AchievedAt); err != nil {
			return nil, persistErr("scan milestone", err)
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// PostgresWeightStore implements WeightStore with PostgreSQL.
type PostgresWeightStore struct {
	db *sql.DB
}

// NewPostgresWeightStore creates a new PostgreSQL-backed weight store.
func NewPostgresWeightStore(db *sql.DB) *PostgresWeightStore {
	return &PostgresWeightStore{db: db}
}

func (p *PostgresWeightStore) Get(ctx context.Context, incidentType string) (*IncidentWeight, error) {
	w := &IncidentWeight{IncidentType: incidentType}
	err := p.db.QueryRowContext(ctx, `
		SELECT base_penalty, severity_multiplier, updated_at
		FROM incident_weights WHERE incident_type = $1
	`, incidentType).Scan(&w.BasePenalty, &w.SeverityMultiplier, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWeightNotFound
	}
	if err != nil {
		return nil, persistErr("get weight", err)
	}
	return w, nil
}

func (p *PostgresWeightStore) List(ctx context.Context) ([]*IncidentWeight, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT incident_type, base_penalty, severity_multiplier, updated_at
		FROM incident_weights
		ORDER BY incident_type
	`)
	if err != nil {
		return nil, persistErr("list weights", err)
	}
	defer rows.Close()

	weights := []*IncidentWeight{}
	for rows.Next() {
		w := &IncidentWeight{}
		if err := rows.Scan(&w.IncidentType, &w.BasePenalty, &w.SeverityMultiplier, &w.UpdatedAt); err != nil {
			return nil, persistErr("scan weight", err)
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

func (p *PostgresWeightStore) Upsert(ctx context.Context, w *IncidentWeight) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO incident_weights (incident_type, base_penalty, severity_multiplier, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (incident_type) DO UPDATE SET
			base_penalty        = EXCLUDED.base_penalty,
			severity_multiplier = EXCLUDED.severity_multiplier,
			updated_at          = NOW()
	`, w.IncidentType, w.BasePenalty, w.SeverityMultiplier)
	if err != nil {
		return persistErr("upsert weight", err)
	}
	return nil
}
