package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadwatch/roadwatch/internal/idgen"
	"github.com/roadwatch/roadwatch/internal/score"
	"github.com/roadwatch/roadwatch/internal/traces"
)

// Pipeline turns submitted reports into score mutations. It resolves the
// penalty from the weight table and keeps infrastructure hazards out of
// the score engine entirely.
type Pipeline struct {
	store   Store
	weights score.WeightStore
	engine  *score.Engine
	logger  *slog.Logger
	now     func() time.Time
}

// NewPipeline creates an ingest pipeline.
func NewPipeline(store Store, weights score.WeightStore, engine *score.Engine, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		weights: weights,
		engine:  engine,
		logger:  logger,
		now:     time.Now,
	}
}

// SubmitRequest is the intake payload for one incident observation.
type SubmitRequest struct {
	ReporterID     string  `json:"reporterId"`
	ReportedUserID string  `json:"reportedUserId"`
	IncidentType   string  `json:"incidentType"`
	Description    string  `json:"description"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

// SubmitReport records a report and, for driver-behavior categories,
// debits the reported driver's score. Infrastructure hazards (zero base
// penalty) are logged without ever touching the engine.
func (p *Pipeline) SubmitReport(ctx context.Context, req SubmitRequest) (*Report, error) {
	w, err := p.weights.Get(ctx, req.IncidentType)
	if errors.Is(err, score.ErrWeightNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIncidentType, req.IncidentType)
	}
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "ingest.submit_report",
		traces.UserID(req.ReportedUserID),
	)
	defer span.End()

	report := &Report{
		ID:             idgen.New(),
		ReporterID:     req.ReporterID,
		ReportedUserID: req.ReportedUserID,
		IncidentType:   req.IncidentType,
		Description:    req.Description,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		Status:         StatusLogged,
		CreatedAt:      p.now(),
	}

	if w.Infrastructure() {
		if err := p.store.CreateReport(ctx, report); err != nil {
			return nil, err
		}
		p.logger.Info("infrastructure hazard logged",
			"report", report.ID,
			"type", report.IncidentType,
		)
		return report, nil
	}

	// The report row exists before the mutation, so a retry after a
	// persistence failure finds the linked-id dedup instead of
	// double-penalizing.
	report.Status = StatusScored
	if err := p.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	ev, err := p.engine.ApplyMutation(ctx, score.Mutation{
		UserID:          req.ReportedUserID,
		Type:            score.EventIncidentReported,
		RequestedImpact: -w.Penalty(),
		Description:     req.IncidentType,
		ReportID:        report.ID,
	})
	if err != nil {
		return nil, err
	}
	if ev == nil {
		// The multiplier rounded the penalty to zero: score-neutral
		// after all.
		report.Status = StatusLogged
		if err := p.store.SetReportOutcome(ctx, report.ID, StatusLogged, 0); err != nil {
			return nil, err
		}
		return report, nil
	}

	report.PenaltyApplied = ev.Impact
	if err := p.store.SetReportOutcome(ctx, report.ID, StatusScored, ev.Impact); err != nil {
		return nil, err
	}
	return report, nil
}

// GetReport returns one report by id.
func (p *Pipeline) GetReport(ctx context.Context, id string) (*Report, error) {
	return p.store.GetReport(ctx, id)
}

// ReportsForUser lists reports filed against a driver, newest first.
func (p *Pipeline) ReportsForUser(ctx context.Context, userID string, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.store.ReportsForUser(ctx, userID, limit)
}

// OpenDispute lets the reported driver contest a scored report.
func (p *Pipeline) OpenDispute(ctx context.Context, reportID, userID, reason string) (*Dispute, error) {
	report, err := p.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.ReportedUserID != userID {
		return nil, ErrNotReportedDriver
	}

	d := &Dispute{
		ID:        idgen.New(),
		ReportID:  reportID,
		UserID:    userID,
		Reason:    reason,
		Status:    DisputeOpen,
		CreatedAt: p.now(),
	}
	if err := p.store.CreateDispute(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveDispute closes a dispute. An overturned dispute credits the
// driver back the penalty that was actually applied (the clamped value,
// not the requested one), so the score returns exactly to where it was.
func (p *Pipeline) ResolveDispute(ctx context.Context, disputeID string, overturned bool) (*Dispute, error) {
	d, err := p.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != DisputeOpen {
		return nil, ErrDisputeClosed
	}

	status := DisputeUpheld
	if overturned {
		status = DisputeOverturned
	}

	if overturned {
		report, err := p.store.GetReport(ctx, d.ReportID)
		if err != nil {
			return nil, err
		}

		_, err = p.engine.ApplyMutation(ctx, score.Mutation{
			UserID:          d.UserID,
			Type:            score.EventDisputeResolved,
			RequestedImpact: -report.PenaltyApplied,
			Description:     "dispute resolved in driver's favor",
			DisputeID:       d.ID,
		})
		if err != nil && !errors.Is(err, score.ErrAlreadyApplied) {
			return nil, err
		}

		if err := p.store.SetReportOutcome(ctx, d.ReportID, StatusOverturned, report.PenaltyApplied); err != nil {
			return nil, err
		}
	}

	now := p.now()
	if err := p.store.ResolveDispute(ctx, d.ID, status, now); err != nil {
		return nil, err
	}

	d.Status = status
	d.ResolvedAt = &now
	p.logger.Info("dispute resolved",
		"dispute", d.ID,
		"report", d.ReportID,
		"status", status,
	)
	return d, nil
}
