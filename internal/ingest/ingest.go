// Package ingest is the intake layer for incident reports and disputes.
// It resolves penalties from the incident weight table, filters
// infrastructure hazards before they reach the score engine, and applies
// dispute reversals.
package ingest

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrReportNotFound      = errors.New("ingest: report not found")
	ErrDisputeNotFound     = errors.New("ingest: dispute not found")
	ErrUnknownIncidentType = errors.New("ingest: unknown incident type")
	ErrDisputeClosed       = errors.New("ingest: dispute already resolved")
	ErrAlreadyDisputed     = errors.New("ingest: report already disputed")
	ErrNotReportedDriver   = errors.New("ingest: dispute must come from the reported driver")
)

// ReportStatus is a report's lifecycle state.
type ReportStatus string

const (
	// StatusScored: the report penalized the driver's score.
	StatusScored ReportStatus = "scored"
	// StatusLogged: an infrastructure hazard, recorded but score-neutral.
	StatusLogged ReportStatus = "logged"
	// StatusOverturned: a dispute reversed the report's penalty.
	StatusOverturned ReportStatus = "overturned"
)

// Report is one submitted incident observation.
type Report struct {
	ID             string       `json:"id"`
	ReporterID     string       `json:"reporterId"`
	ReportedUserID string       `json:"reportedUserId"`
	IncidentType   string       `json:"incidentType"`
	Description    string       `json:"description,omitempty"`
	Latitude       float64      `json:"latitude,omitempty"`
	Longitude      float64      `json:"longitude,omitempty"`
	Status         ReportStatus `json:"status"`
	PenaltyApplied int          `json:"penaltyApplied"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// DisputeStatus is a dispute's lifecycle state.
type DisputeStatus string

const (
	DisputeOpen       DisputeStatus = "open"
	DisputeUpheld     DisputeStatus = "upheld"
	DisputeOverturned DisputeStatus = "overturned"
)

// Dispute contests one report. One dispute per report.
type Dispute struct {
	ID         string        `json:"id"`
	ReportID   string        `json:"reportId"`
	UserID     string        `json:"userId"`
	Reason     string        `json:"reason,omitempty"`
	Status     DisputeStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

// Store persists reports and disputes. IncidentTypes doubles as the
// score engine's report directory for the breakdown view.
type Store interface {
	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	SetReportOutcome(ctx context.Context, id string, status ReportStatus, penaltyApplied int) error
	ReportsForUser(ctx context.Context, userID string, limit int) ([]*Report, error)
	IncidentTypes(ctx context.Context, reportIDs []string) (map[string]string, error)

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	ResolveDispute(ctx context.Context, id string, status DisputeStatus, at time.Time) error
}
