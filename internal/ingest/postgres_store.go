package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ingest store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateReport(ctx context.Context, r *Report) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO incident_reports
			(id, reporter_id, reported_user, incident_type, description, latitude, longitude, status, penalty_applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.ReporterID, r.ReportedUserID, r.IncidentType, r.Description,
		r.Latitude, r.Longitude, r.Status, r.PenaltyApplied, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetReport(ctx context.Context, id string) (*Report, error) {
	r := &Report{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, reporter_id, reported_user, incident_type, COALESCE(description, ''),
		       COALESCE(latitude, 0), COALESCE(longitude, 0), status, penalty_applied, created_at
		FROM incident_reports WHERE id = $1
	`, id).Scan(&r.ID, &r.ReporterID, &r.ReportedUserID, &r.IncidentType, &r.Description,
		&r.Latitude, &r.Longitude, &r.Status, &r.PenaltyApplied, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) SetReportOutcome(ctx context.Context, id string, status ReportStatus, penaltyApplied int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE incident_reports SET status = $2, penalty_applied = $3 WHERE id = $1
	`, id, status, penaltyApplied)
	if err != nil {
		return fmt.Errorf("set report outcome: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (p *PostgresStore) ReportsForUser(ctx context.Context, userID string, limit int) ([]*Report, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, reporter_id, reported_user, incident_type, COALESCE(description, ''),
		       COALESCE(latitude, 0), COALESCE(longitude, 0), status, penalty_applied, created_at
		FROM incident_reports
		WHERE reported_user = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("reports for user: %w", err)
	}
	defer rows.Close()

	reports := []*Report{}
	for rows.Next() {
		r := &Report{}
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.ReportedUserID, &r.IncidentType, &r.Description,
			&r.Latitude, &r.Longitude, &r.Status, &r.PenaltyApplied, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (p *PostgresStore) IncidentTypes(ctx context.Context, reportIDs []string) (map[string]string, error) {
	if len(reportIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, incident_type FROM incident_reports WHERE id = ANY($1)
	`, pq.Array(reportIDs))
	if err != nil {
		return nil, fmt.Errorf("incident types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]string, len(reportIDs))
	for rows.Next() {
		var id, incidentType string
		if err := rows.Scan(&id, &incidentType); err != nil {
			return nil, fmt.Errorf("scan incident type: %w", err)
		}
		types[id] = incidentType
	}
	return types, rows.Err()
}

func (p *PostgresStore) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (id, report_id, user_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.ReportID, d.UserID, d.Reason, d.Status, d.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyDisputed
		}
		return fmt.Errorf("create dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	d := &Dispute{}
	var resolvedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, report_id, user_id, COALESCE(reason, ''), status, created_at, resolved_at
		FROM disputes WHERE id = $1
	`, id).Scan(&d.ID, &d.ReportID, &d.UserID, &d.Reason, &d.Status, &d.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return d, nil
}

func (p *PostgresStore) ResolveDispute(ctx context.Context, id string, status DisputeStatus, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET status = $2, resolved_at = $3 WHERE id = $1
	`, id, status, at)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}
