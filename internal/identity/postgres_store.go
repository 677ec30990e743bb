package identity

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

// NewPostgresStore creates a new PostgreSQL-backed identity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, v *Verification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO identity_verifications (id, user_id, stripe_session_id, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, v.ID, v.UserID, v.StripeSessionID, v.Status, v.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyVerified
		}
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByUser(ctx context.Context, userID string) (*Verification, error) {
	return p.get(ctx, `user_id = $1`, userID)
}

func (p *PostgresStore) GetBySession(ctx context.Context, sessionID string) (*Verification, error) {
	return p.get(ctx, `stripe_session_id = $1`, sessionID)
}

func (p *PostgresStore) get(ctx context.Context, where, arg string) (*Verification, error) {
	v := &Verification{}
	var sessionID sql.NullString
	var verifiedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, stripe_session_id, status, created_at, verified_at
		FROM identity_verifications WHERE `+where, arg,
	).Scan(&v.ID, &v.UserID, &sessionID, &v.Status, &v.CreatedAt, &verifiedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	v.StripeSessionID = sessionID.String
	if verifiedAt.Valid {
		v.VerifiedAt = &verifiedAt.Time
	}
	return v, nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	var verifiedAt any
	if status == StatusVerified {
		verifiedAt = at
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE identity_verifications SET status = $2, verified_at = COALESCE($3, verified_at)
		WHERE id = $1
	`, id, status, verifiedAt)
	if err != nil {
		return fmt.Errorf("set verification status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
