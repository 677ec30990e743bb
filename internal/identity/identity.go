// Package identity manages driver identity verification through Stripe
// Identity. A driver who passes verification gets their score aggregate
// initialized eagerly, so their first read is never a cold start.
//
// If Stripe is not configured (no secret key), verification runs in manual
// mode: the admin confirm endpoint is the only way to verify a driver.
package identity

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound        = errors.New("identity: verification not found")
	ErrAlreadyVerified = errors.New("identity: driver already verified")
	ErrStripeDisabled  = errors.New("identity: stripe not configured")
)

// Status is a verification's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// Verification tracks one driver's identity check.
type Verification struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	StripeSessionID string     `json:"stripeSessionId,omitempty"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
}

// Store persists verifications. One verification per driver.
type Store interface {
	Create(ctx context.Context, v *Verification) error
	GetByUser(ctx context.Context, userID string) (*Verification, error)
	GetBySession(ctx context.Context, sessionID string) (*Verification, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time) error
}
