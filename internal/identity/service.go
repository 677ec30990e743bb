package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/identity/verificationsession"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/roadwatch/roadwatch/internal/idgen"
	"github.com/roadwatch/roadwatch/internal/score"
)

// sessionAPI abstracts the Stripe verification session calls so the
// service is testable without network access.
type sessionAPI interface {
	New(params *stripe.IdentityVerificationSessionParams) (*stripe.IdentityVerificationSession, error)
}

type stripeSessions struct{}

func (stripeSessions) New(params *stripe.IdentityVerificationSessionParams) (*stripe.IdentityVerificationSession, error) {
	return verificationsession.New(params)
}

// Config holds Stripe configuration. An empty SecretKey disables Stripe
// and puts the service in manual mode.
type Config struct {
	SecretKey     string
	WebhookSecret string
}

// Service runs the verification flow and initializes verified drivers'
// score aggregates.
type Service struct {
	store         Store
	engine        *score.Engine
	sessions      sessionAPI
	webhookSecret string
	enabled       bool
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates an identity service. With an empty secret key the
// service operates in manual mode: no Stripe sessions, webhook rejected.
func NewService(store Store, engine *score.Engine, cfg Config, logger *slog.Logger) *Service {
	enabled := cfg.SecretKey != ""
	if enabled {
		stripe.Key = cfg.SecretKey
	}
	return &Service{
		store:         store,
		engine:        engine,
		sessions:      stripeSessions{},
		webhookSecret: cfg.WebhookSecret,
		enabled:       enabled,
		logger:        logger,
		now:           time.Now,
	}
}

// Enabled reports whether Stripe is configured.
func (s *Service) Enabled() bool { return s.enabled }

// StartResult is the response to a verification start: the stored record
// plus the Stripe hand-off the client needs.
type StartResult struct {
	Verification *Verification `json:"verification"`
	ClientSecret string        `json:"clientSecret,omitempty"`
	RedirectURL  string        `json:"redirectUrl,omitempty"`
}

// StartVerification begins identity verification for a driver. Repeat
// calls for an already-verified driver fail; a pending verification is
// returned as-is so clients can resume it.
func (s *Service) StartVerification(ctx context.Context, userID string) (*StartResult, error) {
	existing, err := s.store.GetByUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Status == StatusVerified {
			return nil, ErrAlreadyVerified
		}
		return &StartResult{Verification: existing}, nil
	}

	if !s.enabled {
		return nil, ErrStripeDisabled
	}

	params := &stripe.IdentityVerificationSessionParams{
		Params: stripe.Params{Context: ctx},
		Type:   stripe.String(string(stripe.IdentityVerificationSessionTypeDocument)),
	}
	params.AddMetadata("user_id", userID)

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe session: %w", err)
	}

	v := &Verification{
		ID:              idgen.WithPrefix("idv_"),
		UserID:          userID,
		StripeSessionID: sess.ID,
		Status:          StatusPending,
		CreatedAt:       s.now(),
	}
	if err := s.store.Create(ctx, v); err != nil {
		return nil, err
	}

	s.logger.Info("verification started", "user", userID, "session", sess.ID)
	return &StartResult{
		Verification: v,
		ClientSecret: sess.ClientSecret,
		RedirectURL:  sess.URL,
	}, nil
}

// GetVerification returns a driver's verification record.
func (s *Service) GetVerification(ctx context.Context, userID string) (*Verification, error) {
	return s.store.GetByUser(ctx, userID)
}

// HandleWebhook processes a Stripe Identity webhook delivery. Signature
// verification uses the endpoint secret; bad signatures are rejected.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.enabled {
		return ErrStripeDisabled
	}

	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}

	switch event.Type {
	case "identity.verification_session.verified":
		var sess stripe.IdentityVerificationSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode verification session: %w", err)
		}
		return s.markVerified(ctx, sess.ID)
	case "identity.verification_session.canceled":
		var sess stripe.IdentityVerificationSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decode verification session: %w", err)
		}
		return s.markFailed(ctx, sess.ID)
	default:
		// Ignore event types we don't subscribe to.
		return nil
	}
}

// ConfirmManually verifies a driver without Stripe (admin and demo mode).
func (s *Service) ConfirmManually(ctx context.Context, userID string) (*Verification, error) {
	v, err := s.store.GetByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		v = &Verification{
			ID:        idgen.WithPrefix("idv_"),
			UserID:    userID,
			Status:    StatusPending,
			CreatedAt: s.now(),
		}
		if err := s.store.Create(ctx, v); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if v.Status == StatusVerified {
		return nil, ErrAlreadyVerified
	}

	now := s.now()
	if err := s.store.SetStatus(ctx, v.ID, StatusVerified, now); err != nil {
		return nil, err
	}
	v.Status = StatusVerified
	v.VerifiedAt = &now

	if err := s.initializeScore(ctx, userID); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) markVerified(ctx context.Context, sessionID string) error {
	v, err := s.store.GetBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if v.Status == StatusVerified {
		// Stripe retries deliveries; a repeat is not an error.
		return nil
	}
	if err := s.store.SetStatus(ctx, v.ID, StatusVerified, s.now()); err != nil {
		return err
	}
	return s.initializeScore(ctx, v.UserID)
}

func (s *Service) markFailed(ctx context.Context, sessionID string) error {
	v, err := s.store.GetBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if v.Status != StatusPending {
		return nil
	}
	return s.store.SetStatus(ctx, v.ID, StatusFailed, s.now())
}

// initializeScore seeds the verified driver's aggregate at the starting
// score so their first read is a warm hit.
func (s *Service) initializeScore(ctx context.Context, userID string) error {
	agg, err := s.engine.EnsureAggregate(ctx, userID)
	if err != nil {
		return fmt.Errorf("initialize score: %w", err)
	}
	s.logger.Info("driver verified, score initialized",
		"user", userID,
		"score", agg.CurrentScore,
	)
	return nil
}
