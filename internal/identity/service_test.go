package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/roadwatch/roadwatch/internal/score"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSessions is a test double for the Stripe verification session API.
type stubSessions struct {
	created []*stripe.IdentityVerificationSessionParams
	nextID  string
}

func (s *stubSessions) New(params *stripe.IdentityVerificationSessionParams) (*stripe.IdentityVerificationSession, error) {
	s.created = append(s.created, params)
	return &stripe.IdentityVerificationSession{
		ID:           s.nextID,
		ClientSecret: s.nextID + "_secret",
		URL:          "https://verify.stripe.com/" + s.nextID,
		Status:       stripe.IdentityVerificationSessionStatusRequiresInput,
	}, nil
}

const testWebhookSecret = "whsec_test"

func newTestService(enabled bool) (*Service, *stubSessions, *score.MemoryStore) {
	scoreStore := score.NewMemoryStore()
	engine := score.NewEngine(scoreStore, testLogger())
	cfg := Config{WebhookSecret: testWebhookSecret}
	if enabled {
		cfg.SecretKey = "sk_test_xyz"
	}
	svc := NewService(NewMemoryStore(), engine, cfg, testLogger())
	stub := &stubSessions{nextID: "vs_1"}
	svc.sessions = stub
	return svc, stub, scoreStore
}

func TestStartVerification(t *testing.T) {
	svc, stub, _ := newTestService(true)
	ctx := context.Background()

	result, err := svc.StartVerification(ctx, "driver-1")
	if err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}
	if result.Verification.Status != StatusPending {
		t.Errorf("expected pending, got %s", result.Verification.Status)
	}
	if result.Verification.StripeSessionID != "vs_1" {
		t.Errorf("session id not recorded: %+v", result.Verification)
	}
	if result.ClientSecret == "" || result.RedirectURL == "" {
		t.Errorf("client hand-off missing: %+v", result)
	}
	if len(stub.created) != 1 {
		t.Fatalf("expected 1 stripe session, got %d", len(stub.created))
	}
	if got := stub.created[0].Metadata["user_id"]; got != "driver-1" {
		t.Errorf("user_id metadata = %q", got)
	}
}

func TestStartVerificationResumesPending(t *testing.T) {
	svc, stub, _ := newTestService(true)
	ctx := context.Background()

	first, err := svc.StartVerification(ctx, "driver-1")
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	second, err := svc.StartVerification(ctx, "driver-1")
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if second.Verification.ID != first.Verification.ID {
		t.Error("pending verification must be resumed, not recreated")
	}
	if len(stub.created) != 1 {
		t.Errorf("expected no second stripe session, got %d", len(stub.created))
	}
}

func TestStartVerificationDisabled(t *testing.T) {
	svc, _, _ := newTestService(false)

	if _, err := svc.StartVerification(context.Background(), "driver-1"); !errors.Is(err, ErrStripeDisabled) {
		t.Errorf("expected ErrStripeDisabled, got %v", err)
	}
}

func TestConfirmManuallyInitializesScore(t *testing.T) {
	svc, _, scoreStore := newTestService(false)
	ctx := context.Background()

	v, err := svc.ConfirmManually(ctx, "driver-1")
	if err != nil {
		t.Fatalf("ConfirmManually failed: %v", err)
	}
	if v.Status != StatusVerified || v.VerifiedAt == nil {
		t.Errorf("unexpected verification: %+v", v)
	}

	agg, err := scoreStore.GetAggregate(ctx, "driver-1")
	if err != nil {
		t.Fatalf("aggregate not initialized: %v", err)
	}
	if agg.CurrentScore != score.InitialScore || agg.PreviousScore != score.InitialScore {
		t.Errorf("expected %d/%d, got %d/%d",
			score.InitialScore, score.InitialScore, agg.CurrentScore, agg.PreviousScore)
	}

	if _, err := svc.ConfirmManually(ctx, "driver-1"); !errors.Is(err, ErrAlreadyVerified) {
		t.Errorf("expected ErrAlreadyVerified, got %v", err)
	}
}

// signPayload produces a Stripe-Signature header for a test payload.
func signPayload(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookVerifiedEvent(t *testing.T) {
	svc, _, scoreStore := newTestService(true)
	ctx := context.Background()

	if _, err := svc.StartVerification(ctx, "driver-1"); err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": %q,
		"type": "identity.verification_session.verified",
		"data": {"object": {"id": "vs_1", "status": "verified"}}
	}`, stripe.APIVersion))

	if err := svc.HandleWebhook(ctx, payload, signPayload(payload, time.Now())); err != nil {
		t.Fatalf("HandleWebhook failed: %v", err)
	}

	v, err := svc.GetVerification(ctx, "driver-1")
	if err != nil {
		t.Fatalf("GetVerification failed: %v", err)
	}
	if v.Status != StatusVerified {
		t.Errorf("expected verified, got %s", v.Status)
	}
	if _, err := scoreStore.GetAggregate(ctx, "driver-1"); err != nil {
		t.Errorf("aggregate not initialized: %v", err)
	}

	// Stripe redelivers; a repeat must be accepted silently.
	if err := svc.HandleWebhook(ctx, payload, signPayload(payload, time.Now())); err != nil {
		t.Errorf("redelivery must not error: %v", err)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	svc, _, _ := newTestService(true)

	payload := []byte(`{"type": "identity.verification_session.verified"}`)
	if err := svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef"); err == nil {
		t.Error("expected signature rejection")
	}
}

func TestWebhookCanceledEvent(t *testing.T) {
	svc, _, _ := newTestService(true)
	ctx := context.Background()

	if _, err := svc.StartVerification(ctx, "driver-1"); err != nil {
		t.Fatalf("StartVerification failed: %v", err)
	}

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"api_version": %q,
		"type": "identity.verification_session.canceled",
		"data": {"object": {"id": "vs_1", "status": "canceled"}}
	}`, stripe.APIVersion))

	if err := svc.HandleWebhook(ctx, payload, signPayload(payload, time.Now())); err != nil {
		t.Fatalf("HandleWebhook failed: %v", err)
	}

	v, _ := svc.GetVerification(ctx, "driver-1")
	if v.Status != StatusFailed {
		t.Errorf("expected failed, got %s", v.Status)
	}
}
