//go:build integration

package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roadwatch/roadwatch/internal/testutil"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	t.Cleanup(cleanup)
	return NewPostgresStore(db)
}

func TestPostgres_VerificationRoundTrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	v := &Verification{
		ID:              "ver_pg_1",
		UserID:          "driver-1",
		StripeSessionID: "vs_test_1",
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := store.Create(ctx, v); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	byUser, err := store.GetByUser(ctx, "driver-1")
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if byUser.ID != "ver_pg_1" || byUser.Status != StatusPending {
		t.Errorf("Verification mismatch: %+v", byUser)
	}

	bySession, err := store.GetBySession(ctx, "vs_test_1")
	if err != nil {
		t.Fatalf("GetBySession failed: %v", err)
	}
	if bySession.ID != "ver_pg_1" {
		t.Errorf("Session lookup mismatch: %+v", bySession)
	}

	if _, err := store.GetByUser(ctx, "driver-unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_SetStatus(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	v := &Verification{
		ID:        "ver_pg_2",
		UserID:    "driver-2",
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(ctx, v); err != nil {
		t.Fatal(err)
	}

	verifiedAt := time.Now().UTC()
	if err := store.SetStatus(ctx, "ver_pg_2", StatusVerified, verifiedAt); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	got, err := store.GetByUser(ctx, "driver-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusVerified {
		t.Errorf("Expected verified, got %s", got.Status)
	}
	if got.VerifiedAt == nil {
		t.Error("Expected verifiedAt to be set")
	}
}

func TestPostgres_OneVerificationPerDriver(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	v := &Verification{
		ID:        "ver_pg_3",
		UserID:    "driver-3",
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Create(ctx, v); err != nil {
		t.Fatal(err)
	}

	dup := *v
	dup.ID = "ver_pg_4"
	if err := store.Create(ctx, &dup); !errors.Is(err, ErrAlreadyVerified) {
		t.Errorf("Expected ErrAlreadyVerified for second verification of the same driver, got %v", err)
	}
}
