//go:build integration

package ingest

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

func TestPostgres_ReportRoundTrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	r := &Report{
		ID:             "rpt_pg_1",
		ReporterID:     "citizen-1",
		ReportedUserID: "driver-1",
		IncidentType:   "speeding",
		Description:    "well over the limit",
		Latitude:       37.77,
		Longitude:      -122.42,
		Status:         StatusScored,
		PenaltyApplied: -10,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.CreateReport(ctx, r); err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}

	got, err := store.GetReport(ctx, "rpt_pg_1")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if got.IncidentType != "speeding" || got.PenaltyApplied != -10 {
		t.Errorf("Report mismatch: %+v", got)
	}

	if _, err := store.GetReport(ctx, "rpt_missing"); !errors.Is(err, ErrReportNotFound) {
		t.Errorf("Expected ErrReportNotFound, got %v", err)
	}
}

func TestPostgres_SetReportOutcome(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	r := &Report{
		ID:             "rpt_pg_2",
		ReporterID:     "citizen-1",
		ReportedUserID: "driver-1",
		IncidentType:   "speeding",
		Status:         StatusScored,
		PenaltyApplied: -10,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.CreateReport(ctx, r); err != nil {
		t.Fatal(err)
	}

	if err := store.SetReportOutcome(ctx, "rpt_pg_2", StatusOverturned, -10); err != nil {
		t.Fatalf("SetReportOutcome failed: %v", err)
	}

	got, err := store.GetReport(ctx, "rpt_pg_2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusOverturned {
		t.Errorf("Expected status overturned, got %s", got.Status)
	}
}

func TestPostgres_IncidentTypesDirectory(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	for i, typ := range []string{"speeding", "red_light"} {
		r := &Report{
			ID:             "rpt_dir_" + string(rune('a'+i)),
			ReporterID:     "citizen-1",
			ReportedUserID: "driver-1",
			IncidentType:   typ,
			Status:         StatusScored,
			CreatedAt:      time.Now().UTC(),
		}
		if err := store.CreateReport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	types, err := store.IncidentTypes(ctx, []string{"rpt_dir_a", "rpt_dir_b", "rpt_nope"})
	if err != nil {
		t.Fatalf("IncidentTypes failed: %v", err)
	}
	if types["rpt_dir_a"] != "speeding" || types["rpt_dir_b"] != "red_light" {
		t.Errorf("Directory mismatch: %v", types)
	}
	if _, ok := types["rpt_nope"]; ok {
		t.Error("Unknown report id must be absent from the directory")
	}
}

func TestPostgres_DisputeOnePerReport(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	r := &Report{
		ID:             "rpt_pg_3",
		ReporterID:     "citizen-1",
		ReportedUserID: "driver-1",
		IncidentType:   "speeding",
		Status:         StatusScored,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.CreateReport(ctx, r); err != nil {
		t.Fatal(err)
	}

	d := &Dispute{
		ID:        "dsp_pg_1",
		ReportID:  "rpt_pg_3",
		UserID:    "driver-1",
		Reason:    "not me",
		Status:    DisputeOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateDispute(ctx, d); err != nil {
		t.Fatalf("CreateDispute failed: %v", err)
	}

	dup := *d
	dup.ID = "dsp_pg_2"
	if err := store.CreateDispute(ctx, &dup); !errors.Is(err, ErrAlreadyDisputed) {
		t.Errorf("Expected ErrAlreadyDisputed, got %v", err)
	}

	if err := store.ResolveDispute(ctx, "dsp_pg_1", DisputeOverturned, time.Now().UTC()); err != nil {
		t.Fatalf("ResolveDispute failed: %v", err)
	}

	got, err := store.GetDispute(ctx, "dsp_pg_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != DisputeOverturned || got.ResolvedAt == nil {
		t.Errorf("Dispute not resolved: %+v", got)
	}
}
