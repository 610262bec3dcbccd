package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/medflow/internal/domain/patient"
)

func TestPatientRepo_CreateAndGet(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := patient.NewRepoPG(globalPool)
	userID := uuid.New()

	p := createTestPatient(t, userID)
	if p.CreatedAt.IsZero() {
		t.Error("expected created_at to be populated")
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != userID || got.HistoryText != sampleHistory {
		t.Errorf("unexpected row %+v", got)
	}
	if got.Metadata["ward"] != "medical" {
		t.Errorf("expected metadata round trip, got %v", got.Metadata)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPatientRepo_UpdateStatusSetsAnalyzedAt(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := patient.NewRepoPG(globalPool)
	p := createTestPatient(t, uuid.New())

	if err := repo.UpdateStatus(ctx, p.ID, patient.StatusAnalyzing); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetByID(ctx, p.ID)
	if got.AnalyzedAt != nil {
		t.Error("analyzed_at should stay empty until completed")
	}

	if err := repo.UpdateStatus(ctx, p.ID, patient.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetByID(ctx, p.ID)
	if got.Status != patient.StatusCompleted || got.AnalyzedAt == nil {
		t.Errorf("expected completed with analyzed_at, got %s %v", got.Status, got.AnalyzedAt)
	}
}

func TestPatientRepo_DischargeMetadata(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := patient.NewRepoPG(globalPool)
	p := createTestPatient(t, uuid.New())

	meta := map[string]interface{}{
		patient.MetaAdmissionStatus: patient.AdmissionDischarged,
		patient.MetaDischargeDate:   "2026-03-04",
	}
	if err := repo.UpdateMetadata(ctx, p.ID, patient.StatusCompleted, meta); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	discharged, date := got.Discharge()
	if !discharged || date != "2026-03-04" {
		t.Errorf("expected discharged on 2026-03-04, got %v %q", discharged, date)
	}
}

func TestPatientRepo_SoftDeleteHidesRow(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := patient.NewRepoPG(globalPool)
	p := createTestPatient(t, uuid.New())

	if err := repo.SoftDelete(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected deleted patient hidden, got %v", err)
	}
	if err := repo.SoftDelete(ctx, p.ID); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected second delete to miss, got %v", err)
	}
}

func TestPatientRepo_ListAndCounts(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	repo := patient.NewRepoPG(globalPool)
	userID := uuid.New()

	first := createTestPatient(t, userID)
	createTestPatient(t, userID)
	createTestPatient(t, uuid.New())
	if err := repo.UpdateStatus(ctx, first.ID, patient.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	items, total, err := repo.ListByUser(ctx, userID, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 1 {
		t.Errorf("expected page of 1 out of 2, got %d of %d", len(items), total)
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	c, err := repo.Counts(ctx, userID, monthStart)
	if err != nil {
		t.Fatal(err)
	}
	want := patient.Counts{Total: 2, ThisMonth: 2, Pending: 1}
	if c != want {
		t.Errorf("expected %+v, got %+v", want, c)
	}
}
