package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/airml/aodimpute/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestOpenAppliesPragmas(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	if err := New(db).Migrate(); err != nil {
		t.Fatalf("migrate on opened db: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	runID, err := store.CreateRun(models.Run{
		StartedAt:   time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC),
		DataDir:     "/data/aod",
		Seed:        42,
		Fraction:    0.03,
		Folds:       10,
		ModelSelect: "last",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := store.SetRunRows(runID, 100000, 3000); err != nil {
		t.Fatalf("SetRunRows: %v", err)
	}

	summary := models.CVSummary{MeanTrainR2: 0.91, MeanTrainRMSE: 0.05, MeanValR2: 0.72, MeanValRMSE: 0.11}
	if err := store.FinishRun(runID, summary, 5000); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatal("GetRun returned nil")
	}
	if run.Seed != 42 || run.Fraction != 0.03 || run.Folds != 10 {
		t.Errorf("run config = seed %d fraction %v folds %d", run.Seed, run.Fraction, run.Folds)
	}
	if !run.InputRows.Valid || run.InputRows.Int64 != 100000 {
		t.Errorf("InputRows = %+v, want 100000", run.InputRows)
	}
	if !run.SampledRows.Valid || run.SampledRows.Int64 != 3000 {
		t.Errorf("SampledRows = %+v, want 3000", run.SampledRows)
	}
	if !run.ImputedRows.Valid || run.ImputedRows.Int64 != 5000 {
		t.Errorf("ImputedRows = %+v, want 5000", run.ImputedRows)
	}
	if !run.MeanValR2.Valid || run.MeanValR2.Float64 != 0.72 {
		t.Errorf("MeanValR2 = %+v, want 0.72", run.MeanValR2)
	}
	if !run.CompletedAt.Valid {
		t.Error("CompletedAt not set")
	}
}

func TestGetRunMissing(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.GetRun(999)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run != nil {
		t.Errorf("GetRun(999) = %+v, want nil", run)
	}
}

func TestFoldMetricsRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	runID, err := store.CreateRun(models.Run{
		StartedAt:   time.Now().UTC(),
		DataDir:     "/data/aod",
		Seed:        42,
		Fraction:    0.03,
		Folds:       2,
		ModelSelect: "best",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	want := []models.FoldMetrics{
		{Fold: 1, TrainR2: 0.93, TrainRMSE: 0.04, ValR2: 0.70, ValRMSE: 0.12},
		{Fold: 2, TrainR2: 0.92, TrainRMSE: 0.05, ValR2: 0.74, ValRMSE: 0.10},
	}
	for _, fm := range want {
		if err := store.InsertFoldMetrics(runID, fm); err != nil {
			t.Fatalf("InsertFoldMetrics(%d): %v", fm.Fold, err)
		}
	}

	got, err := store.GetFoldMetrics(runID)
	if err != nil {
		t.Fatalf("GetFoldMetrics: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fold %d = %+v, want %+v", i+1, got[i], want[i])
		}
	}
}

func TestFoldMetricsDuplicateFold(t *testing.T) {
	store := setupTestStore(t)

	runID, err := store.CreateRun(models.Run{
		StartedAt:   time.Now().UTC(),
		DataDir:     "/data/aod",
		Seed:        1,
		Fraction:    0.03,
		Folds:       10,
		ModelSelect: "last",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	fm := models.FoldMetrics{Fold: 1, TrainR2: 0.9, TrainRMSE: 0.1, ValR2: 0.8, ValRMSE: 0.2}
	if err := store.InsertFoldMetrics(runID, fm); err != nil {
		t.Fatalf("InsertFoldMetrics: %v", err)
	}
	if err := store.InsertFoldMetrics(runID, fm); err == nil {
		t.Error("duplicate fold insert: expected unique constraint error")
	}
}
