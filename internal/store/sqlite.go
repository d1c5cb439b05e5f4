package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/airml/aodimpute/internal/models"
)

// Open opens the run-history database and applies connection pragmas,
// failing loudly if any pragma cannot be set.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// Store persists run history: one row per imputation cycle plus per-fold
// metrics, queryable after the process has exited.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateRun(run models.Run) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO runs (started_at, data_dir, seed, fraction, folds, model_select)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.StartedAt, run.DataDir, run.Seed, run.Fraction, run.Folds, run.ModelSelect)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) SetRunRows(runID int64, inputRows, sampledRows int) error {
	_, err := s.db.Exec(`
		UPDATE runs SET input_rows = ?, sampled_rows = ? WHERE id = ?
	`, inputRows, sampledRows, runID)
	return err
}

func (s *Store) InsertFoldMetrics(runID int64, fm models.FoldMetrics) error {
	_, err := s.db.Exec(`
		INSERT INTO fold_metrics (run_id, fold, train_r2, train_rmse, val_r2, val_rmse)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, fm.Fold, fm.TrainR2, fm.TrainRMSE, fm.ValR2, fm.ValRMSE)
	return err
}

func (s *Store) FinishRun(runID int64, summary models.CVSummary, imputedRows int) error {
	_, err := s.db.Exec(`
		UPDATE runs SET
			imputed_rows = ?,
			mean_train_r2 = ?,
			mean_val_r2 = ?,
			completed_at = ?
		WHERE id = ?
	`, imputedRows, summary.MeanTrainR2, summary.MeanValR2, time.Now().UTC(), runID)
	return err
}

func (s *Store) GetRun(runID int64) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, data_dir, seed, fraction, folds, model_select,
		       input_rows, sampled_rows, imputed_rows, mean_train_r2, mean_val_r2, completed_at
		FROM runs WHERE id = ?
	`, runID)

	var run models.Run
	err := row.Scan(&run.ID, &run.StartedAt, &run.DataDir, &run.Seed, &run.Fraction,
		&run.Folds, &run.ModelSelect, &run.InputRows, &run.SampledRows,
		&run.ImputedRows, &run.MeanTrainR2, &run.MeanValR2, &run.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) GetFoldMetrics(runID int64) ([]models.FoldMetrics, error) {
	rows, err := s.db.Query(`
		SELECT fold, train_r2, train_rmse, val_r2, val_rmse
		FROM fold_metrics WHERE run_id = ? ORDER BY fold
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FoldMetrics
	for rows.Next() {
		var fm models.FoldMetrics
		if err := rows.Scan(&fm.Fold, &fm.TrainR2, &fm.TrainRMSE, &fm.ValR2, &fm.ValRMSE); err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}
