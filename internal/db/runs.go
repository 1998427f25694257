package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/shoepad/internal/timeutil"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run is one cross-validation training run.
type Run struct {
	RunID             string   `json:"run_id"`
	StartedUnixNanos  int64    `json:"started_unix_nanos"`
	FinishedUnixNanos *int64   `json:"finished_unix_nanos,omitempty"`
	Status            string   `json:"status"`
	Error             *string  `json:"error,omitempty"`
	DataDir           string   `json:"data_dir"`
	NumSamples        int      `json:"num_samples"`
	Classes           []string `json:"classes"`
	TestSize          float64  `json:"test_size"`
	Folds             int      `json:"folds"`
	Epochs            int      `json:"epochs"`
	BatchSize         int      `json:"batch_size"`
	Seed              int64    `json:"seed"`
	BestFold          *int     `json:"best_fold,omitempty"`
	BestTestLoss      *float64 `json:"best_test_loss,omitempty"`
	ExportPath        *string  `json:"export_path,omitempty"`
}

// Fold is the outcome of one fold of a run. Fold numbers start at 1.
type Fold struct {
	RunID        string   `json:"run_id"`
	Fold         int      `json:"fold"`
	TrainSize    int      `json:"train_size"`
	ValSize      int      `json:"val_size"`
	TestSize     int      `json:"test_size"`
	EpochsRun    int      `json:"epochs_run"`
	BestValLoss  *float64 `json:"best_val_loss,omitempty"`
	TestLoss     float64  `json:"test_loss"`
	TestAccuracy float64  `json:"test_accuracy"`
}

// Epoch is one row of a fold's training history.
type Epoch struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"learning_rate"`
}

// RunStore persists training runs, their folds and epoch histories.
type RunStore struct {
	db    *DB
	clock timeutil.Clock
}

// NewRunStore returns a store on db. A nil clock uses the wall clock.
func NewRunStore(db *DB, clock timeutil.Clock) *RunStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunStore{db: db, clock: clock}
}

// InsertRun records the start of a run. An empty RunID is replaced with a
// new UUID and a zero start time with the current time.
func (s *RunStore) InsertRun(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedUnixNanos == 0 {
		run.StartedUnixNanos = s.clock.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	classes, err := json.Marshal(run.Classes)
	if err != nil {
		return fmt.Errorf("encode classes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO training_runs (
			run_id, started_unix_nanos, status, data_dir, num_samples,
			classes_json, test_size, folds, epochs, batch_size, seed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedUnixNanos, run.Status, run.DataDir, run.NumSamples,
		string(classes), run.TestSize, run.Folds, run.Epochs, run.BatchSize, run.Seed,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with its best fold, or failed when runErr
// is non-nil.
func (s *RunStore) FinishRun(ctx context.Context, runID string, bestFold int, bestLoss float64, exportPath string, runErr error) error {
	now := s.clock.Now().UnixNano()
	var res sql.Result
	var err error
	if runErr != nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE training_runs SET finished_unix_nanos = ?, status = ?, error = ?
			WHERE run_id = ?`,
			now, RunFailed, runErr.Error(), runID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE training_runs
			SET finished_unix_nanos = ?, status = ?, best_fold = ?, best_test_loss = ?, export_path = ?
			WHERE run_id = ?`,
			now, RunFinished, bestFold, bestLoss, exportPath, runID)
	}
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireRow(res, "run "+runID)
}

// InsertFold records the result of one fold.
func (s *RunStore) InsertFold(ctx context.Context, f Fold) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_folds (
			run_id, fold, train_size, val_size, test_size, epochs_run,
			best_val_loss, test_loss, test_accuracy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.Fold, f.TrainSize, f.ValSize, f.TestSize, f.EpochsRun,
		f.BestValLoss, f.TestLoss, f.TestAccuracy,
	)
	if err != nil {
		return fmt.Errorf("insert fold: %w", err)
	}
	return nil
}

// InsertEpochs records a fold's history in one transaction.
func (s *RunStore) InsertEpochs(ctx context.Context, runID string, fold int, epochs []Epoch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO training_epochs (
			run_id, fold, epoch, loss, accuracy, val_loss, val_accuracy, learning_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range epochs {
		if _, err := stmt.ExecContext(ctx, runID, fold, e.Epoch, e.Loss, e.Accuracy, e.ValLoss, e.ValAccuracy, e.LearningRate); err != nil {
			return fmt.Errorf("insert epoch %d: %w", e.Epoch, err)
		}
	}
	return tx.Commit()
}

const runColumns = `
	run_id, started_unix_nanos, finished_unix_nanos, status, error, data_dir,
	num_samples, classes_json, test_size, folds, epochs, batch_size, seed,
	best_fold, best_test_loss, export_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var classes string
	var finished sql.NullInt64
	var errStr, export sql.NullString
	var bestFold sql.NullInt64
	var bestLoss sql.NullFloat64
	if err := row.Scan(
		&r.RunID, &r.StartedUnixNanos, &finished, &r.Status, &errStr, &r.DataDir,
		&r.NumSamples, &classes, &r.TestSize, &r.Folds, &r.Epochs, &r.BatchSize, &r.Seed,
		&bestFold, &bestLoss, &export,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(classes), &r.Classes); err != nil {
		return nil, fmt.Errorf("decode classes of run %s: %w", r.RunID, err)
	}
	if finished.Valid {
		r.FinishedUnixNanos = &finished.Int64
	}
	if errStr.Valid {
		r.Error = &errStr.String
	}
	if bestFold.Valid {
		f := int(bestFold.Int64)
		r.BestFold = &f
	}
	if bestLoss.Valid {
		r.BestTestLoss = &bestLoss.Float64
	}
	if export.Valid {
		r.ExportPath = &export.String
	}
	return &r, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM training_runs
		ORDER BY started_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run by id, or ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+`
		FROM training_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListFolds returns the folds of a run in fold order.
func (s *RunStore) ListFolds(ctx context.Context, runID string) ([]Fold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, fold, train_size, val_size, test_size, epochs_run,
		       best_val_loss, test_loss, test_accuracy
		FROM training_folds
		WHERE run_id = ?
		ORDER BY fold`, runID)
	if err != nil {
		return nil, fmt.Errorf("query folds: %w", err)
	}
	defer rows.Close()

	var folds []Fold
	for rows.Next() {
		var f Fold
		var best sql.NullFloat64
		if err := rows.Scan(&f.RunID, &f.Fold, &f.TrainSize, &f.ValSize, &f.TestSize, &f.EpochsRun,
			&best, &f.TestLoss, &f.TestAccuracy); err != nil {
			return nil, fmt.Errorf("scan fold: %w", err)
		}
		if best.Valid {
			f.BestValLoss = &best.Float64
		}
		folds = append(folds, f)
	}
	return folds, rows.Err()
}

// FoldHistory returns the epoch history of one fold in epoch order.
func (s *RunStore) FoldHistory(ctx context.Context, runID string, fold int) ([]Epoch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, loss, accuracy, val_loss, val_accuracy, learning_rate
		FROM training_epochs
		WHERE run_id = ? AND fold = ?
		ORDER BY epoch`, runID, fold)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.Epoch, &e.Loss, &e.Accuracy, &e.ValLoss, &e.ValAccuracy, &e.LearningRate); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
