// Package crossval drives the full training run: a stratified hold-out test
// split, k-fold cross-validation over the remainder, and export of the fold
// with the lowest test loss.
package crossval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/db"
	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/monitoring"
	"github.com/banshee-data/shoepad/internal/training"
)

// Defaults used when an Options field is zero.
const (
	DefaultTestSize  = 0.2
	DefaultFolds     = 5
	DefaultSeed      = 42
	DefaultExportDir = "model.pb"
)

var logf = monitoring.Subsystem("crossval")

// RunStore persists runs. *db.RunStore implements it.
type RunStore interface {
	InsertRun(ctx context.Context, run *db.Run) error
	InsertFold(ctx context.Context, f db.Fold) error
	InsertEpochs(ctx context.Context, runID string, fold int, epochs []db.Epoch) error
	FinishRun(ctx context.Context, runID string, bestFold int, bestLoss float64, exportPath string, runErr error) error
}

// Plotter renders a fold's training history. *plots.HistoryPlotter
// implements it.
type Plotter interface {
	PlotFold(fold int, hist training.History) ([]string, error)
}

// Options configures Run.
type Options struct {
	TestSize  float64
	Folds     int
	Seed      int64
	ExportDir string
	DataDir   string

	// Training is passed to every fold. Its FS is also used for the export.
	// Leave Training.Callbacks nil so each fold gets fresh callbacks.
	Training training.Config

	Store   RunStore
	Plotter Plotter
}

func (o Options) withDefaults() Options {
	if o.TestSize <= 0 {
		o.TestSize = DefaultTestSize
	}
	if o.Folds <= 0 {
		o.Folds = DefaultFolds
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.ExportDir == "" {
		o.ExportDir = DefaultExportDir
	}
	if o.Training.FS == nil {
		o.Training.FS = fsutil.OSFileSystem{}
	}
	return o
}

// FoldOutcome is the test result of one fold. Fold numbers start at 1.
type FoldOutcome struct {
	Fold      int              `json:"fold"`
	TrainSize int              `json:"train_size"`
	ValSize   int              `json:"val_size"`
	TestLoss  float64          `json:"test_loss"`
	TestAcc   float64          `json:"test_accuracy"`
	History   training.History `json:"history"`
}

// Summary aggregates the fold test scores.
type Summary struct {
	MeanLoss float64 `json:"mean_loss"`
	StdLoss  float64 `json:"std_loss"`
	MeanAcc  float64 `json:"mean_accuracy"`
	StdAcc   float64 `json:"std_accuracy"`
}

// Result is the outcome of Run.
type Result struct {
	RunID      string        `json:"run_id,omitempty"`
	TrainSize  int           `json:"train_size"`
	TestSize   int           `json:"test_size"`
	Folds      []FoldOutcome `json:"folds"`
	BestFold   int           `json:"best_fold"`
	BestLoss   float64       `json:"best_loss"`
	ExportPath string        `json:"export_path"`
	Summary    Summary       `json:"summary"`
}

// Summarize computes the mean and sample standard deviation of the fold
// test scores.
func Summarize(folds []FoldOutcome) Summary {
	if len(folds) == 0 {
		return Summary{}
	}
	losses := make([]float64, len(folds))
	accs := make([]float64, len(folds))
	for i, f := range folds {
		losses[i] = f.TestLoss
		accs[i] = f.TestAcc
	}
	var s Summary
	s.MeanLoss, s.StdLoss = stat.MeanStdDev(losses, nil)
	s.MeanAcc, s.StdAcc = stat.MeanStdDev(accs, nil)
	return s
}

// Run trains one model per fold and exports the best one.
func Run(ctx context.Context, ds *dataset.Dataset, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if ds == nil || ds.Len() == 0 {
		return nil, dataset.ErrEmpty
	}

	res := &Result{}
	if opts.Store != nil {
		run := &db.Run{
			DataDir:    opts.DataDir,
			NumSamples: ds.Len(),
			Classes:    ds.Classes,
			TestSize:   opts.TestSize,
			Folds:      opts.Folds,
			Epochs:     opts.Training.Epochs,
			BatchSize:  opts.Training.BatchSize,
			Seed:       opts.Seed,
		}
		if err := opts.Store.InsertRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		res.RunID = run.RunID
	}

	err := run(ctx, ds, opts, res)

	if opts.Store != nil {
		// Record the outcome even when ctx was cancelled.
		finishCtx := context.WithoutCancel(ctx)
		if ferr := opts.Store.FinishRun(finishCtx, res.RunID, res.BestFold, res.BestLoss, res.ExportPath, err); ferr != nil {
			logf("failed to finish run %s: %v", res.RunID, ferr)
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func run(ctx context.Context, ds *dataset.Dataset, opts Options, res *Result) error {
	trainIdx, testIdx, err := dataset.StratifiedSplit(ds.Labels, opts.TestSize, opts.Seed)
	if err != nil {
		return fmt.Errorf("test split: %w", err)
	}
	trainVal := ds.Subset(trainIdx)
	test := ds.Subset(testIdx)
	res.TrainSize, res.TestSize = trainVal.Len(), test.Len()
	logf("train val size: %d, test size: %d", trainVal.Len(), test.Len())

	folds, err := dataset.KFold(trainVal.Len(), opts.Folds, true, opts.Seed)
	if err != nil {
		return fmt.Errorf("k-fold split: %w", err)
	}

	var best *training.FoldResult
	for i, f := range folds {
		if err := ctx.Err(); err != nil {
			return err
		}
		fold := i + 1
		logf("Fold %d", fold)

		train := trainVal.Subset(f.Train)
		val := trainVal.Subset(f.Validation)
		fr, err := training.TrainFold(ctx, len(ds.Classes), train, val, test, opts.Training)
		if err != nil {
			return fmt.Errorf("fold %d: %w", fold, err)
		}
		logf("Fold %d Test Loss: %.4f, Test Accuracy: %.4f", fold, fr.TestLoss, fr.TestAcc)

		outcome := FoldOutcome{
			Fold:      fold,
			TrainSize: train.Len(),
			ValSize:   val.Len(),
			TestLoss:  fr.TestLoss,
			TestAcc:   fr.TestAcc,
			History:   fr.History,
		}
		res.Folds = append(res.Folds, outcome)

		if err := recordFold(ctx, opts.Store, res.RunID, outcome, test.Len()); err != nil {
			logf("%v", err)
		}
		if opts.Plotter != nil {
			if _, err := opts.Plotter.PlotFold(fold, fr.History); err != nil {
				logf("failed to plot fold %d: %v", fold, err)
			}
		}

		if best == nil || fr.TestLoss < best.TestLoss {
			best = fr
			res.BestFold = fold
			res.BestLoss = fr.TestLoss
		}
	}
	if best == nil {
		return errors.New("no folds trained")
	}

	if err := best.Model.Export(opts.Training.FS, opts.ExportDir, ds.Classes); err != nil {
		return fmt.Errorf("failed to export model: %w", err)
	}
	res.ExportPath = opts.ExportDir
	res.Summary = Summarize(res.Folds)
	logf("Model with loss %.4f saved as %s", best.TestLoss, filepath.Clean(opts.ExportDir))
	return nil
}

func recordFold(ctx context.Context, store RunStore, runID string, f FoldOutcome, testSize int) error {
	if store == nil {
		return nil
	}
	row := db.Fold{
		RunID:        runID,
		Fold:         f.Fold,
		TrainSize:    f.TrainSize,
		ValSize:      f.ValSize,
		TestSize:     testSize,
		EpochsRun:    len(f.History.Epochs),
		TestLoss:     f.TestLoss,
		TestAccuracy: f.TestAcc,
	}
	if e, ok := f.History.BestValLoss(); ok {
		row.BestValLoss = &e.ValLoss
	}
	if err := store.InsertFold(ctx, row); err != nil {
		return fmt.Errorf("failed to record fold %d: %w", f.Fold, err)
	}

	epochs := make([]db.Epoch, len(f.History.Epochs))
	for i, e := range f.History.Epochs {
		epochs[i] = db.Epoch{
			Epoch:        e.Epoch,
			Loss:         e.Loss,
			Accuracy:     e.Accuracy,
			ValLoss:      e.ValLoss,
			ValAccuracy:  e.ValAccuracy,
			LearningRate: e.LearningRate,
		}
	}
	if err := store.InsertEpochs(ctx, runID, f.Fold, epochs); err != nil {
		return fmt.Errorf("failed to record fold %d history: %w", f.Fold, err)
	}
	return nil
}
