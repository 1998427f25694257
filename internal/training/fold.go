package training

import (
	"context"
	"fmt"

	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/nn"
)

// FoldResult is the outcome of TrainFold.
type FoldResult struct {
	Model    *nn.Model
	TestLoss float64
	TestAcc  float64
	History  History
}

// TrainFold builds a fresh model, fits it on train with val for
// validation, reloads the best checkpoint and evaluates it on test.
func TrainFold(ctx context.Context, numClasses int, train, val, test *dataset.Dataset, cfg Config) (*FoldResult, error) {
	cfg = cfg.withDefaults()
	model, err := nn.NewModel(numClasses, dataset.NewRand(cfg.Seed))
	if err != nil {
		return nil, err
	}

	hist, err := Fit(ctx, model, nn.NewAdam(), NewData(train), NewData(val), cfg)
	if err != nil {
		return nil, err
	}

	if err := model.LoadWeights(cfg.FS, cfg.CheckpointPath); err != nil {
		return nil, fmt.Errorf("failed to reload best weights: %w", err)
	}

	loss, acc, err := Evaluate(model, NewData(test))
	if err != nil {
		return nil, fmt.Errorf("test: %w", err)
	}
	logf("Test accuracy: %.4f", acc)

	return &FoldResult{Model: model, TestLoss: loss, TestAcc: acc, History: hist}, nil
}
