package training

import (
	"context"
	"fmt"

	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/nn"
)

// Defaults used when a Config field is zero.
const (
	DefaultEpochs         = 1000
	DefaultBatchSize      = 32
	DefaultCheckpointPath = "model_weights.cbor"
)

// Config controls a training run.
type Config struct {
	Epochs         int
	BatchSize      int
	NoShuffle      bool
	CheckpointPath string
	Seed           int64
	FS             fsutil.FileSystem

	// Callbacks replaces DefaultCallbacks when non-nil.
	Callbacks []Callback

	// Verbose logs one line per epoch.
	Verbose bool
}

func (c Config) withDefaults() Config {
	if c.Epochs <= 0 {
		c.Epochs = DefaultEpochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.CheckpointPath == "" {
		c.CheckpointPath = DefaultCheckpointPath
	}
	if c.FS == nil {
		c.FS = fsutil.OSFileSystem{}
	}
	if c.Callbacks == nil {
		c.Callbacks = DefaultCallbacks(c.FS, c.CheckpointPath)
	}
	return c
}

// History is the per-epoch record of a Fit call.
type History struct {
	Epochs []EpochLogs `json:"epochs"`
}

// Last returns the logs of the final epoch.
func (h History) Last() (EpochLogs, bool) {
	if len(h.Epochs) == 0 {
		return EpochLogs{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// BestValLoss returns the epoch with the lowest val_loss, the first on ties.
func (h History) BestValLoss() (EpochLogs, bool) {
	if len(h.Epochs) == 0 {
		return EpochLogs{}, false
	}
	best := h.Epochs[0]
	for _, e := range h.Epochs[1:] {
		if e.ValLoss < best.ValLoss {
			best = e
		}
	}
	return best, true
}

// Fit trains model on train, validating on val after every epoch. Gradients
// are averaged over each mini-batch. Cancelling ctx stops training after the
// current batch and returns the history so far with ctx.Err().
func Fit(ctx context.Context, model *nn.Model, opt *nn.Adam, train, val *Data, cfg Config) (History, error) {
	var hist History
	cfg = cfg.withDefaults()
	if err := train.check(model.Spec.NumClasses); err != nil {
		return hist, fmt.Errorf("training data: %w", err)
	}
	if err := val.check(model.Spec.NumClasses); err != nil {
		return hist, fmt.Errorf("validation data: %w", err)
	}

	tr := &Trainer{Model: model, Optimizer: opt}
	for _, cb := range cfg.Callbacks {
		if err := cb.OnTrainBegin(tr); err != nil {
			return hist, err
		}
	}

	rng := dataset.NewRand(cfg.Seed)
	grads := nn.NewGradients(model)
	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < cfg.Epochs && !tr.StopTraining; epoch++ {
		if !cfg.NoShuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var lossSum, correct float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return hist, err
			}
			end := min(start+cfg.BatchSize, len(order))
			grads.Zero()
			for _, idx := range order[start:end] {
				probs, cache, err := model.Forward(train.Inputs.Row(idx))
				if err != nil {
					return hist, fmt.Errorf("sample %d: %w", idx, err)
				}
				y := train.Targets[idx]
				lossSum += nn.CategoricalCrossEntropy(probs, y)
				correct += nn.CategoricalAccuracy(probs, y)
				model.Backward(cache, nn.SoftmaxCrossEntropyGrad(probs, y), grads)
			}
			grads.Scale(1 / float64(end-start))
			opt.Step(model, grads)
		}

		valLoss, valAcc, err := Evaluate(model, val)
		if err != nil {
			return hist, fmt.Errorf("validation: %w", err)
		}
		logs := EpochLogs{
			Epoch:        epoch,
			Loss:         lossSum / float64(train.Len()),
			Accuracy:     correct / float64(train.Len()),
			ValLoss:      valLoss,
			ValAccuracy:  valAcc,
			LearningRate: opt.LearningRate,
		}
		hist.Epochs = append(hist.Epochs, logs)
		if cfg.Verbose {
			logf("Epoch %d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f - lr: %g",
				epoch+1, cfg.Epochs, logs.Loss, logs.Accuracy, logs.ValLoss, logs.ValAccuracy, logs.LearningRate)
		}

		for _, cb := range cfg.Callbacks {
			if err := cb.OnEpochEnd(tr, logs); err != nil {
				return hist, err
			}
		}
	}

	for _, cb := range cfg.Callbacks {
		if err := cb.OnTrainEnd(tr); err != nil {
			return hist, err
		}
	}
	return hist, nil
}

// Evaluate returns the sample-mean loss and accuracy of model on data.
func Evaluate(model *nn.Model, data *Data) (loss, acc float64, err error) {
	if err := data.check(model.Spec.NumClasses); err != nil {
		return 0, 0, err
	}
	for i := 0; i < data.Len(); i++ {
		probs, _, err := model.Forward(data.Inputs.Row(i))
		if err != nil {
			return 0, 0, fmt.Errorf("sample %d: %w", i, err)
		}
		loss += nn.CategoricalCrossEntropy(probs, data.Targets[i])
		acc += nn.CategoricalAccuracy(probs, data.Targets[i])
	}
	n := float64(data.Len())
	return loss / n, acc / n, nil
}
