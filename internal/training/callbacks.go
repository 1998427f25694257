package training

import (
	"math"

	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/nn"
)

// EpochLogs are the metrics of one finished epoch. Epoch counts from 0.
type EpochLogs struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"lr"`
}

// Trainer is the state callbacks may inspect and change.
type Trainer struct {
	Model        *nn.Model
	Optimizer    *nn.Adam
	StopTraining bool
}

// Callback hooks into Fit. OnEpochEnd runs after the validation metrics of
// each epoch are known, in the order the callbacks were given.
type Callback interface {
	OnTrainBegin(tr *Trainer) error
	OnEpochEnd(tr *Trainer, logs EpochLogs) error
	OnTrainEnd(tr *Trainer) error
}

// ModelCheckpoint saves the weights whenever val_loss improves on the best
// seen so far.
type ModelCheckpoint struct {
	FS   fsutil.FileSystem
	Path string

	best  float64
	saved int
}

// NewModelCheckpoint returns a checkpoint callback writing to path.
func NewModelCheckpoint(fsys fsutil.FileSystem, path string) *ModelCheckpoint {
	return &ModelCheckpoint{FS: fsys, Path: path, best: math.Inf(1)}
}

// Best returns the lowest val_loss saved.
func (c *ModelCheckpoint) Best() float64 { return c.best }

// Saves returns the number of checkpoints written.
func (c *ModelCheckpoint) Saves() int { return c.saved }

func (c *ModelCheckpoint) OnTrainBegin(*Trainer) error {
	c.best = math.Inf(1)
	c.saved = 0
	return nil
}

func (c *ModelCheckpoint) OnEpochEnd(tr *Trainer, logs EpochLogs) error {
	if !(logs.ValLoss < c.best) {
		return nil
	}
	c.best = logs.ValLoss
	if err := tr.Model.SaveWeights(c.FS, c.Path); err != nil {
		return err
	}
	c.saved++
	return nil
}

func (c *ModelCheckpoint) OnTrainEnd(*Trainer) error { return nil }

// ReduceLROnPlateau multiplies the learning rate by Factor once val_loss
// has not improved by more than MinDelta for Patience epochs.
type ReduceLROnPlateau struct {
	Factor   float64
	Patience int
	MinDelta float64
	Cooldown int
	MinLR    float64

	best            float64
	wait            int
	cooldownCounter int
}

// NewReduceLROnPlateau returns the callback with factor 0.5, patience 20,
// min delta 1e-4, no cooldown and a 1e-6 floor.
func NewReduceLROnPlateau() *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Factor:   0.5,
		Patience: 20,
		MinDelta: 1e-4,
		MinLR:    1e-6,
		best:     math.Inf(1),
	}
}

func (c *ReduceLROnPlateau) OnTrainBegin(*Trainer) error {
	c.best = math.Inf(1)
	c.wait = 0
	c.cooldownCounter = 0
	return nil
}

func (c *ReduceLROnPlateau) OnEpochEnd(tr *Trainer, logs EpochLogs) error {
	if c.cooldownCounter > 0 {
		c.cooldownCounter--
		c.wait = 0
	}

	if logs.ValLoss < c.best-c.MinDelta {
		c.best = logs.ValLoss
		c.wait = 0
		return nil
	}
	// The last cooldown epoch already counts towards patience.
	if c.cooldownCounter > 0 {
		return nil
	}

	c.wait++
	if c.wait < c.Patience {
		return nil
	}
	old := tr.Optimizer.LearningRate
	if old > c.MinLR {
		lr := math.Max(old*c.Factor, c.MinLR)
		tr.Optimizer.LearningRate = lr
		logf("epoch %d: reducing learning rate from %g to %g", logs.Epoch+1, old, lr)
		c.cooldownCounter = c.Cooldown
		c.wait = 0
	}
	return nil
}

func (c *ReduceLROnPlateau) OnTrainEnd(*Trainer) error { return nil }

// EarlyStopping stops training once val_loss has not improved for Patience
// epochs, optionally restoring the weights of the best epoch.
type EarlyStopping struct {
	Patience           int
	MinDelta           float64
	RestoreBestWeights bool

	best         float64
	bestEpoch    int
	bestWeights  []nn.Variable
	wait         int
	stoppedEpoch int
}

// NewEarlyStopping returns the callback with patience 50 that restores the
// best weights when it stops.
func NewEarlyStopping() *EarlyStopping {
	return &EarlyStopping{Patience: 50, RestoreBestWeights: true, best: math.Inf(1)}
}

// StoppedEpoch returns the epoch training was stopped at, or 0.
func (c *EarlyStopping) StoppedEpoch() int { return c.stoppedEpoch }

// BestEpoch returns the epoch with the lowest val_loss.
func (c *EarlyStopping) BestEpoch() int { return c.bestEpoch }

func (c *EarlyStopping) OnTrainBegin(*Trainer) error {
	c.best = math.Inf(1)
	c.bestEpoch = 0
	c.bestWeights = nil
	c.wait = 0
	c.stoppedEpoch = 0
	return nil
}

func (c *EarlyStopping) OnEpochEnd(tr *Trainer, logs EpochLogs) error {
	if c.RestoreBestWeights && c.bestWeights == nil {
		c.bestWeights = tr.Model.Weights()
	}

	c.wait++
	if logs.ValLoss-c.MinDelta < c.best {
		c.best = logs.ValLoss
		c.bestEpoch = logs.Epoch
		if c.RestoreBestWeights {
			c.bestWeights = tr.Model.Weights()
		}
		c.wait = 0
		return nil
	}

	if c.wait >= c.Patience && logs.Epoch > 0 {
		c.stoppedEpoch = logs.Epoch
		tr.StopTraining = true
		logf("epoch %d: early stopping, best epoch %d val_loss %.4f", logs.Epoch+1, c.bestEpoch+1, c.best)
		if c.RestoreBestWeights && c.bestWeights != nil {
			return tr.Model.SetWeights(c.bestWeights)
		}
	}
	return nil
}

func (c *EarlyStopping) OnTrainEnd(*Trainer) error { return nil }

// DefaultCallbacks returns checkpoint, plateau and early-stopping callbacks
// in the order Fit runs them.
func DefaultCallbacks(fsys fsutil.FileSystem, checkpointPath string) []Callback {
	return []Callback{
		NewModelCheckpoint(fsys, checkpointPath),
		NewReduceLROnPlateau(),
		NewEarlyStopping(),
	}
}
