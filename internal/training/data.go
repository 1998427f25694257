// Package training fits the classifier: mini-batch Adam with a validation
// set, checkpointing, learning-rate reduction on plateau and early stopping.
package training

import (
	"fmt"

	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/monitoring"
)

var logf = monitoring.Subsystem("training")

// Data is a ragged batch of samples with their one-hot targets.
type Data struct {
	Inputs  *dataset.RaggedBatch
	Targets [][]float64
}

// NewData converts a dataset split into model inputs.
func NewData(ds *dataset.Dataset) *Data {
	return &Data{
		Inputs:  dataset.NewRaggedBatch(ds.Samples),
		Targets: ds.OneHot(),
	}
}

// Len returns the number of samples.
func (d *Data) Len() int { return len(d.Targets) }

func (d *Data) check(numClasses int) error {
	if d == nil || d.Len() == 0 {
		return fmt.Errorf("no samples")
	}
	if d.Inputs.NRows() != d.Len() {
		return fmt.Errorf("%d inputs for %d targets", d.Inputs.NRows(), d.Len())
	}
	for i, y := range d.Targets {
		if len(y) != numClasses {
			return fmt.Errorf("target %d has %d classes, model has %d", i, len(y), numClasses)
		}
	}
	return nil
}
