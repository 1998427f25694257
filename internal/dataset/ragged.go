package dataset

// RaggedBatch stores variable-length samples as one flat list of timestep
// rows plus row splits: the timesteps of sample i are
// Values[RowSplits[i]:RowSplits[i+1]]. Each row holds
// NumSensors*NumFeatures values.
type RaggedBatch struct {
	Values    [][]float64
	RowSplits []int
}

// NewRaggedBatch flattens samples into a ragged batch.
func NewRaggedBatch(samples []Sample) *RaggedBatch {
	b := &RaggedBatch{RowSplits: make([]int, 1, len(samples)+1)}
	for _, s := range samples {
		b.Values = append(b.Values, s.Flatten()...)
		b.RowSplits = append(b.RowSplits, len(b.Values))
	}
	return b
}

// NRows returns the number of samples in the batch.
func (b *RaggedBatch) NRows() int { return len(b.RowSplits) - 1 }

// Row returns the timestep rows of sample i.
func (b *RaggedBatch) Row(i int) [][]float64 {
	return b.Values[b.RowSplits[i]:b.RowSplits[i+1]]
}

// RowLength returns the number of timesteps of sample i.
func (b *RaggedBatch) RowLength(i int) int {
	return b.RowSplits[i+1] - b.RowSplits[i]
}
