// Package nn implements the shoepad sequence classifier:
//
//	TimeDistributed(Flatten) (5x3 -> 15 per timestep)
//	LSTM(32), last hidden state only
//	Dense(16, relu)
//	Dense(C, softmax)
//
// Weights follow the Keras layout (LSTM gates ordered i, f, c, o) so the
// variable names and shapes in a checkpoint read the same as a Keras model
// summary. Sequences have variable length; there is no padding or masking.
package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/shoepad/internal/dataset"
)

// ModelSpec holds the fixed architecture constants. Only NumClasses varies.
type ModelSpec struct {
	Sensors    int `json:"sensors" cbor:"sensors"`
	Features   int `json:"features" cbor:"features"`
	LSTMUnits  int `json:"lstm_units" cbor:"lstm_units"`
	DenseUnits int `json:"dense_units" cbor:"dense_units"`
	NumClasses int `json:"num_classes" cbor:"num_classes"`
}

// DefaultSpec returns the architecture for numClasses output classes.
func DefaultSpec(numClasses int) ModelSpec {
	return ModelSpec{
		Sensors:    dataset.NumSensors,
		Features:   dataset.NumFeatures,
		LSTMUnits:  32,
		DenseUnits: 16,
		NumClasses: numClasses,
	}
}

// InputWidth is the flattened per-timestep input size.
func (s ModelSpec) InputWidth() int { return s.Sensors * s.Features }

// Variable names, in parameter order.
const (
	VarLSTMKernel    = "lstm/lstm_cell/kernel"
	VarLSTMRecurrent = "lstm/lstm_cell/recurrent_kernel"
	VarLSTMBias      = "lstm/lstm_cell/bias"
	VarDenseKernel   = "dense/kernel"
	VarDenseBias     = "dense/bias"
	VarOutputKernel  = "dense_1/kernel"
	VarOutputBias    = "dense_1/bias"
)

// Model is the classifier. Biases are stored as 1xN matrices so every
// parameter can be handled uniformly by the optimizer and serializers.
type Model struct {
	Spec ModelSpec

	Kernel    *mat.Dense // InputWidth x 4U
	Recurrent *mat.Dense // U x 4U
	Bias      *mat.Dense // 1 x 4U

	DenseKernel *mat.Dense // U x DenseUnits
	DenseBias   *mat.Dense // 1 x DenseUnits

	OutKernel *mat.Dense // DenseUnits x C
	OutBias   *mat.Dense // 1 x C
}

// NewModel builds the fixed architecture for numClasses and initialises it
// the way Keras does: glorot-uniform kernels, an orthogonal recurrent kernel,
// zero biases and a forget-gate bias of one.
func NewModel(numClasses int, rng *rand.Rand) (*Model, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("model needs at least 2 classes, got %d", numClasses)
	}
	spec := DefaultSpec(numClasses)
	u := spec.LSTMUnits
	in := spec.InputWidth()

	m := &Model{
		Spec:        spec,
		Kernel:      glorotUniform(in, 4*u, rng),
		Recurrent:   orthogonal(u, 4*u, rng),
		Bias:        mat.NewDense(1, 4*u, nil),
		DenseKernel: glorotUniform(u, spec.DenseUnits, rng),
		DenseBias:   mat.NewDense(1, spec.DenseUnits, nil),
		OutKernel:   glorotUniform(spec.DenseUnits, numClasses, rng),
		OutBias:     mat.NewDense(1, numClasses, nil),
	}
	for j := u; j < 2*u; j++ {
		m.Bias.Set(0, j, 1)
	}
	return m, nil
}

// newZeroModel allocates a model of the given spec with all-zero parameters.
func newZeroModel(spec ModelSpec) *Model {
	u := spec.LSTMUnits
	return &Model{
		Spec:        spec,
		Kernel:      mat.NewDense(spec.InputWidth(), 4*u, nil),
		Recurrent:   mat.NewDense(u, 4*u, nil),
		Bias:        mat.NewDense(1, 4*u, nil),
		DenseKernel: mat.NewDense(u, spec.DenseUnits, nil),
		DenseBias:   mat.NewDense(1, spec.DenseUnits, nil),
		OutKernel:   mat.NewDense(spec.DenseUnits, spec.NumClasses, nil),
		OutBias:     mat.NewDense(1, spec.NumClasses, nil),
	}
}

type namedParam struct {
	name  string
	value *mat.Dense
}

// params lists the trainable parameters in a fixed order.
func (m *Model) params() []namedParam {
	return []namedParam{
		{VarLSTMKernel, m.Kernel},
		{VarLSTMRecurrent, m.Recurrent},
		{VarLSTMBias, m.Bias},
		{VarDenseKernel, m.DenseKernel},
		{VarDenseBias, m.DenseBias},
		{VarOutputKernel, m.OutKernel},
		{VarOutputBias, m.OutBias},
	}
}

// NumParams returns the number of trainable scalars.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params() {
		r, c := p.value.Dims()
		n += r * c
	}
	return n
}

// Variable is a named parameter snapshot. Shape is [rows, cols] for kernels
// and [n] for biases.
type Variable struct {
	Name  string    `json:"name" cbor:"name"`
	Shape []int     `json:"shape" cbor:"shape"`
	Data  []float64 `json:"data,omitempty" cbor:"data"`
}

func shapeOf(name string, d *mat.Dense) []int {
	r, c := d.Dims()
	if r == 1 && isBias(name) {
		return []int{c}
	}
	return []int{r, c}
}

func isBias(name string) bool {
	return name == VarLSTMBias || name == VarDenseBias || name == VarOutputBias
}

// Weights returns a deep copy of every parameter.
func (m *Model) Weights() []Variable {
	ps := m.params()
	out := make([]Variable, len(ps))
	for i, p := range ps {
		r, c := p.value.Dims()
		data := make([]float64, 0, r*c)
		for row := 0; row < r; row++ {
			data = append(data, p.value.RawRowView(row)...)
		}
		out[i] = Variable{Name: p.name, Shape: shapeOf(p.name, p.value), Data: data}
	}
	return out
}

// SetWeights copies vars into the model. Every parameter must be present
// with a matching shape.
func (m *Model) SetWeights(vars []Variable) error {
	byName := make(map[string]Variable, len(vars))
	for _, v := range vars {
		byName[v.Name] = v
	}
	ps := m.params()
	for _, p := range ps {
		v, ok := byName[p.name]
		if !ok {
			return fmt.Errorf("missing variable %s", p.name)
		}
		want := shapeOf(p.name, p.value)
		if !equalInts(v.Shape, want) {
			return fmt.Errorf("variable %s: shape %v, want %v", p.name, v.Shape, want)
		}
		r, c := p.value.Dims()
		if len(v.Data) != r*c {
			return fmt.Errorf("variable %s: %d values, want %d", p.name, len(v.Data), r*c)
		}
	}
	for _, p := range ps {
		v := byName[p.name]
		r, c := p.value.Dims()
		for row := 0; row < r; row++ {
			copy(p.value.RawRowView(row), v.Data[row*c:(row+1)*c])
		}
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
