package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1, 2, 3})
	assert.InDelta(t, 1.0, floats.Sum(p), 1e-12)
	assert.InDelta(t, 0.6652409557748219, p[2], 1e-12)

	// Large logits stay finite.
	p = Softmax([]float64{1000, 1000})
	assert.Equal(t, []float64{0.5, 0.5}, p)
}

func TestCategoricalCrossEntropy(t *testing.T) {
	assert.InDelta(t, -math.Log(0.25), CategoricalCrossEntropy([]float64{0.75, 0.25}, []float64{0, 1}), 1e-12)

	// Zero probability is clipped to Epsilon.
	assert.InDelta(t, -math.Log(Epsilon), CategoricalCrossEntropy([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -math.Log(1-Epsilon), CategoricalCrossEntropy([]float64{1, 0}, []float64{1, 0}), 1e-15)
}

func TestSoftmaxCrossEntropyGrad(t *testing.T) {
	got := SoftmaxCrossEntropyGrad([]float64{0.2, 0.7, 0.1}, []float64{0, 1, 0})
	assert.InDeltaSlice(t, []float64{0.2, -0.3, 0.1}, got, 1e-15)
}

func TestArgmaxAndAccuracy(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float64{0.1, 0.8, 0.1}))
	assert.Equal(t, 0, Argmax([]float64{0.5, 0.5}))
	assert.Equal(t, 1.0, CategoricalAccuracy([]float64{0.1, 0.9}, []float64{0, 1}))
	assert.Equal(t, 0.0, CategoricalAccuracy([]float64{0.9, 0.1}, []float64{0, 1}))
}

func TestAdam_FirstStep(t *testing.T) {
	m := newTestModel(t, 2)
	before := m.Weights()

	grads := NewGradients(m)
	for _, p := range grads.params() {
		r, c := p.value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if (i+j)%2 == 0 {
					p.value.Set(i, j, 3)
				} else {
					p.value.Set(i, j, -0.5)
				}
			}
		}
	}

	opt := NewAdam()
	opt.Step(m, grads)
	assert.Equal(t, 1, opt.Iterations())

	// The bias-corrected first step moves every weight by about lr against
	// the sign of its gradient.
	after := m.Weights()
	for vi, v := range after {
		cols := v.Shape[len(v.Shape)-1]
		for k, w := range v.Data {
			i, j := k/cols, k%cols
			want := before[vi].Data[k] - 1e-3
			if (i+j)%2 != 0 {
				want = before[vi].Data[k] + 1e-3
			}
			assert.InDelta(t, want, w, 1e-7, "%s[%d]", v.Name, k)
		}
	}
}

func TestAdam_ZeroGradientLeavesWeights(t *testing.T) {
	m := newTestModel(t, 2)
	before := m.Weights()
	opt := NewAdam()
	opt.Step(m, NewGradients(m))
	assert.Equal(t, before, m.Weights())
}

func TestAdam_LearningRateChange(t *testing.T) {
	m := newTestModel(t, 2)
	grads := NewGradients(m)
	grads.model.OutBias.Set(0, 0, 1)
	before := m.OutBias.At(0, 0)

	opt := NewAdam()
	opt.LearningRate = 0.5
	opt.Step(m, grads)
	assert.InDelta(t, before-0.5, m.OutBias.At(0, 0), 1e-5)
}
