package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/shoepad/internal/dataset"
)

// step holds the activations of one LSTM timestep needed for BPTT.
type step struct {
	x            []float64
	hPrev, cPrev []float64
	i, f, g, o   []float64
	c, tanhC     []float64
}

// Cache is the forward state of one sequence, consumed by Backward.
type Cache struct {
	steps  []step
	h      []float64 // final hidden state
	pre1   []float64 // dense pre-activation
	a1     []float64 // relu(pre1)
	logits []float64
	probs  []float64
}

// Probs returns the softmax output of the cached forward pass.
func (c *Cache) Probs() []float64 { return c.probs }

// Forward runs one sequence of timestep rows (each InputWidth wide) through
// the network and returns class probabilities.
func (m *Model) Forward(seq [][]float64) ([]float64, *Cache, error) {
	if len(seq) == 0 {
		return nil, nil, fmt.Errorf("empty sequence")
	}
	u := m.Spec.LSTMUnits
	in := m.Spec.InputWidth()

	cache := &Cache{steps: make([]step, len(seq))}
	h := make([]float64, u)
	c := make([]float64, u)
	z := mat.NewVecDense(4*u, nil)
	rec := mat.NewVecDense(4*u, nil)
	bias := m.Bias.RawRowView(0)

	for t, x := range seq {
		if len(x) != in {
			return nil, nil, fmt.Errorf("timestep %d: %d inputs, want %d", t, len(x), in)
		}
		z.MulVec(m.Kernel.T(), mat.NewVecDense(in, x))
		rec.MulVec(m.Recurrent.T(), mat.NewVecDense(u, h))
		zd := z.RawVector().Data
		floats.Add(zd, rec.RawVector().Data)
		floats.Add(zd, bias)

		st := step{
			x:     x,
			hPrev: h,
			cPrev: c,
			i:     make([]float64, u),
			f:     make([]float64, u),
			g:     make([]float64, u),
			o:     make([]float64, u),
			c:     make([]float64, u),
			tanhC: make([]float64, u),
		}
		hNext := make([]float64, u)
		for j := 0; j < u; j++ {
			st.i[j] = sigmoid(zd[j])
			st.f[j] = sigmoid(zd[u+j])
			st.g[j] = math.Tanh(zd[2*u+j])
			st.o[j] = sigmoid(zd[3*u+j])
			st.c[j] = st.f[j]*c[j] + st.i[j]*st.g[j]
			st.tanhC[j] = math.Tanh(st.c[j])
			hNext[j] = st.o[j] * st.tanhC[j]
		}
		cache.steps[t] = st
		h, c = hNext, st.c
	}
	cache.h = h

	pre1 := mat.NewVecDense(m.Spec.DenseUnits, nil)
	pre1.MulVec(m.DenseKernel.T(), mat.NewVecDense(u, h))
	cache.pre1 = pre1.RawVector().Data
	floats.Add(cache.pre1, m.DenseBias.RawRowView(0))
	cache.a1 = make([]float64, len(cache.pre1))
	for j, v := range cache.pre1 {
		cache.a1[j] = math.Max(0, v)
	}

	logits := mat.NewVecDense(m.Spec.NumClasses, nil)
	logits.MulVec(m.OutKernel.T(), mat.NewVecDense(len(cache.a1), cache.a1))
	cache.logits = logits.RawVector().Data
	floats.Add(cache.logits, m.OutBias.RawRowView(0))

	cache.probs = Softmax(cache.logits)
	return cache.probs, cache, nil
}

// Predict returns class probabilities for one sample.
func (m *Model) Predict(sample dataset.Sample) ([]float64, error) {
	probs, _, err := m.Forward(sample.Flatten())
	return probs, err
}

// Gradients mirrors the model parameters.
type Gradients struct {
	model *Model
}

// NewGradients allocates zeroed gradients shaped like m.
func NewGradients(m *Model) *Gradients {
	return &Gradients{model: newZeroModel(m.Spec)}
}

// Zero resets every gradient.
func (g *Gradients) Zero() {
	for _, p := range g.model.params() {
		p.value.Zero()
	}
}

// Scale multiplies every gradient by s.
func (g *Gradients) Scale(s float64) {
	for _, p := range g.model.params() {
		p.value.Scale(s, p.value)
	}
}

func (g *Gradients) params() []namedParam { return g.model.params() }

// Backward accumulates into grads the gradient of the loss for the cached
// sequence, given dLogits, the gradient with respect to the pre-softmax
// logits (p - y for softmax with cross-entropy).
func (m *Model) Backward(cache *Cache, dLogits []float64, grads *Gradients) {
	u := m.Spec.LSTMUnits
	gm := grads.model

	dl := mat.NewVecDense(len(dLogits), append([]float64(nil), dLogits...))
	a1 := mat.NewVecDense(len(cache.a1), cache.a1)

	// Output layer.
	gm.OutKernel.RankOne(gm.OutKernel, 1, a1, dl)
	floats.Add(gm.OutBias.RawRowView(0), dLogits)

	// Hidden dense layer.
	dA1 := mat.NewVecDense(m.Spec.DenseUnits, nil)
	dA1.MulVec(m.OutKernel, dl)
	dz1 := dA1.RawVector().Data
	for j, v := range cache.pre1 {
		if v <= 0 {
			dz1[j] = 0
		}
	}
	gm.DenseKernel.RankOne(gm.DenseKernel, 1, mat.NewVecDense(u, cache.h), dA1)
	floats.Add(gm.DenseBias.RawRowView(0), dz1)

	dhVec := mat.NewVecDense(u, nil)
	dhVec.MulVec(m.DenseKernel, dA1)
	dh := dhVec.RawVector().Data

	// LSTM, back through time.
	dcNext := make([]float64, u)
	dz := make([]float64, 4*u)
	dzVec := mat.NewVecDense(4*u, dz)
	gBias := gm.Bias.RawRowView(0)
	for t := len(cache.steps) - 1; t >= 0; t-- {
		st := cache.steps[t]
		for j := 0; j < u; j++ {
			do := dh[j] * st.tanhC[j]
			dc := dcNext[j] + dh[j]*st.o[j]*(1-st.tanhC[j]*st.tanhC[j])
			di := dc * st.g[j]
			dg := dc * st.i[j]
			df := dc * st.cPrev[j]
			dcNext[j] = dc * st.f[j]

			dz[j] = di * st.i[j] * (1 - st.i[j])
			dz[u+j] = df * st.f[j] * (1 - st.f[j])
			dz[2*u+j] = dg * (1 - st.g[j]*st.g[j])
			dz[3*u+j] = do * st.o[j] * (1 - st.o[j])
		}
		gm.Kernel.RankOne(gm.Kernel, 1, mat.NewVecDense(len(st.x), st.x), dzVec)
		gm.Recurrent.RankOne(gm.Recurrent, 1, mat.NewVecDense(u, st.hPrev), dzVec)
		floats.Add(gBias, dz)

		next := mat.NewVecDense(u, nil)
		next.MulVec(m.Recurrent, dzVec)
		dh = next.RawVector().Data
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
