package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam is the Adam optimizer with the Keras defaults.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	t    int
	m, v []*mat.Dense
}

// NewAdam returns an optimizer with lr 1e-3, beta1 0.9, beta2 0.999 and
// epsilon 1e-7.
func NewAdam() *Adam {
	return &Adam{LearningRate: 1e-3, Beta1: 0.9, Beta2: 0.999, Epsilon: Epsilon}
}

// Iterations returns the number of steps applied.
func (a *Adam) Iterations() int { return a.t }

// Step applies one update to model from grads.
func (a *Adam) Step(model *Model, grads *Gradients) {
	params := model.params()
	gs := grads.params()
	if a.m == nil {
		a.m = make([]*mat.Dense, len(params))
		a.v = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.value.Dims()
			a.m[i] = mat.NewDense(r, c, nil)
			a.v[i] = mat.NewDense(r, c, nil)
		}
	}

	a.t++
	t := float64(a.t)
	alpha := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for i, p := range params {
		r, c := p.value.Dims()
		for row := 0; row < r; row++ {
			w := p.value.RawRowView(row)
			g := gs[i].value.RawRowView(row)
			m := a.m[i].RawRowView(row)
			v := a.v[i].RawRowView(row)
			for j := 0; j < c; j++ {
				m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
				v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
				w[j] -= alpha * m[j] / (math.Sqrt(v[j]) + a.Epsilon)
			}
		}
	}
}
