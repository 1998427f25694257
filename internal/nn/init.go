package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// glorotUniform draws from U(-limit, limit) with limit = sqrt(6/(in+out)).
func glorotUniform(in, out int, rng *rand.Rand) *mat.Dense {
	limit := math.Sqrt(6 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * limit
	}
	return mat.NewDense(in, out, data)
}

// orthogonal returns a rows x cols matrix with orthonormal rows (when
// rows <= cols) or columns, from the QR decomposition of a Gaussian matrix
// with the signs of R's diagonal folded into Q.
func orthogonal(rows, cols int, rng *rand.Rand) *mat.Dense {
	big, small := rows, cols
	if cols > rows {
		big, small = cols, rows
	}

	data := make([]float64, big*small)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	a := mat.NewDense(big, small, data)

	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	thin := mat.DenseCopyOf(q.Slice(0, big, 0, small))
	for j := 0; j < small; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < big; i++ {
				thin.Set(i, j, -thin.At(i, j))
			}
		}
	}

	if rows < cols {
		return mat.DenseCopyOf(thin.T())
	}
	return thin
}
