package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Epsilon is the probability clip used by the cross-entropy loss and the
// Adam denominator.
const Epsilon = 1e-7

// Softmax returns exp(x)/sum(exp(x)), shifted by max(x) for stability.
func Softmax(x []float64) []float64 {
	out := make([]float64, len(x))
	max := floats.Max(x)
	for i, v := range x {
		out[i] = math.Exp(v - max)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// CategoricalCrossEntropy returns -sum(y*log(p)) with p clipped to
// [Epsilon, 1-Epsilon].
func CategoricalCrossEntropy(probs, target []float64) float64 {
	loss := 0.0
	for i, y := range target {
		if y == 0 {
			continue
		}
		p := math.Min(math.Max(probs[i], Epsilon), 1-Epsilon)
		loss -= y * math.Log(p)
	}
	return loss
}

// SoftmaxCrossEntropyGrad is the gradient of the cross-entropy with respect
// to the logits: p - y.
func SoftmaxCrossEntropyGrad(probs, target []float64) []float64 {
	out := make([]float64, len(probs))
	floats.SubTo(out, probs, target)
	return out
}

// Argmax returns the index of the largest value, the first on ties.
func Argmax(x []float64) int {
	return floats.MaxIdx(x)
}

// CategoricalAccuracy reports whether the predicted class matches the
// one-hot target.
func CategoricalAccuracy(probs, target []float64) float64 {
	if Argmax(probs) == Argmax(target) {
		return 1
	}
	return 0
}
