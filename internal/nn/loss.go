package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax writes the softmax of src into dst (which may alias src).
func Softmax(dst, src []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(src))
	}
	lse := floats.LogSumExp(src)
	for i, v := range src {
		dst[i] = math.Exp(v - lse)
	}
	return dst
}

// SoftCrossEntropy returns -Σ target[i]·log softmax(logits)[i]. Target is a
// probability vector over the same classes as logits.
func SoftCrossEntropy(logits, target []float64) float64 {
	if len(logits) != len(target) {
		panic("nn: SoftCrossEntropy length mismatch")
	}
	lse := floats.LogSumExp(logits)
	loss := 0.0
	for i, t := range target {
		if t == 0 {
			continue
		}
		loss -= t * (logits[i] - lse)
	}
	return loss
}

// CrossEntropy returns -log softmax(logits)[class].
func CrossEntropy(logits []float64, class int) float64 {
	return floats.LogSumExp(logits) - logits[class]
}

// BCEWithLogits is the numerically stable binary cross entropy of a logit
// x against a target y in [0, 1].
func BCEWithLogits(x, y float64) float64 {
	return math.Max(x, 0) - x*y + math.Log1p(math.Exp(-math.Abs(x)))
}

// Sigmoid maps a logit to a probability.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
