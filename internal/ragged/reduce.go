package ragged

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrBadTemperature is returned for non-positive softmax temperatures.
var ErrBadTemperature = errors.New("ragged: temperature must be positive")

// Rows returns a view of group i's rows of m. Writes to the view write
// through to m.
func Rows(m *mat.Dense, o Offsets, i int) *mat.Dense {
	s, e := o.Span(i)
	_, c := m.Dims()
	return m.Slice(s, e, 0, c).(*mat.Dense)
}

// MaxRows reduces every group to its column-wise maximum (groups × cols).
func MaxRows(m *mat.Dense, o Offsets) (*mat.Dense, error) {
	r, c := m.Dims()
	if err := o.Check(r); err != nil {
		return nil, err
	}
	out := mat.NewDense(o.Len(), c, nil)
	for g := 0; g < o.Len(); g++ {
		s, e := o.Span(g)
		dst := out.RawRowView(g)
		copy(dst, m.RawRowView(s))
		for p := s + 1; p < e; p++ {
			for j, v := range m.RawRowView(p) {
				if v > dst[j] {
					dst[j] = v
				}
			}
		}
	}
	return out, nil
}

// MeanRows reduces every group to its column-wise mean (groups × cols).
func MeanRows(m *mat.Dense, o Offsets) (*mat.Dense, error) {
	r, c := m.Dims()
	if err := o.Check(r); err != nil {
		return nil, err
	}
	out := mat.NewDense(o.Len(), c, nil)
	for g := 0; g < o.Len(); g++ {
		s, e := o.Span(g)
		dst := out.RawRowView(g)
		for p := s; p < e; p++ {
			floats.Add(dst, m.RawRowView(p))
		}
		floats.Scale(1/float64(e-s), dst)
	}
	return out, nil
}

// Softmax normalises logits within every group after dividing by temp.
func Softmax(logits []float64, o Offsets, temp float64) ([]float64, error) {
	if err := o.Check(len(logits)); err != nil {
		return nil, err
	}
	if !(temp > 0) {
		return nil, fmt.Errorf("%w: got %v", ErrBadTemperature, temp)
	}
	out := make([]float64, len(logits))
	for g := 0; g < o.Len(); g++ {
		s, e := o.Span(g)
		softmaxInto(out[s:e], logits[s:e], temp)
	}
	return out, nil
}

// WeightedSum returns, per group, the sum of m's rows weighted by w
// (groups × cols).
func WeightedSum(w []float64, m *mat.Dense, o Offsets) (*mat.Dense, error) {
	r, c := m.Dims()
	if err := o.Check(r); err != nil {
		return nil, err
	}
	if len(w) != r {
		return nil, fmt.Errorf("%d weights for %d rows: %w", len(w), r, ErrLengthMismatch)
	}
	out := mat.NewDense(o.Len(), c, nil)
	for g := 0; g < o.Len(); g++ {
		s, e := o.Span(g)
		dst := out.RawRowView(g)
		for p := s; p < e; p++ {
			floats.AddScaled(dst, w[p], m.RawRowView(p))
		}
	}
	return out, nil
}

func softmaxInto(dst, src []float64, temp float64) {
	mx := floats.Max(src) / temp
	sum := 0.0
	for i, v := range src {
		dst[i] = math.Exp(v/temp - mx)
		sum += dst[i]
	}
	floats.Scale(1/sum, dst)
}
