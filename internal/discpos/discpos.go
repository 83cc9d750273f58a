// Package discpos encodes and decodes discretised end-effector positions.
//
// A position is expressed, per axis, as a categorical distribution over
// (point, bin) pairs: bin b of point p covers the offset window
// [(b-Bins)·BinSize, (b-Bins+1)·BinSize) from that point's coordinate on the
// axis. Distributions are flat slices of length npoints·2·Bins indexed
// p·2·Bins + b.
package discpos

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrNoCandidates is returned when no (point, bin) pair can represent
	// a position, or a distribution carries no mass.
	ErrNoCandidates = errors.New("discpos: no candidate bins")
	// ErrShape is returned when a distribution does not match the point
	// count and bin layout.
	ErrShape = errors.New("discpos: distribution shape mismatch")
)

// Rule selects how a continuous coordinate is read off a distribution.
type Rule string

const (
	// RuleMax takes the single most probable (point, bin) per axis.
	RuleMax Rule = "max"
	// RuleEnsemble averages the TopK most probable candidates per axis,
	// weighted by their renormalised probabilities.
	RuleEnsemble Rule = "ens1"
)

// ParseRule validates a rule name.
func ParseRule(s string) (Rule, error) {
	switch r := Rule(s); r {
	case RuleMax, RuleEnsemble:
		return r, nil
	}
	return "", fmt.Errorf("discpos: unknown selection rule %q", s)
}

// Decoder resolves bin distributions to continuous positions.
type Decoder struct {
	Rule    Rule
	TopK    int
	BinSize float64
	Bins    int // bins on each side of a point; every point has 2·Bins
}

// Width returns the number of bins per point.
func (d Decoder) Width() int { return 2 * d.Bins }

// Offset returns the offset from a point's coordinate to the centre of bin b.
func (d Decoder) Offset(b int) float64 {
	return (float64(b-d.Bins) + 0.5) * d.BinSize
}

// Decode returns the position described by probs, one normalised
// distribution per axis, relative to the points in coords (npoints × ≥3).
func (d Decoder) Decode(probs [3][]float64, coords mat.Matrix) (r3.Vec, error) {
	n, _ := coords.Dims()
	w := d.Width()
	var out [3]float64
	for axis, p := range probs {
		if len(p) != n*w {
			return r3.Vec{}, fmt.Errorf("axis %d: %d entries for %d points × %d bins: %w", axis, len(p), n, w, ErrShape)
		}
		switch d.Rule {
		case RuleEnsemble:
			v, err := d.ensemble(p, coords, axis)
			if err != nil {
				return r3.Vec{}, fmt.Errorf("axis %d: %w", axis, err)
			}
			out[axis] = v
		default:
			idx := floats.MaxIdx(p)
			out[axis] = coords.At(idx/w, axis) + d.Offset(idx%w)
		}
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}, nil
}

func (d Decoder) ensemble(p []float64, coords mat.Matrix, axis int) (float64, error) {
	w := d.Width()
	k := d.TopK
	if k <= 0 || k > len(p) {
		k = len(p)
	}
	neg := make([]float64, len(p))
	floats.ScaleTo(neg, -1, p)
	inds := make([]int, len(p))
	floats.Argsort(neg, inds)

	total, acc := 0.0, 0.0
	for _, idx := range inds[:k] {
		pr := p[idx]
		total += pr
		acc += pr * (coords.At(idx/w, axis) + d.Offset(idx%w))
	}
	if total <= 0 {
		return 0, ErrNoCandidates
	}
	return acc / total, nil
}

// Encode builds the per-axis target distribution for position target:
// every point whose offset to the target falls inside its bin window puts
// unit mass on the matching bin, and each axis is normalised.
func Encode(target r3.Vec, coords mat.Matrix, binSize float64, bins int) ([3][]float64, error) {
	n, _ := coords.Dims()
	w := 2 * bins
	tgt := [3]float64{target.X, target.Y, target.Z}
	var out [3][]float64
	for axis := range out {
		dist := make([]float64, n*w)
		for p := 0; p < n; p++ {
			off := tgt[axis] - coords.At(p, axis)
			fb := math.Floor(off/binSize) + float64(bins)
			if fb < 0 || fb >= float64(w) {
				continue
			}
			b := int(fb)
			dist[p*w+b] = 1
		}
		s := floats.Sum(dist)
		if s == 0 {
			return out, fmt.Errorf("axis %d: %w", axis, ErrNoCandidates)
		}
		floats.Scale(1/s, dist)
		out[axis] = dist
	}
	return out, nil
}
