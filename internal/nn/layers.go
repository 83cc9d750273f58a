// Package nn provides the small set of dense layers the planner heads are
// built from, on top of gonum matrices. Rows are samples (points, tokens or
// steps); columns are channels.
package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// InitStd is the standard deviation of the normal weight initialiser.
const InitStd = 0.02

// LeakySlope is the negative slope used by every MLP activation.
const LeakySlope = 0.02

// Linear is y = x·W + b with W stored as (in × out).
type Linear struct {
	In, Out int
	Weight  *mat.Dense
	Bias    []float64
}

// NewLinear returns a Linear layer with N(0, InitStd) weights and zero bias.
func NewLinear(in, out int, src rand.Source) *Linear {
	return &Linear{
		In:     in,
		Out:    out,
		Weight: randomDense(in, out, src),
		Bias:   make([]float64, out),
	}
}

// Forward applies the layer to every row of x. It panics with mat.ErrShape
// when x does not have In columns.
func (l *Linear) Forward(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	if c != l.In {
		panic(mat.ErrShape)
	}
	out := mat.NewDense(r, l.Out, nil)
	out.Mul(x, l.Weight)
	for i := 0; i < r; i++ {
		floats.Add(out.RawRowView(i), l.Bias)
	}
	return out
}

// MLP is Linear → LeakyReLU → Dropout → Linear.
type MLP struct {
	Hidden  *Linear
	Output  *Linear
	Dropout *Dropout
}

// NewMLP builds a two-layer perceptron.
func NewMLP(in, hidden, out int, dropout float64, src rand.Source) *MLP {
	return &MLP{
		Hidden:  NewLinear(in, hidden, src),
		Output:  NewLinear(hidden, out, src),
		Dropout: NewDropout(dropout, src),
	}
}

// Forward applies the perceptron row-wise.
func (m *MLP) Forward(x mat.Matrix) *mat.Dense {
	h := m.Hidden.Forward(x)
	LeakyReLUInPlace(h, LeakySlope)
	m.Dropout.Apply(h)
	return m.Output.Forward(h)
}

// Dropout zeroes activations with probability Rate while training and
// rescales survivors by 1/(1-Rate). It is the identity in evaluation mode.
type Dropout struct {
	Rate     float64
	training bool
	src      rand.Source
}

// NewDropout returns a Dropout in evaluation mode.
func NewDropout(rate float64, src rand.Source) *Dropout {
	return &Dropout{Rate: rate, src: src}
}

// SetTraining switches between training and evaluation behaviour.
func (d *Dropout) SetTraining(on bool) { d.training = on }

// Training reports the current mode.
func (d *Dropout) Training() bool { return d.training }

// Apply drops activations of m in place.
func (d *Dropout) Apply(m *mat.Dense) {
	if !d.training || d.Rate <= 0 {
		return
	}
	keep := distuv.Bernoulli{P: 1 - d.Rate, Src: d.src}
	scale := 1 / (1 - d.Rate)
	m.Apply(func(_, _ int, v float64) float64 {
		return v * keep.Rand() * scale
	}, m)
}

// Embedding is a lookup table of Num rows of width Dim.
type Embedding struct {
	Num, Dim int
	Table    *mat.Dense
}

// NewEmbedding returns an embedding table with N(0, InitStd) entries.
func NewEmbedding(num, dim int, src rand.Source) *Embedding {
	return &Embedding{Num: num, Dim: dim, Table: randomDense(num, dim, src)}
}

// Lookup returns a copy of row i.
func (e *Embedding) Lookup(i int) []float64 {
	return append([]float64(nil), e.Table.RawRowView(i)...)
}

// Weighted returns w·Table: every row of w (width Num) selects a blend of
// table rows. One-hot rows reduce to Lookup.
func (e *Embedding) Weighted(w mat.Matrix) *mat.Dense {
	r, c := w.Dims()
	if c != e.Num {
		panic(mat.ErrShape)
	}
	out := mat.NewDense(r, e.Dim, nil)
	out.Mul(w, e.Table)
	return out
}

// LayerNorm normalises every row to zero mean and unit variance, then
// applies a per-channel affine transform.
type LayerNorm struct {
	Gamma, Beta []float64
	Eps         float64
}

// NewLayerNorm returns an identity-initialised LayerNorm over dim channels.
func NewLayerNorm(dim int) *LayerNorm {
	g := make([]float64, dim)
	for i := range g {
		g[i] = 1
	}
	return &LayerNorm{Gamma: g, Beta: make([]float64, dim), Eps: 1e-5}
}

// Forward normalises x row-wise into a new matrix.
func (ln *LayerNorm) Forward(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	if c != len(ln.Gamma) {
		panic(mat.ErrShape)
	}
	out := mat.DenseCopyOf(x)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		mu := floats.Sum(row) / float64(c)
		v := 0.0
		for _, x := range row {
			v += (x - mu) * (x - mu)
		}
		istd := 1 / math.Sqrt(v/float64(c)+ln.Eps)
		for j := range row {
			row[j] = (row[j]-mu)*istd*ln.Gamma[j] + ln.Beta[j]
		}
	}
	return out
}

// LeakyReLUInPlace applies max(x, slope·x) element-wise.
func LeakyReLUInPlace(m *mat.Dense, slope float64) {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return slope * v
		}
		return v
	}, m)
}

// HStack concatenates matrices with equal row counts along the column axis.
func HStack(ms ...mat.Matrix) *mat.Dense {
	if len(ms) == 0 {
		return nil
	}
	rows, _ := ms[0].Dims()
	cols := 0
	for _, m := range ms {
		r, c := m.Dims()
		if r != rows {
			panic(mat.ErrShape)
		}
		cols += c
	}
	out := mat.NewDense(rows, cols, nil)
	at := 0
	for _, m := range ms {
		_, c := m.Dims()
		out.Slice(0, rows, at, at+c).(*mat.Dense).Copy(m)
		at += c
	}
	return out
}

func randomDense(r, c int, src rand.Source) *mat.Dense {
	n := distuv.Normal{Mu: 0, Sigma: InitStd, Src: src}
	data := make([]float64, r*c)
	for i := range data {
		data[i] = n.Rand()
	}
	return mat.NewDense(r, c, data)
}
