package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/motion.planner/internal/nn"
	"github.com/banshee-data/motion.planner/internal/pointcloud"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNoContext is returned when the backbone receives no usable context.
var ErrNoContext = errors.New("policy: missing backbone context")

// BackboneInput is the record handed to a Backbone.
type BackboneInput struct {
	Coords      *mat.Dense // N × 3
	Features    *mat.Dense // N × (FeatureDim + LabelSize)
	Offsets     ragged.Offsets
	SampleIndex []int // sample id of every point
	GridSize    float64

	// Context is one row per sample when ContextOffsets is nil, otherwise a
	// ragged token sequence delimited by ContextOffsets.
	Context        *mat.Dense
	ContextOffsets *ragged.Offsets
}

// PointCloud is one resolution of backbone output.
type PointCloud struct {
	Coords   *mat.Dense
	Features *mat.Dense
	Offsets  ragged.Offsets
}

// Backbone maps a prepared batch to per-point embeddings. The last element
// of the result is the finest resolution; earlier elements are
// intermediate decoder layers.
type Backbone interface {
	Encode(in *BackboneInput) ([]PointCloud, error)
}

// VoxelBackbone is a small reference backbone: a per-point MLP lift, voxel
// mean pooling within each sample and context conditioning (feature-wise
// shift/scale for vector context, cross attention for sequence context).
type VoxelBackbone struct {
	Hidden int

	Lift  *nn.MLP
	Fuse  *nn.Linear
	FiLM  *nn.Linear // context → [scale | shift]
	Query *nn.Linear // hidden → context
	Value *nn.Linear // context → hidden
}

// NewVoxelBackbone returns a backbone producing hidden channels from
// inDim features, conditioned on ctxDim context.
func NewVoxelBackbone(inDim, ctxDim, hidden int, dropout float64, src rand.Source) *VoxelBackbone {
	return &VoxelBackbone{
		Hidden: hidden,
		Lift:   nn.NewMLP(inDim, hidden, hidden, dropout, src),
		Fuse:   nn.NewLinear(2*hidden, hidden, src),
		FiLM:   nn.NewLinear(ctxDim, 2*hidden, src),
		Query:  nn.NewLinear(hidden, ctxDim, src),
		Value:  nn.NewLinear(ctxDim, hidden, src),
	}
}

// SetTraining toggles dropout.
func (vb *VoxelBackbone) SetTraining(on bool) { vb.Lift.Dropout.SetTraining(on) }

// Encode implements Backbone.
func (vb *VoxelBackbone) Encode(in *BackboneInput) ([]PointCloud, error) {
	n, _ := in.Features.Dims()
	if err := in.Offsets.Check(n); err != nil {
		return nil, err
	}
	lifted := vb.Lift.Forward(in.Features)

	assign, nvox, err := pointcloud.Assign(in.Coords, in.Offsets, in.GridSize)
	if err != nil {
		return nil, err
	}
	pooled := mat.NewDense(nvox, vb.Hidden, nil)
	counts := make([]float64, nvox)
	for i, v := range assign {
		floats.Add(pooled.RawRowView(v), lifted.RawRowView(i))
		counts[v]++
	}
	for v, c := range counts {
		floats.Scale(1/c, pooled.RawRowView(v))
	}
	spread := mat.NewDense(n, vb.Hidden, nil)
	for i, v := range assign {
		spread.SetRow(i, pooled.RawRowView(v))
	}
	fused := vb.Fuse.Forward(nn.HStack(lifted, spread))
	nn.LeakyReLUInPlace(fused, nn.LeakySlope)

	switch {
	case in.Context == nil:
		return nil, ErrNoContext
	case in.ContextOffsets != nil:
		err = vb.crossAttend(fused, in)
	default:
		err = vb.modulate(fused, in)
	}
	if err != nil {
		return nil, err
	}

	return []PointCloud{
		{Coords: in.Coords, Features: lifted, Offsets: in.Offsets},
		{Coords: in.Coords, Features: fused, Offsets: in.Offsets},
	}, nil
}

// modulate applies h ← h·(1+scale) + shift with per-sample scale and shift.
func (vb *VoxelBackbone) modulate(h *mat.Dense, in *BackboneInput) error {
	if r, _ := in.Context.Dims(); r != in.Offsets.Len() {
		return fmt.Errorf("%d context rows for %d samples: %w", r, in.Offsets.Len(), ragged.ErrLengthMismatch)
	}
	film := vb.FiLM.Forward(in.Context)
	for i, s := range in.SampleIndex {
		cond := film.RawRowView(s)
		row := h.RawRowView(i)
		for j := range row {
			row[j] = row[j]*(1+cond[j]) + cond[vb.Hidden+j]
		}
	}
	return nil
}

// crossAttend adds, to every point, an attention-weighted sum over its own
// sample's context tokens.
func (vb *VoxelBackbone) crossAttend(h *mat.Dense, in *BackboneInput) error {
	co := *in.ContextOffsets
	r, c := in.Context.Dims()
	if err := co.Check(r); err != nil {
		return err
	}
	if co.Len() != in.Offsets.Len() {
		return fmt.Errorf("%d context groups for %d samples: %w", co.Len(), in.Offsets.Len(), ragged.ErrLengthMismatch)
	}
	q := vb.Query.Forward(h)
	v := vb.Value.Forward(in.Context)
	scale := 1 / math.Sqrt(float64(c))

	for g := 0; g < in.Offsets.Len(); g++ {
		ps, pe := in.Offsets.Span(g)
		cs, cend := co.Span(g)
		keys := in.Context.Slice(cs, cend, 0, c).(*mat.Dense)
		vals := v.Slice(cs, cend, 0, vb.Hidden).(*mat.Dense)

		var scores mat.Dense
		scores.Mul(q.Slice(ps, pe, 0, c), keys.T())
		scores.Scale(scale, &scores)
		for i := 0; i < pe-ps; i++ {
			nn.Softmax(scores.RawRowView(i), scores.RawRowView(i))
		}
		var att mat.Dense
		att.Mul(&scores, vals)
		dst := h.Slice(ps, pe, 0, vb.Hidden).(*mat.Dense)
		dst.Add(dst, &att)
	}
	return nil
}
