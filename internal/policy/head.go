package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/motion.planner/internal/nn"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMissingCoords is returned when heatmap_mlp mode runs without point
// coordinates.
var ErrMissingCoords = errors.New("policy: heatmap_mlp requires point coordinates")

// HeadOutput holds the raw action head predictions for a batch of B
// samples over T trajectory steps.
type HeadOutput struct {
	Batch, Steps int
	Offsets      ragged.Offsets // points per sample
	Coords       *mat.Dense     // N × 3, the coordinates the head was given

	// Pos is B × (T·3), row b holding [x y z] per step (heatmap_mlp only).
	Pos *mat.Dense
	// Weights is N × T: the per-sample softmax over points of every step's
	// heatmap logit (heatmap_mlp only).
	Weights *mat.Dense
	// PosLogits[t][axis] is N × 2·PosBins: per-point bin logits
	// (heatmap_disc only).
	PosLogits [][3]*mat.Dense

	// Rot is B × (T·RotChannels) in the raw representation. Quaternions
	// are unit length; discrete Euler channels are laid out bin·3 + axis.
	Rot *mat.Dense
	// Open and Stop are B × T logits.
	Open *mat.Dense
	Stop *mat.Dense
}

// PosAt returns the continuous position of sample b at step t.
func (h *HeadOutput) PosAt(b, t int) r3.Vec {
	row := h.Pos.RawRowView(b)[3*t:]
	return r3.Vec{X: row[0], Y: row[1], Z: row[2]}
}

// RotAt returns the raw rotation channels of sample b at step t.
func (h *HeadOutput) RotAt(b, t int) []float64 {
	_, c := h.Rot.Dims()
	w := c / h.Steps
	return h.Rot.RawRowView(b)[w*t : w*(t+1)]
}

type outputShape struct {
	name string
	m    *mat.Dense
	cols int
}

// Check verifies that h carries every output cfg's modes produce, with
// shapes matching its batch and step counts.
func (h *HeadOutput) Check(cfg Config) error {
	if h == nil {
		return fmt.Errorf("head output is nil: %w", ragged.ErrLengthMismatch)
	}
	B, T := h.Batch, h.Steps
	if B < 1 || T != cfg.MaxTrajLen {
		return fmt.Errorf("head output covers %d samples over %d steps, want %d steps: %w", B, T, cfg.MaxTrajLen, ragged.ErrLengthMismatch)
	}
	shapes := []outputShape{
		{"rotation", h.Rot, T * cfg.RotChannels()},
		{"openness", h.Open, T},
		{"stop", h.Stop, T},
	}
	if cfg.PosPred != PosHeatmapDisc {
		shapes = append(shapes, outputShape{"position", h.Pos, 3 * T})
	}
	for _, s := range shapes {
		if s.m == nil {
			return fmt.Errorf("head output has no %s: %w", s.name, ragged.ErrLengthMismatch)
		}
		if r, c := s.m.Dims(); r != B || c != s.cols {
			return fmt.Errorf("head %s is %d×%d, want %d×%d: %w", s.name, r, c, B, s.cols, ragged.ErrLengthMismatch)
		}
	}
	if cfg.PosPred != PosHeatmapDisc {
		return nil
	}

	if h.Offsets.Len() != B {
		return fmt.Errorf("head offsets have %d groups for %d samples: %w", h.Offsets.Len(), B, ragged.ErrLengthMismatch)
	}
	if len(h.PosLogits) != T {
		return fmt.Errorf("head has %d position logit steps, want %d: %w", len(h.PosLogits), T, ragged.ErrLengthMismatch)
	}
	n, w := h.Offsets.Total(), 2*cfg.PosBins
	for t, axes := range h.PosLogits {
		for axis, m := range axes {
			if m == nil {
				return fmt.Errorf("step %d axis %d has no position logits: %w", t, axis, ragged.ErrLengthMismatch)
			}
			if r, c := m.Dims(); r != n || c != w {
				return fmt.Errorf("step %d axis %d position logits are %d×%d, want %d×%d: %w", t, axis, r, c, n, w, ragged.ErrLengthMismatch)
			}
		}
	}
	return nil
}

// ActionHead turns per-point embeddings into per-step actions.
type ActionHead struct {
	cfg       Config
	StepEmbed *nn.Embedding // nil when TrajEmbedSize is 0
	Heatmap   *nn.MLP
	Action    *nn.MLP
}

// NewActionHead builds the head for a validated config.
func NewActionHead(cfg Config, src rand.Source) *ActionHead {
	in := cfg.HiddenSize + cfg.TrajEmbedSize
	h := &ActionHead{
		cfg:     cfg,
		Heatmap: nn.NewMLP(in, cfg.HiddenSize, cfg.PosChannels(), cfg.Dropout, src),
		Action:  nn.NewMLP(in, cfg.HiddenSize, cfg.ActionChannels(), cfg.Dropout, src),
	}
	if cfg.TrajEmbedSize > 0 {
		h.StepEmbed = nn.NewEmbedding(cfg.MaxTrajLen, cfg.TrajEmbedSize, src)
	}
	return h
}

// SetTraining toggles dropout in both MLPs.
func (h *ActionHead) SetTraining(on bool) {
	h.Heatmap.Dropout.SetTraining(on)
	h.Action.Dropout.SetTraining(on)
}

// stepInput returns the point embeddings with step t's embedding appended
// to every row.
func (h *ActionHead) stepInput(embeds *mat.Dense, t int) *mat.Dense {
	if h.StepEmbed == nil {
		return embeds
	}
	n, _ := embeds.Dims()
	step := h.StepEmbed.Lookup(t)
	tiled := mat.NewDense(n, len(step), nil)
	for i := 0; i < n; i++ {
		tiled.SetRow(i, step)
	}
	return nn.HStack(embeds, tiled)
}

// Forward runs the head on embeds (N × HiddenSize) grouped by points.
// coords (N × 3) is required in heatmap_mlp mode; temp scales every
// per-sample softmax.
func (h *ActionHead) Forward(embeds *mat.Dense, points ragged.Offsets, coords *mat.Dense, temp float64) (*HeadOutput, error) {
	n, d := embeds.Dims()
	if err := points.Check(n); err != nil {
		return nil, err
	}
	if d != h.cfg.HiddenSize {
		return nil, fmt.Errorf("point embeddings have %d channels, want %d: %w", d, h.cfg.HiddenSize, ragged.ErrLengthMismatch)
	}
	if coords != nil {
		if r, c := coords.Dims(); r != n || c < 3 {
			return nil, fmt.Errorf("coords are %d×%d for %d points: %w", r, c, n, ragged.ErrLengthMismatch)
		}
	}
	if h.cfg.PosPred == PosHeatmapMLP && coords == nil {
		return nil, ErrMissingCoords
	}
	if !(temp > 0) {
		return nil, fmt.Errorf("%w: got %v", ragged.ErrBadTemperature, temp)
	}

	T, B := h.cfg.MaxTrajLen, points.Len()
	rw := h.cfg.RotChannels()
	out := &HeadOutput{
		Batch:   B,
		Steps:   T,
		Offsets: points,
		Coords:  coords,
		Rot:     mat.NewDense(B, T*rw, nil),
		Open:    mat.NewDense(B, T, nil),
		Stop:    mat.NewDense(B, T, nil),
	}
	switch h.cfg.PosPred {
	case PosHeatmapDisc:
		out.PosLogits = make([][3]*mat.Dense, T)
	default:
		out.Pos = mat.NewDense(B, T*3, nil)
		out.Weights = mat.NewDense(n, T, nil)
	}

	for t := 0; t < T; t++ {
		x := h.stepInput(embeds, t)
		if err := h.position(out, x, coords, points, t, temp); err != nil {
			return nil, fmt.Errorf("step %d position: %w", t, err)
		}
		act, err := h.actions(x, points, temp)
		if err != nil {
			return nil, fmt.Errorf("step %d actions: %w", t, err)
		}
		for b := 0; b < B; b++ {
			row := act.RawRowView(b)
			rot := out.Rot.RawRowView(b)[t*rw : (t+1)*rw]
			copy(rot, row[:rw])
			if h.cfg.RotPred == RotQuat {
				norm := floats.Norm(rot, 2)
				if norm == 0 || math.IsNaN(norm) {
					return nil, fmt.Errorf("sample %d step %d: %w", b, t, ErrDegenerateQuaternion)
				}
				floats.Scale(1/norm, rot)
			}
			out.Open.Set(b, t, row[len(row)-2])
			out.Stop.Set(b, t, row[len(row)-1])
		}
	}
	return out, nil
}

func (h *ActionHead) position(out *HeadOutput, x, coords *mat.Dense, points ragged.Offsets, t int, temp float64) error {
	hm := h.Heatmap.Forward(x)
	n, _ := hm.Dims()

	if h.cfg.PosPred == PosHeatmapDisc {
		w := 2 * h.cfg.PosBins
		for axis := 0; axis < 3; axis++ {
			out.PosLogits[t][axis] = mat.DenseCopyOf(hm.Slice(0, n, axis*w, (axis+1)*w))
		}
		return nil
	}

	weights, err := ragged.Softmax(mat.Col(nil, 0, hm), points, temp)
	if err != nil {
		return err
	}
	out.Weights.SetCol(t, weights)

	shifted := mat.DenseCopyOf(hm.Slice(0, n, 1, 4))
	shifted.Add(shifted, coords.Slice(0, n, 0, 3))
	pos, err := ragged.WeightedSum(weights, shifted, points)
	if err != nil {
		return err
	}
	for b := 0; b < points.Len(); b++ {
		copy(out.Pos.RawRowView(b)[3*t:3*t+3], pos.RawRowView(b))
	}
	return nil
}

// actions returns the B × (RotChannels+2) non-positional outputs of one
// step.
func (h *ActionHead) actions(x *mat.Dense, points ragged.Offsets, temp float64) (*mat.Dense, error) {
	switch h.cfg.Reduce {
	case ReduceAttn:
		a := h.Action.Forward(x)
		n, c := a.Dims()
		w, err := ragged.Softmax(mat.Col(nil, 0, a), points, temp)
		if err != nil {
			return nil, err
		}
		return ragged.WeightedSum(w, a.Slice(0, n, 1, c).(*mat.Dense), points)
	case ReduceMean:
		pooled, err := ragged.MeanRows(x, points)
		if err != nil {
			return nil, err
		}
		return h.Action.Forward(pooled), nil
	default:
		pooled, err := ragged.MaxRows(x, points)
		if err != nil {
			return nil, err
		}
		return h.Action.Forward(pooled), nil
	}
}
