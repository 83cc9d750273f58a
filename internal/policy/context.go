package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/motion.planner/internal/nn"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"github.com/banshee-data/motion.planner/internal/rotation"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateQuaternion is returned when a quaternion, predicted or
// given, has zero norm.
var ErrDegenerateQuaternion = errors.New("policy: degenerate quaternion")

// PoseEmbedding embeds end-effector poses [x y z qx qy qz qw open] into the
// context space: position, sin/cos of the xyz Euler angles and a binary
// openness embedding are summed and layer-normalised.
type PoseEmbedding struct {
	Pos  *nn.Linear
	Rot  *nn.Linear
	Open *nn.Embedding
	Norm *nn.LayerNorm
}

// NewPoseEmbedding returns a pose embedding of width dim.
func NewPoseEmbedding(dim int, src rand.Source) *PoseEmbedding {
	return &PoseEmbedding{
		Pos:  nn.NewLinear(3, dim, src),
		Rot:  nn.NewLinear(6, dim, src),
		Open: nn.NewEmbedding(2, dim, src),
		Norm: nn.NewLayerNorm(dim),
	}
}

// Forward embeds every row of poses (batch × PoseDim).
func (pe *PoseEmbedding) Forward(poses mat.Matrix) (*mat.Dense, error) {
	b, c := poses.Dims()
	if c != PoseDim {
		return nil, fmt.Errorf("ee poses have %d columns, want %d: %w", c, PoseDim, ragged.ErrLengthMismatch)
	}
	pos := mat.NewDense(b, 3, nil)
	rot := mat.NewDense(b, 6, nil)
	open := mat.NewDense(b, 2, nil)
	for i := 0; i < b; i++ {
		row := mat.Row(nil, i, poses)
		pos.SetRow(i, row[:3])
		deg, err := rotation.QuatToEuler(rotation.FromXYZW(row[3:7]))
		if err != nil {
			return nil, fmt.Errorf("ee pose %d: %w", i, ErrDegenerateQuaternion)
		}
		for a, d := range deg {
			s, co := math.Sincos(d * math.Pi / 180)
			rot.Set(i, a, s)
			rot.Set(i, 3+a, co)
		}
		if row[7] >= 0.5 {
			open.Set(i, 1, 1)
		} else {
			open.Set(i, 0, 1)
		}
	}
	out := pe.Pos.Forward(pos)
	out.Add(out, pe.Rot.Forward(rot))
	out.Add(out, pe.Open.Weighted(open))
	return pe.Norm.Forward(out), nil
}

// ContextEncoder projects instruction tokens (and optionally the
// end-effector pose) into the backbone's context space.
type ContextEncoder struct {
	cfg     Config
	TxtFC   *nn.Linear
	TxtAttn *nn.Linear // nil unless TextReduce is attn
	Pose    *PoseEmbedding
}

// NewContextEncoder builds the encoder for a validated config.
func NewContextEncoder(cfg Config, src rand.Source) *ContextEncoder {
	ce := &ContextEncoder{
		cfg:   cfg,
		TxtFC: nn.NewLinear(cfg.TextSize, cfg.ContextSize, src),
	}
	if cfg.TextReduce == TextAttn {
		ce.TxtAttn = nn.NewLinear(cfg.TextSize, 1, src)
	}
	if cfg.UsePose {
		ce.Pose = NewPoseEmbedding(cfg.ContextSize, src)
	}
	return ce
}

func (ce *ContextEncoder) checkTokens(tokens *mat.Dense, lens ragged.Offsets) error {
	r, c := tokens.Dims()
	if c != ce.cfg.TextSize {
		return fmt.Errorf("text tokens have %d columns, want %d: %w", c, ce.cfg.TextSize, ragged.ErrLengthMismatch)
	}
	return lens.Check(r)
}

func (ce *ContextEncoder) poses(poses mat.Matrix, batch int) (*mat.Dense, error) {
	if ce.Pose == nil {
		return nil, nil
	}
	if poses == nil {
		return nil, fmt.Errorf("pose conditioning enabled but batch has no ee poses: %w", ragged.ErrLengthMismatch)
	}
	if r, _ := poses.Dims(); r != batch {
		return nil, fmt.Errorf("%d ee poses for %d samples: %w", r, batch, ragged.ErrLengthMismatch)
	}
	return ce.Pose.Forward(poses)
}

// EncodeVector returns one context vector per sample (batch ×
// ContextSize). Tokens are grouped by lens; poses may be nil when pose
// conditioning is off.
func (ce *ContextEncoder) EncodeVector(tokens *mat.Dense, lens ragged.Offsets, poses mat.Matrix) (*mat.Dense, error) {
	if err := ce.checkTokens(tokens, lens); err != nil {
		return nil, err
	}
	proj := ce.TxtFC.Forward(tokens)

	var ctx *mat.Dense
	var err error
	switch ce.cfg.TextReduce {
	case TextAttn:
		logits := mat.Col(nil, 0, ce.TxtAttn.Forward(tokens))
		w, serr := ragged.Softmax(logits, lens, 1)
		if serr != nil {
			return nil, serr
		}
		ctx, err = ragged.WeightedSum(w, proj, lens)
	default:
		ctx, err = ragged.MeanRows(proj, lens)
	}
	if err != nil {
		return nil, err
	}

	pe, err := ce.poses(poses, lens.Len())
	if err != nil {
		return nil, err
	}
	if pe != nil {
		ctx.Add(ctx, pe)
	}
	return ctx, nil
}

// EncodeSequence returns the projected tokens of every sample, followed by
// one pose token per sample when pose conditioning is on, together with
// the offsets delimiting each sample's context.
func (ce *ContextEncoder) EncodeSequence(tokens *mat.Dense, lens ragged.Offsets, poses mat.Matrix) (*mat.Dense, ragged.Offsets, error) {
	if err := ce.checkTokens(tokens, lens); err != nil {
		return nil, ragged.Offsets{}, err
	}
	proj := ce.TxtFC.Forward(tokens)
	pe, err := ce.poses(poses, lens.Len())
	if err != nil {
		return nil, ragged.Offsets{}, err
	}
	if pe == nil {
		return proj, lens, nil
	}

	out := lens.Grow(1)
	ctx := mat.NewDense(out.Total(), ce.cfg.ContextSize, nil)
	for g := 0; g < lens.Len(); g++ {
		s, e := lens.Span(g)
		ds, de := out.Span(g)
		ctx.Slice(ds, de-1, 0, ce.cfg.ContextSize).(*mat.Dense).Copy(proj.Slice(s, e, 0, ce.cfg.ContextSize))
		ctx.SetRow(de-1, pe.RawRowView(g))
	}
	return ctx, out, nil
}
