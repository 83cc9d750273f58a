package policy

import (
	"fmt"

	"github.com/banshee-data/motion.planner/internal/discpos"
	"github.com/banshee-data/motion.planner/internal/nn"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"github.com/banshee-data/motion.planner/internal/rotation"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// ActionDecoder converts raw head outputs into physical actions.
type ActionDecoder struct {
	cfg  Config
	disc discpos.Decoder
}

// NewActionDecoder builds the decoder for a validated config.
func NewActionDecoder(cfg Config) *ActionDecoder {
	return &ActionDecoder{cfg: cfg, disc: cfg.DiscDecoder()}
}

// Decode returns a (B·T) × ActionWidth matrix whose row b·T+t is
// [x y z qx qy qz qw open stop] for sample b at step t.
//
// In heatmap_disc mode, when skipDisc is set and tgt is non-nil, the
// ground-truth positions are used instead of decoding the bin
// distributions.
func (d *ActionDecoder) Decode(out *HeadOutput, tgt *Target, skipDisc bool) (*mat.Dense, error) {
	if err := out.Check(d.cfg); err != nil {
		return nil, err
	}
	B, T := out.Batch, out.Steps
	useTarget := skipDisc && tgt != nil && d.cfg.PosPred == PosHeatmapDisc
	if useTarget {
		if tgt.Actions == nil {
			return nil, fmt.Errorf("target has no actions: %w", ragged.ErrLengthMismatch)
		}
		if r, c := tgt.Actions.Dims(); r != B*T || c < 3 {
			return nil, fmt.Errorf("target actions are %d×%d, want %d rows with a position: %w", r, c, B*T, ragged.ErrLengthMismatch)
		}
	}
	actions := mat.NewDense(B*T, ActionWidth, nil)

	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			row := actions.RawRowView(b*T + t)

			switch {
			case d.cfg.PosPred != PosHeatmapDisc:
				p := out.PosAt(b, t)
				row[0], row[1], row[2] = p.X, p.Y, p.Z
			case useTarget:
				copy(row[:3], tgt.Actions.RawRowView(b*T+t)[:3])
			default:
				p, err := d.discPosition(out, b, t)
				if err != nil {
					return nil, fmt.Errorf("sample %d step %d: %w", b, t, err)
				}
				copy(row[:3], p[:])
			}

			q, err := d.quaternion(out.RotAt(b, t))
			if err != nil {
				return nil, fmt.Errorf("sample %d step %d: %w", b, t, err)
			}
			copy(row[3:7], rotation.ToXYZW(q))
			row[7] = out.Open.At(b, t)
			row[8] = out.Stop.At(b, t)
		}
	}
	return actions, nil
}

func (d *ActionDecoder) discPosition(out *HeadOutput, b, t int) ([3]float64, error) {
	s, e := out.Offsets.Span(b)
	if out.Coords == nil {
		return [3]float64{}, ErrMissingCoords
	}
	var probs [3][]float64
	for axis := range probs {
		logits := ragged.Rows(out.PosLogits[t][axis], out.Offsets, b)
		flat := mat.DenseCopyOf(logits).RawMatrix().Data
		probs[axis] = nn.Softmax(flat, flat)
	}
	p, err := d.disc.Decode(probs, out.Coords.Slice(s, e, 0, 3))
	if err != nil {
		return [3]float64{}, err
	}
	return [3]float64{p.X, p.Y, p.Z}, nil
}

// quaternion converts one step's raw rotation channels to a unit
// quaternion.
func (d *ActionDecoder) quaternion(raw []float64) (quat.Number, error) {
	switch d.cfg.RotPred {
	case RotOrtho6D:
		m, err := rotation.MatrixFromOrtho6D(raw)
		if err != nil {
			return quat.Number{}, ErrDegenerateQuaternion
		}
		return rotation.FromMatrix(m), nil
	case RotEuler:
		return rotation.EulerToQuat([3]float64{raw[0] * 180, raw[1] * 180, raw[2] * 180}), nil
	case RotEulerDisc:
		bins := EulerDiscArgmax(raw, d.cfg.EulerBins())
		return rotation.DiscreteEulerToQuat(bins, d.cfg.EulerResolution), nil
	default:
		q, err := rotation.Normalize(rotation.FromXYZW(raw))
		if err != nil {
			return quat.Number{}, ErrDegenerateQuaternion
		}
		return q, nil
	}
}

// EulerDiscArgmax returns the most likely bin per axis from discrete Euler
// logits laid out bin·3 + axis.
func EulerDiscArgmax(raw []float64, bins int) [3]int {
	var out [3]int
	for axis := range out {
		out[axis] = floats.MaxIdx(EulerDiscLogits(raw, bins, axis))
	}
	return out
}

// EulerDiscLogits gathers the bins logits of one axis from discrete Euler
// logits laid out bin·3 + axis.
func EulerDiscLogits(raw []float64, bins, axis int) []float64 {
	col := make([]float64, bins)
	for k := range col {
		col[k] = raw[k*3+axis]
	}
	return col
}
