package policy

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/motion.planner/internal/nn"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"github.com/banshee-data/motion.planner/internal/rotation"
	"gonum.org/v1/gonum/mat"
)

// ErrNoValidSteps is returned when the validity mask selects no step.
var ErrNoValidSteps = errors.New("policy: no valid trajectory steps")

// Target is the ground truth for a batch of B samples over T steps.
type Target struct {
	// Actions is (B·T) × DimActions, row b·T+t holding position, the
	// rotation target and openness.
	Actions *mat.Dense
	// Stops and Masks are B × T; a zero mask entry excludes that step
	// from every loss term.
	Stops *mat.Dense
	Masks *mat.Dense
	// DiscPos[b][t][axis] is the target distribution over sample b's
	// (point, bin) pairs; required for heatmap_disc.
	DiscPos [][][3][]float64
}

// Losses are the scalar training losses of one batch.
type Losses struct {
	Pos, Rot, Open, Stop, Total float64
}

// Map returns the losses keyed pos, rot, open, stop and total.
func (l Losses) Map() map[string]float64 {
	return map[string]float64{
		"pos":   l.Pos,
		"rot":   l.Rot,
		"open":  l.Open,
		"stop":  l.Stop,
		"total": l.Total,
	}
}

func (l Losses) String() string {
	return fmt.Sprintf("total=%.4f pos=%.4f rot=%.4f open=%.4f stop=%.4f", l.Total, l.Pos, l.Rot, l.Open, l.Stop)
}

// LossComputer scores head outputs against ground truth.
type LossComputer struct {
	cfg Config
}

// NewLossComputer builds the loss computer for a validated config.
func NewLossComputer(cfg Config) *LossComputer { return &LossComputer{cfg: cfg} }

// Validate checks tgt against a batch of batch samples.
func (lc *LossComputer) Validate(tgt *Target, batch int) error {
	if tgt == nil || tgt.Actions == nil || tgt.Stops == nil || tgt.Masks == nil {
		return fmt.Errorf("target is incomplete: %w", ragged.ErrLengthMismatch)
	}
	T := lc.cfg.MaxTrajLen
	if r, c := tgt.Actions.Dims(); r != batch*T || c != lc.cfg.DimActions {
		return fmt.Errorf("target actions are %d×%d, want %d×%d: %w", r, c, batch*T, lc.cfg.DimActions, ragged.ErrLengthMismatch)
	}
	for name, m := range map[string]*mat.Dense{"stops": tgt.Stops, "masks": tgt.Masks} {
		if r, c := m.Dims(); r != batch || c != T {
			return fmt.Errorf("target %s are %d×%d, want %d×%d: %w", name, r, c, batch, T, ragged.ErrLengthMismatch)
		}
	}
	for _, v := range tgt.Masks.RawMatrix().Data {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("mask value %v: %w", v, ragged.ErrLengthMismatch)
		}
	}
	if lc.cfg.PosPred == PosHeatmapDisc && len(tgt.DiscPos) != batch {
		return fmt.Errorf("%d discrete position targets for %d samples: %w", len(tgt.DiscPos), batch, ragged.ErrLengthMismatch)
	}
	return nil
}

// Compute returns the masked losses of out against tgt.
func (lc *LossComputer) Compute(out *HeadOutput, tgt *Target) (Losses, error) {
	if err := out.Check(lc.cfg); err != nil {
		return Losses{}, err
	}
	if err := lc.Validate(tgt, out.Batch); err != nil {
		return Losses{}, err
	}
	maskSum := mat.Sum(tgt.Masks)
	if maskSum == 0 {
		return Losses{}, ErrNoValidSteps
	}

	var l Losses
	var err error
	if lc.cfg.PosPred == PosHeatmapDisc {
		l.Pos, err = lc.discPosLoss(out, tgt)
	} else {
		l.Pos, err = lc.maskedMean(out, tgt, maskSum, func(b, t int, act []float64) (float64, error) {
			p := out.PosAt(b, t)
			dx, dy, dz := p.X-act[0], p.Y-act[1], p.Z-act[2]
			return (dx*dx + dy*dy + dz*dz) / 3, nil
		})
	}
	if err != nil {
		return Losses{}, fmt.Errorf("position loss: %w", err)
	}

	l.Rot, err = lc.rotLoss(out, tgt, maskSum)
	if err != nil {
		return Losses{}, fmt.Errorf("rotation loss: %w", err)
	}

	l.Open, err = lc.maskedMean(out, tgt, maskSum, func(b, t int, act []float64) (float64, error) {
		return nn.BCEWithLogits(out.Open.At(b, t), act[len(act)-1]), nil
	})
	if err != nil {
		return Losses{}, fmt.Errorf("openness loss: %w", err)
	}
	l.Stop, err = lc.maskedMean(out, tgt, maskSum, func(b, t int, _ []float64) (float64, error) {
		return nn.BCEWithLogits(out.Stop.At(b, t), tgt.Stops.At(b, t)), nil
	})
	if err != nil {
		return Losses{}, fmt.Errorf("stop loss: %w", err)
	}

	l.Total = lc.cfg.PosWeight*l.Pos + lc.cfg.RotWeight*l.Rot + l.Open + l.Stop
	return l, nil
}

type stepLoss func(b, t int, act []float64) (float64, error)

// maskedMean returns Σ mask·f / Σ mask over every (sample, step). Masked
// steps are never evaluated.
func (lc *LossComputer) maskedMean(out *HeadOutput, tgt *Target, maskSum float64, f stepLoss) (float64, error) {
	T := out.Steps
	acc := 0.0
	for b := 0; b < out.Batch; b++ {
		for t := 0; t < T; t++ {
			m := tgt.Masks.At(b, t)
			if m == 0 {
				continue
			}
			v, err := f(b, t, tgt.Actions.RawRowView(b*T+t))
			if err != nil {
				return 0, fmt.Errorf("sample %d step %d: %w", b, t, err)
			}
			acc += m * v
		}
	}
	return acc / maskSum, nil
}

// discPosLoss is the per-sample masked mean of the per-axis cross entropy
// between bin logits and target distributions, averaged over the samples
// with at least one valid step.
func (lc *LossComputer) discPosLoss(out *HeadOutput, tgt *Target) (float64, error) {
	total, samples := 0.0, 0
	for b := 0; b < out.Batch; b++ {
		ms := mat.Sum(tgt.Masks.Slice(b, b+1, 0, out.Steps))
		if ms == 0 {
			continue
		}
		if len(tgt.DiscPos[b]) != out.Steps {
			return 0, fmt.Errorf("sample %d has %d discrete position steps, want %d: %w", b, len(tgt.DiscPos[b]), out.Steps, ragged.ErrLengthMismatch)
		}
		acc := 0.0
		for t := 0; t < out.Steps; t++ {
			m := tgt.Masks.At(b, t)
			if m == 0 {
				continue
			}
			for axis := 0; axis < 3; axis++ {
				logits := mat.DenseCopyOf(ragged.Rows(out.PosLogits[t][axis], out.Offsets, b)).RawMatrix().Data
				target := tgt.DiscPos[b][t][axis]
				if len(target) != len(logits) {
					return 0, fmt.Errorf("sample %d step %d axis %d: %d target bins for %d logits: %w", b, t, axis, len(target), len(logits), ragged.ErrLengthMismatch)
				}
				acc += m * nn.SoftCrossEntropy(logits, target)
			}
		}
		total += acc / (3 * ms)
		samples++
	}
	return total / float64(samples), nil
}

func (lc *LossComputer) rotLoss(out *HeadOutput, tgt *Target, maskSum float64) (float64, error) {
	switch lc.cfg.RotPred {
	case RotOrtho6D:
		return lc.maskedMean(out, tgt, maskSum, func(b, t int, act []float64) (float64, error) {
			m, err := rotation.ToMatrix(rotation.FromXYZW(act[3:7]))
			if err != nil {
				return 0, ErrDegenerateQuaternion
			}
			return mse(out.RotAt(b, t), rotation.Ortho6DFromMatrix(m)), nil
		})
	case RotEuler:
		return lc.maskedMean(out, tgt, maskSum, func(b, t int, act []float64) (float64, error) {
			pred := out.RotAt(b, t)
			acc := 0.0
			for i, y := range act[3:6] {
				wrapped := y
				switch {
				case y < 0:
					wrapped += 2
				case y > 0:
					wrapped -= 2
				}
				d1, d2 := pred[i]-y, pred[i]-wrapped
				acc += math.Min(d1*d1, d2*d2)
			}
			return acc / 3, nil
		})
	case RotEulerDisc:
		bins := lc.cfg.EulerBins()
		return lc.maskedMean(out, tgt, maskSum, func(b, t int, act []float64) (float64, error) {
			pred := out.RotAt(b, t)
			acc := 0.0
			for axis, y := range act[3:6] {
				k := int(math.Round(y))
				if k < 0 || k >= bins {
					return 0, fmt.Errorf("euler bin %v outside [0, %d): %w", y, bins, ragged.ErrLengthMismatch)
				}
				acc += nn.CrossEntropy(EulerDiscLogits(pred, bins, axis), k)
			}
			return acc / 3, nil
		})
	default:
		return lc.maskedMean(out, tgt, maskSum, func(b, t int, act []float64) (float64, error) {
			pred, q := out.RotAt(b, t), act[3:7]
			same, flipped := 0.0, 0.0
			for i := range q {
				d1, d2 := pred[i]-q[i], pred[i]+q[i]
				same += d1 * d1
				flipped += d2 * d2
			}
			return math.Min(same, flipped) / 4, nil
		})
	}
}

func mse(a, b []float64) float64 {
	acc := 0.0
	for i := range a {
		d := a[i] - b[i]
		acc += d * d
	}
	return acc / float64(len(a))
}
