package policy

import (
	"fmt"
	"math"
	"testing"

	"github.com/banshee-data/motion.planner/internal/ragged"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// headFor runs a planner forward pass without losses and returns the
// model, batch and raw head output.
func headFor(t *testing.T, cfg Config) (TrajectoryModel, *Batch, *HeadOutput) {
	t.Helper()
	m, err := New(cfg, nil)
	require.NoError(t, err)
	batch := testBatch(t, m.Config(), []int{6, 9}, []int{1, 2}, 7)
	pred, err := m.Forward(batch, ForwardOptions{SkipDiscDecode: true})
	require.NoError(t, err)
	return m, batch, pred.Head
}

func cloneTarget(tgt *Target) *Target {
	out := &Target{
		Actions: mat.DenseCopyOf(tgt.Actions),
		Stops:   mat.DenseCopyOf(tgt.Stops),
		Masks:   mat.DenseCopyOf(tgt.Masks),
	}
	for _, sample := range tgt.DiscPos {
		var steps [][3][]float64
		for _, s := range sample {
			var c [3][]float64
			for axis := range s {
				c[axis] = append([]float64(nil), s[axis]...)
			}
			steps = append(steps, c)
		}
		out.DiscPos = append(out.DiscPos, steps)
	}
	return out
}

func allModes() []Config {
	var out []Config
	for _, pos := range []PosPred{PosHeatmapMLP, PosHeatmapDisc} {
		for _, rot := range []RotPred{RotQuat, RotOrtho6D, RotEuler, RotEulerDisc} {
			cfg := withRot(testConfig(), rot)
			cfg.PosPred = pos
			out = append(out, cfg)
		}
	}
	return out
}

func TestQuaternionLossIgnoresTargetSign(t *testing.T) {
	m, batch, head := headFor(t, testConfig())
	want, err := m.ComputeLoss(head, batch.Target)
	require.NoError(t, err)

	flipped := cloneTarget(batch.Target)
	for r := 0; r < batch.Size()*head.Steps; r++ {
		if r%2 == 0 {
			continue
		}
		row := flipped.Actions.RawRowView(r)
		for i := 3; i < 7; i++ {
			row[i] = -row[i]
		}
	}
	got, err := m.ComputeLoss(head, flipped)
	require.NoError(t, err)
	assert.Equal(t, want.Rot, got.Rot)
	assert.Equal(t, want.Total, got.Total)
}

func TestMaskedStepsDoNotInfluenceLoss(t *testing.T) {
	for _, cfg := range allModes() {
		t.Run(fmt.Sprintf("%s/%s", cfg.PosPred, cfg.RotPred), func(t *testing.T) {
			m, batch, head := headFor(t, cfg)
			T := head.Steps

			masked := cloneTarget(batch.Target)
			masked.Masks.Set(1, 3, 0)
			masked.Masks.Set(0, 0, 0)
			want, err := m.ComputeLoss(head, masked)
			require.NoError(t, err)

			changed := cloneTarget(masked)
			for _, bt := range [][2]int{{1, 3}, {0, 0}} {
				b, step := bt[0], bt[1]
				row := changed.Actions.RawRowView(b*T + step)
				for i := range row {
					row[i] = 0.5 + float64(i)
				}
				if cfg.RotPred == RotEulerDisc {
					row[3], row[4], row[5] = 1, 2, 3
				}
				changed.Stops.Set(b, step, 1-changed.Stops.At(b, step))
				if changed.DiscPos != nil {
					for axis := range changed.DiscPos[b][step] {
						d := changed.DiscPos[b][step][axis]
						for i := range d {
							d[i] = 1 / float64(len(d))
						}
					}
				}
			}
			got, err := m.ComputeLoss(head, changed)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			full, err := m.ComputeLoss(head, batch.Target)
			require.NoError(t, err)
			assert.NotEqual(t, want.Total, full.Total, "unmasking must change the loss")
		})
	}
}

func TestLossesAreFiniteAndNonNegative(t *testing.T) {
	for _, cfg := range allModes() {
		t.Run(fmt.Sprintf("%s/%s", cfg.PosPred, cfg.RotPred), func(t *testing.T) {
			m, batch, head := headFor(t, cfg)
			l, err := m.ComputeLoss(head, batch.Target)
			require.NoError(t, err)
			for k, v := range l.Map() {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %v", k, v)
				assert.GreaterOrEqual(t, v, 0.0, k)
			}
			assert.InDelta(t, cfg.PosWeight*l.Pos+cfg.RotWeight*l.Rot+l.Open+l.Stop, l.Total, 1e-12)
		})
	}
}

func TestLossWeights(t *testing.T) {
	cfg := testConfig()
	cfg.PosWeight = 3
	cfg.RotWeight = 0.5
	m, batch, head := headFor(t, cfg)
	l, err := m.ComputeLoss(head, batch.Target)
	require.NoError(t, err)
	assert.InDelta(t, 3*l.Pos+0.5*l.Rot+l.Open+l.Stop, l.Total, 1e-12)
}

func TestQuaternionLossKnownValue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTrajLen = 1
	lc := NewLossComputer(cfg)
	out := &HeadOutput{
		Batch:   1,
		Steps:   1,
		Offsets: ragged.MustFromCounts(1),
		Pos:     mat.NewDense(1, 3, []float64{1, 0, 0}),
		Rot:     mat.NewDense(1, 4, []float64{0, 0, 0, 1}),
		Open:    mat.NewDense(1, 1, []float64{0}),
		Stop:    mat.NewDense(1, 1, []float64{0}),
	}
	tgt := &Target{
		Actions: mat.NewDense(1, 8, []float64{0, 0, 0, 0, 0, 0, -1, 1}),
		Stops:   mat.NewDense(1, 1, []float64{1}),
		Masks:   mat.NewDense(1, 1, []float64{1}),
	}
	l, err := lc.Compute(out, tgt)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, l.Pos, 1e-12)
	assert.InDelta(t, 0, l.Rot, 1e-12, "-q matches q")
	assert.InDelta(t, math.Log(2), l.Open, 1e-12)
	assert.InDelta(t, math.Log(2), l.Stop, 1e-12)
}

func TestEulerLossWraps(t *testing.T) {
	cfg := withRot(testConfig(), RotEuler)
	cfg.MaxTrajLen = 1
	lc := NewLossComputer(cfg)
	out := &HeadOutput{
		Batch:   1,
		Steps:   1,
		Offsets: ragged.MustFromCounts(1),
		Pos:     mat.NewDense(1, 3, nil),
		Rot:     mat.NewDense(1, 3, []float64{0.99, 0, 0}),
		Open:    mat.NewDense(1, 1, nil),
		Stop:    mat.NewDense(1, 1, nil),
	}
	tgt := &Target{
		// -0.99 wraps to +1.01, 0.02 away from the prediction
		Actions: mat.NewDense(1, 7, []float64{0, 0, 0, -0.99, 0, 0, 0}),
		Stops:   mat.NewDense(1, 1, nil),
		Masks:   mat.NewDense(1, 1, []float64{1}),
	}
	l, err := lc.Compute(out, tgt)
	require.NoError(t, err)
	assert.InDelta(t, 0.02*0.02/3, l.Rot, 1e-12)
}

func TestLossErrors(t *testing.T) {
	m, batch, head := headFor(t, testConfig())

	none := cloneTarget(batch.Target)
	none.Masks.Zero()
	_, err := m.ComputeLoss(head, none)
	assert.ErrorIs(t, err, ErrNoValidSteps)

	short := cloneTarget(batch.Target)
	short.Masks = mat.NewDense(2, 4, nil)
	_, err = m.ComputeLoss(head, short)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	_, err = m.ComputeLoss(head, nil)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	cfg := withRot(testConfig(), RotOrtho6D)
	m6, batch6, head6 := headFor(t, cfg)
	bad := cloneTarget(batch6.Target)
	for i := 3; i < 7; i++ {
		bad.Actions.Set(0, i, 0)
	}
	_, err = m6.ComputeLoss(head6, bad)
	assert.ErrorIs(t, err, ErrDegenerateQuaternion)
}

func TestLossRejectsIncompleteHeadOutput(t *testing.T) {
	m, batch, head := headFor(t, testConfig())

	_, err := m.ComputeLoss(&HeadOutput{Batch: 1, Steps: m.Config().MaxTrajLen}, batch.Target)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)
	_, err = m.ComputeLoss(nil, batch.Target)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	noPos := *head
	noPos.Pos = nil
	_, err = m.ComputeLoss(&noPos, batch.Target)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	shortRot := *head
	shortRot.Rot = mat.NewDense(head.Batch, 1, nil)
	_, err = m.ComputeLoss(&shortRot, batch.Target)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	cfg := testConfig()
	cfg.PosPred = PosHeatmapDisc
	md, batchD, headD := headFor(t, cfg)
	noLogits := *headD
	noLogits.PosLogits = nil
	_, err = md.ComputeLoss(&noLogits, batchD.Target)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	_, err = md.ComputeLoss(headD, batchD.Target)
	assert.NoError(t, err)
}

func TestSkipDiscDecodeRejectsShortTarget(t *testing.T) {
	cfg := testConfig()
	cfg.PosPred = PosHeatmapDisc
	m, err := New(cfg, nil)
	require.NoError(t, err)
	batch := testBatch(t, m.Config(), []int{6, 9}, []int{1, 2}, 7)
	batch.Target.Actions = mat.NewDense(3, cfg.DimActions, nil)

	_, err = m.Forward(batch, ForwardOptions{SkipDiscDecode: true})
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	batch.Target.Actions = nil
	_, err = m.Forward(batch, ForwardOptions{SkipDiscDecode: true})
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)
}
