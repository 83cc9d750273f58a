package policy

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/motion.planner/internal/ragged"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func randomEmbeds(n, d int, seed uint64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(seed, 99))
	embeds := mat.NewDense(n, d, nil)
	coords := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			embeds.Set(i, j, rng.NormFloat64())
		}
		for j := 0; j < 3; j++ {
			coords.Set(i, j, rng.Float64())
		}
	}
	return embeds, coords
}

func newTestHead(t *testing.T, cfg Config) *ActionHead {
	t.Helper()
	cfg, err := NewConfig(cfg)
	require.NoError(t, err)
	return NewActionHead(cfg, rand.NewPCG(5, 6))
}

func TestHeatmapWeightsSumToOnePerSample(t *testing.T) {
	for _, counts := range [][]int{{30, 70}, {1, 2, 3}, {5}, {12, 1, 40, 7}} {
		cfg := testConfig()
		head := newTestHead(t, cfg)
		points := ragged.MustFromCounts(counts...)
		embeds, coords := randomEmbeds(points.Total(), cfg.HiddenSize, uint64(len(counts)))

		out, err := head.Forward(embeds, points, coords, 1)
		require.NoError(t, err)
		for b := 0; b < points.Len(); b++ {
			w := ragged.Rows(out.Weights, points, b)
			for step := 0; step < cfg.MaxTrajLen; step++ {
				assert.InDelta(t, 1, floats.Sum(mat.Col(nil, step, w)), 1e-9, "counts=%v sample=%d step=%d", counts, b, step)
			}
		}
		r, c := out.Pos.Dims()
		assert.Equal(t, points.Len(), r)
		assert.Equal(t, 3*cfg.MaxTrajLen, c)
	}
}

func TestHeatmapPositionIsWeightedMeanOfShiftedPoints(t *testing.T) {
	cfg := testConfig()
	head := newTestHead(t, cfg)
	// zero offsets: the position is the weighted mean of the coordinates
	head.Heatmap.Output.Weight.Slice(0, cfg.HiddenSize, 1, 4).(*mat.Dense).Zero()

	points := ragged.MustFromCounts(4, 6)
	embeds, coords := randomEmbeds(10, cfg.HiddenSize, 3)
	out, err := head.Forward(embeds, points, coords, 1)
	require.NoError(t, err)

	for b := 0; b < 2; b++ {
		s, e := points.Span(b)
		want := make([]float64, 3)
		for p := s; p < e; p++ {
			floats.AddScaled(want, out.Weights.At(p, 2), coords.RawRowView(p))
		}
		got := out.PosAt(b, 2)
		assert.InDeltaSlice(t, want, []float64{got.X, got.Y, got.Z}, 1e-12)
	}
}

func TestQuaternionOutputsAreUnit(t *testing.T) {
	for _, reduce := range []Reduce{ReduceMax, ReduceMean, ReduceAttn} {
		cfg := testConfig()
		cfg.Reduce = reduce
		head := newTestHead(t, cfg)
		// large weights so raw quaternions are far from unit length
		head.Action.Output.Weight.Scale(50, head.Action.Output.Weight)

		points := ragged.MustFromCounts(3, 9, 2)
		embeds, coords := randomEmbeds(points.Total(), cfg.HiddenSize, 11)
		out, err := head.Forward(embeds, points, coords, 1)
		require.NoError(t, err, "reduce=%s", reduce)
		for b := 0; b < 3; b++ {
			for step := 0; step < cfg.MaxTrajLen; step++ {
				assert.InDelta(t, 1, floats.Norm(out.RotAt(b, step), 2), 1e-12, "reduce=%s", reduce)
			}
		}
	}
}

func TestDegenerateQuaternionFails(t *testing.T) {
	cfg := testConfig()
	head := newTestHead(t, cfg)
	head.Action.Output.Weight.Zero()
	for i := range head.Action.Output.Bias {
		head.Action.Output.Bias[i] = 0
	}
	points := ragged.MustFromCounts(2)
	embeds, coords := randomEmbeds(2, cfg.HiddenSize, 1)
	_, err := head.Forward(embeds, points, coords, 1)
	assert.ErrorIs(t, err, ErrDegenerateQuaternion)
}

func TestTemperatureSharpensWithoutMovingArgmax(t *testing.T) {
	cfg := testConfig()
	head := newTestHead(t, cfg)
	head.Heatmap.Output.Weight.Scale(100, head.Heatmap.Output.Weight)

	points := ragged.MustFromCounts(30, 70)
	embeds, coords := randomEmbeds(100, cfg.HiddenSize, 21)

	temps := []float64{0.25, 0.5, 1, 2, 4}
	outs := make([]*HeadOutput, len(temps))
	for i, temp := range temps {
		out, err := head.Forward(embeds, points, coords, temp)
		require.NoError(t, err)
		outs[i] = out
	}

	for b := 0; b < points.Len(); b++ {
		for step := 0; step < cfg.MaxTrajLen; step++ {
			prevH := -1.0
			argmax := -1
			for i := range temps {
				w := mat.Col(nil, step, ragged.Rows(outs[i].Weights, points, b))
				h := stat.Entropy(w)
				assert.Greater(t, h, prevH, "sample %d step %d temp %v", b, step, temps[i])
				prevH = h
				if argmax < 0 {
					argmax = floats.MaxIdx(w)
				}
				assert.Equal(t, argmax, floats.MaxIdx(w), "sample %d step %d temp %v", b, step, temps[i])
			}
		}
	}
}

func TestDiscreteHeatmapShapes(t *testing.T) {
	cfg := testConfig()
	cfg.PosPred = PosHeatmapDisc
	head := newTestHead(t, cfg)
	points := ragged.MustFromCounts(3, 5)
	embeds, _ := randomEmbeds(8, cfg.HiddenSize, 2)

	// coordinates are optional in discrete mode
	out, err := head.Forward(embeds, points, nil, 1)
	require.NoError(t, err)
	assert.Nil(t, out.Pos)
	require.Len(t, out.PosLogits, cfg.MaxTrajLen)
	for _, step := range out.PosLogits {
		for _, m := range step {
			r, c := m.Dims()
			assert.Equal(t, 8, r)
			assert.Equal(t, 2*cfg.PosBins, c)
		}
	}
}

func TestHeadRejectsInconsistentInput(t *testing.T) {
	cfg := testConfig()
	head := newTestHead(t, cfg)
	embeds, coords := randomEmbeds(10, cfg.HiddenSize, 4)

	_, err := head.Forward(embeds, ragged.MustFromCounts(4, 5), coords, 1)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)

	_, err = head.Forward(embeds, ragged.MustFromCounts(4, 6), nil, 1)
	assert.ErrorIs(t, err, ErrMissingCoords)

	_, err = head.Forward(embeds, ragged.MustFromCounts(4, 6), coords, 0)
	assert.ErrorIs(t, err, ragged.ErrBadTemperature)

	_, err = head.Forward(mat.NewDense(10, 3, nil), ragged.MustFromCounts(4, 6), coords, 1)
	assert.ErrorIs(t, err, ragged.ErrLengthMismatch)
}

func TestSingleStepWithoutStepEmbedding(t *testing.T) {
	cfg := testConfig()
	cfg.TrajEmbedSize = 0
	cfg.MaxTrajLen = 1
	head := newTestHead(t, cfg)
	assert.Nil(t, head.StepEmbed)

	embeds, coords := randomEmbeds(6, cfg.HiddenSize, 8)
	out, err := head.Forward(embeds, ragged.MustFromCounts(2, 4), coords, 1)
	require.NoError(t, err)
	r, c := out.Open.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 1, c)
}
