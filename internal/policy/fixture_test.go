package policy

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/motion.planner/internal/discpos"
	"github.com/banshee-data/motion.planner/internal/pointcloud"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"github.com/banshee-data/motion.planner/internal/rotation"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// testConfig is DefaultConfig shrunk for fast tests.
func testConfig() Config {
	c := DefaultConfig()
	c.TextSize = 32
	c.ContextSize = 16
	c.HiddenSize = 16
	c.LabelSize = 4
	c.TrajEmbedSize = 8
	c.PosBins = 10
	c.PosBinSize = 0.05
	return c
}

// withRot adjusts DimActions to the rotation type.
func withRot(c Config, r RotPred) Config {
	c.RotPred = r
	c.DimActions = 3 + r.TargetWidth() + 1
	return c
}

// testBatch builds a reproducible batch with one-hot labels, textLens
// tokens per sample and a full target.
func testBatch(t testing.TB, cfg Config, counts, textLens []int, seed uint64) *Batch {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	points, err := ragged.FromCounts(counts)
	require.NoError(t, err)
	lens, err := ragged.FromCounts(textLens)
	require.NoError(t, err)

	n := points.Total()
	feats := mat.NewDense(n, cfg.FeatureDim, nil)
	labels := mat.NewDense(n, pointcloud.NumLabels, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < cfg.FeatureDim; j++ {
			feats.Set(i, j, rng.Float64()-0.5)
		}
		labels.Set(i, i%pointcloud.NumLabels, 1)
	}
	text := mat.NewDense(lens.Total(), cfg.TextSize, nil)
	data := text.RawMatrix().Data
	for i := range data {
		data[i] = rng.NormFloat64()
	}

	B := points.Len()
	poses := mat.NewDense(B, PoseDim, nil)
	for b := 0; b < B; b++ {
		q := rotation.ToXYZW(randomQuat(rng))
		poses.SetRow(b, []float64{rng.Float64(), rng.Float64(), rng.Float64(), q[0], q[1], q[2], q[3], float64(b % 2)})
	}

	batch := &Batch{
		Features: feats,
		Labels:   labels,
		Points:   points,
		Text:     text,
		TextLens: lens,
		EEPoses:  poses,
	}
	batch.Target = testTarget(t, cfg, batch, rng)
	return batch
}

func randomQuat(rng *rand.Rand) quat.Number {
	q, _ := rotation.Normalize(quat.Number{
		Real: rng.NormFloat64(), Imag: rng.NormFloat64(), Jmag: rng.NormFloat64(), Kmag: rng.NormFloat64(),
	})
	return q
}

func testTarget(t testing.TB, cfg Config, batch *Batch, rng *rand.Rand) *Target {
	t.Helper()
	B, T := batch.Size(), cfg.MaxTrajLen
	tgt := &Target{
		Actions: mat.NewDense(B*T, cfg.DimActions, nil),
		Stops:   mat.NewDense(B, T, nil),
		Masks:   mat.NewDense(B, T, nil),
	}
	if cfg.PosPred == PosHeatmapDisc {
		tgt.DiscPos = make([][][3][]float64, B)
	}
	for b := 0; b < B; b++ {
		s, e := batch.Points.Span(b)
		coords := batch.Features.Slice(s, e, 0, 3)
		for step := 0; step < T; step++ {
			anchor := s + rng.IntN(e-s)
			pos := r3.Vec{
				X: batch.Features.At(anchor, 0) + 0.1*(rng.Float64()-0.5),
				Y: batch.Features.At(anchor, 1) + 0.1*(rng.Float64()-0.5),
				Z: batch.Features.At(anchor, 2) + 0.1*(rng.Float64()-0.5),
			}
			row := []float64{pos.X, pos.Y, pos.Z}
			switch cfg.RotPred {
			case RotEuler:
				row = append(row, 2*rng.Float64()-1, 2*rng.Float64()-1, 2*rng.Float64()-1)
			case RotEulerDisc:
				bins := cfg.EulerBins()
				row = append(row, float64(rng.IntN(bins)), float64(rng.IntN(bins)), float64(rng.IntN(bins)))
			default:
				row = append(row, rotation.ToXYZW(randomQuat(rng))...)
			}
			row = append(row, float64(rng.IntN(2)))
			tgt.Actions.SetRow(b*T+step, row)
			tgt.Masks.Set(b, step, 1)
			if step == T-1 {
				tgt.Stops.Set(b, step, 1)
			}
			if cfg.PosPred == PosHeatmapDisc {
				probs, err := discpos.Encode(pos, coords, cfg.PosBinSize, cfg.PosBins)
				require.NoError(t, err)
				tgt.DiscPos[b] = append(tgt.DiscPos[b], probs)
			}
		}
	}
	return tgt
}
