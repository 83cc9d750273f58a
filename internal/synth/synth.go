// Package synth generates reproducible tabletop scenes and planner batches
// for smoke runs and tests: a table plane with a gripper, an object and a
// goal region, a pick-and-place trajectory and random instruction tokens.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/motion.planner/internal/discpos"
	"github.com/banshee-data/motion.planner/internal/pointcloud"
	"github.com/banshee-data/motion.planner/internal/policy"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"github.com/banshee-data/motion.planner/internal/rotation"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrOptions is returned for unusable generator options.
var ErrOptions = errors.New("synth: invalid options")

const (
	tableHalfExtent = 0.3
	clusterSpread   = 0.02
)

// Options controls batch shape.
type Options struct {
	// Counts is the number of generated points per sample, before any
	// voxel downsampling.
	Counts []int
	// TextLens is the number of instruction tokens per sample.
	TextLens []int
	// VoxelLeaf, when positive, downsamples every scene with
	// pointcloud.VoxelGrid.
	VoxelLeaf float64
	// MinValidSteps, when positive, draws each sample's trajectory length
	// uniformly from [MinValidSteps, MaxTrajLen]; later steps are masked.
	MinValidSteps int
	Seed          uint64
}

// DefaultOptions is two samples of 30 and 70 points.
func DefaultOptions() Options {
	return Options{
		Counts:   []int{30, 70},
		TextLens: []int{7, 12},
		Seed:     1,
	}
}

// Generator produces batches for one model configuration.
type Generator struct {
	cfg  policy.Config
	opts Options
	rng  *rand.Rand
	norm distuv.Normal
}

// New validates opts against cfg.
func New(cfg policy.Config, opts Options) (*Generator, error) {
	if cfg.FeatureDim != pointcloud.FeatureDim {
		return nil, fmt.Errorf("feature dim %d, scenes carry %d: %w", cfg.FeatureDim, pointcloud.FeatureDim, ErrOptions)
	}
	if len(opts.Counts) == 0 {
		return nil, fmt.Errorf("no samples: %w", ErrOptions)
	}
	if len(opts.TextLens) != len(opts.Counts) {
		return nil, fmt.Errorf("%d text lengths for %d samples: %w", len(opts.TextLens), len(opts.Counts), ErrOptions)
	}
	for i, n := range opts.Counts {
		if n < int(pointcloud.NumLabels) {
			return nil, fmt.Errorf("sample %d: %d points, need at least %d: %w", i, n, pointcloud.NumLabels, ErrOptions)
		}
		if opts.TextLens[i] < 1 {
			return nil, fmt.Errorf("sample %d: no text tokens: %w", i, ErrOptions)
		}
	}
	if opts.MinValidSteps > cfg.MaxTrajLen {
		return nil, fmt.Errorf("min valid steps %d exceeds trajectory length %d: %w", opts.MinValidSteps, cfg.MaxTrajLen, ErrOptions)
	}
	src := rand.NewPCG(opts.Seed, opts.Seed^0x5851f42d4c957f2d)
	return &Generator{
		cfg:  cfg,
		opts: opts,
		rng:  rand.New(src),
		norm: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}

// Scene is one sample's geometry.
type Scene struct {
	Points  []pointcloud.Point
	Gripper r3.Vec
	Object  r3.Vec
	Goal    r3.Vec
	// Start and End are the gripper orientations before and after the
	// place.
	Start, End quat.Number
}

// Scene builds a tabletop with n points split across the four labels.
func (g *Generator) Scene(n int) Scene {
	s := Scene{
		Gripper: r3.Vec{X: g.uniform(-0.15, 0.15), Y: g.uniform(-0.15, 0.15), Z: g.uniform(0.2, 0.35)},
		Object:  r3.Vec{X: g.uniform(-0.25, 0.25), Y: g.uniform(-0.25, 0.25), Z: 0.03},
		Goal:    r3.Vec{X: g.uniform(-0.25, 0.25), Y: g.uniform(-0.25, 0.25), Z: 0.03},
		Start:   g.quat(),
		End:     g.quat(),
	}

	robot := max(1, n/5)
	object := max(1, n/4)
	goal := max(1, n/8)
	table := n - robot - object - goal

	s.Points = make([]pointcloud.Point, 0, n)
	for i := 0; i < table; i++ {
		p := r3.Vec{X: g.uniform(-tableHalfExtent, tableHalfExtent), Y: g.uniform(-tableHalfExtent, tableHalfExtent)}
		s.Points = append(s.Points, g.point(p, pointcloud.LabelObstacle, [3]float64{0.55, 0.45, 0.35}))
	}
	for _, c := range []struct {
		n      int
		centre r3.Vec
		label  pointcloud.Label
		rgb    [3]float64
	}{
		{robot, s.Gripper, pointcloud.LabelRobot, [3]float64{0.8, 0.8, 0.85}},
		{object, s.Object, pointcloud.LabelObject, [3]float64{0.9, 0.2, 0.1}},
		{goal, s.Goal, pointcloud.LabelTarget, [3]float64{0.1, 0.3, 0.9}},
	} {
		for i := 0; i < c.n; i++ {
			p := r3.Add(c.centre, r3.Vec{X: g.jitter(), Y: g.jitter(), Z: g.jitter()})
			s.Points = append(s.Points, g.point(p, c.label, c.rgb))
		}
	}
	return s
}

// Waypoint returns the position, orientation and openness at fraction f
// of the pick-and-place: gripper to object over the first half with the
// gripper open, object to goal over the second half closed.
func (s Scene) Waypoint(f float64) (r3.Vec, quat.Number, float64) {
	var pos r3.Vec
	open := 1.0
	if f < 0.5 {
		pos = lerp(s.Gripper, s.Object, 2*f)
	} else {
		pos = lerp(s.Object, s.Goal, 2*f-1)
		open = 0
	}
	return pos, slerp(s.Start, s.End, f), open
}

// Batch generates the next batch. Successive calls draw new scenes.
func (g *Generator) Batch() (*policy.Batch, error) {
	B := len(g.opts.Counts)
	scenes := make([]Scene, B)
	counts := make([]int, B)
	var points []pointcloud.Point
	for b, n := range g.opts.Counts {
		scenes[b] = g.Scene(n)
		if g.opts.VoxelLeaf > 0 {
			scenes[b].Points = pointcloud.VoxelGrid(scenes[b].Points, g.opts.VoxelLeaf)
		}
		counts[b] = len(scenes[b].Points)
		points = append(points, scenes[b].Points...)
	}
	offsets, err := ragged.FromCounts(counts)
	if err != nil {
		return nil, err
	}
	lens, err := ragged.FromCounts(g.opts.TextLens)
	if err != nil {
		return nil, err
	}

	text := mat.NewDense(lens.Total(), g.cfg.TextSize, nil)
	data := text.RawMatrix().Data
	for i := range data {
		data[i] = g.norm.Rand()
	}

	poses := mat.NewDense(B, policy.PoseDim, nil)
	for b, s := range scenes {
		q := rotation.ToXYZW(s.Start)
		poses.SetRow(b, []float64{s.Gripper.X, s.Gripper.Y, s.Gripper.Z, q[0], q[1], q[2], q[3], 1})
	}

	batch := &policy.Batch{
		Features: pointcloud.Features(points),
		Labels:   pointcloud.OneHotLabels(points),
		Points:   offsets,
		Text:     text,
		TextLens: lens,
		EEPoses:  poses,
	}
	batch.Target, err = g.target(scenes, batch)
	if err != nil {
		return nil, err
	}
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("generated batch: %w", err)
	}
	return batch, nil
}

func (g *Generator) target(scenes []Scene, batch *policy.Batch) (*policy.Target, error) {
	B, T := len(scenes), g.cfg.MaxTrajLen
	tgt := &policy.Target{
		Actions: mat.NewDense(B*T, g.cfg.DimActions, nil),
		Stops:   mat.NewDense(B, T, nil),
		Masks:   mat.NewDense(B, T, nil),
	}
	disc := g.cfg.PosPred == policy.PosHeatmapDisc
	if disc {
		tgt.DiscPos = make([][][3][]float64, B)
	}

	for b, s := range scenes {
		valid := T
		if g.opts.MinValidSteps > 0 {
			valid = g.opts.MinValidSteps + g.rng.IntN(T-g.opts.MinValidSteps+1)
		}
		start, end := batch.Points.Span(b)
		coords := batch.Features.Slice(start, end, 0, 3)
		if disc {
			tgt.DiscPos[b] = make([][3][]float64, T)
		}

		var row []float64
		for t := 0; t < T; t++ {
			if t < valid {
				f := 1.0
				if valid > 1 {
					f = float64(t) / float64(valid-1)
				}
				pos, q, open := s.Waypoint(f)
				rot, err := g.rotTarget(q)
				if err != nil {
					return nil, fmt.Errorf("sample %d step %d: %w", b, t, err)
				}
				row = append(append([]float64{pos.X, pos.Y, pos.Z}, rot...), open)
				tgt.Masks.Set(b, t, 1)
				if disc {
					probs, err := discpos.Encode(pos, coords, g.cfg.PosBinSize, g.cfg.PosBins)
					if err != nil {
						return nil, fmt.Errorf("sample %d step %d: %w", b, t, err)
					}
					tgt.DiscPos[b][t] = probs
				}
			}
			// padded steps repeat the last valid action
			tgt.Actions.SetRow(b*T+t, row)
		}
		tgt.Stops.Set(b, valid-1, 1)
	}
	return tgt, nil
}

// rotTarget encodes q in the target layout of the configured rotation
// type.
func (g *Generator) rotTarget(q quat.Number) ([]float64, error) {
	switch g.cfg.RotPred {
	case policy.RotEuler:
		deg, err := rotation.QuatToEuler(q)
		if err != nil {
			return nil, err
		}
		return []float64{deg[0] / 180, deg[1] / 180, deg[2] / 180}, nil
	case policy.RotEulerDisc:
		bins, err := rotation.QuatToDiscreteEuler(q, g.cfg.EulerResolution)
		if err != nil {
			return nil, err
		}
		return []float64{float64(bins[0]), float64(bins[1]), float64(bins[2])}, nil
	default:
		return rotation.ToXYZW(q), nil
	}
}

func (g *Generator) point(p r3.Vec, l pointcloud.Label, rgb [3]float64) pointcloud.Point {
	// colours are stored in [-1, 1]
	c := func(v float64) float64 { return math.Max(-1, math.Min(1, 2*v-1+0.1*g.norm.Rand())) }
	return pointcloud.Point{X: p.X, Y: p.Y, Z: p.Z, R: c(rgb[0]), G: c(rgb[1]), B: c(rgb[2]), Label: l}
}

func (g *Generator) uniform(lo, hi float64) float64 { return lo + (hi-lo)*g.rng.Float64() }

func (g *Generator) jitter() float64 { return clusterSpread * g.norm.Rand() }

func (g *Generator) quat() quat.Number {
	q, err := rotation.Normalize(quat.Number{Real: g.norm.Rand(), Imag: g.norm.Rand(), Jmag: g.norm.Rand(), Kmag: g.norm.Rand()})
	if err != nil {
		return quat.Number{Real: 1}
	}
	return q
}

func lerp(a, b r3.Vec, f float64) r3.Vec {
	return r3.Add(a, r3.Scale(f, r3.Sub(b, a)))
}

// slerp interpolates between unit quaternions along the shorter arc.
func slerp(a, b quat.Number, f float64) quat.Number {
	if a.Real*b.Real+a.Imag*b.Imag+a.Jmag*b.Jmag+a.Kmag*b.Kmag < 0 {
		b = quat.Scale(-1, b)
	}
	d := quat.Mul(quat.Conj(a), b)
	q := quat.Mul(a, quat.PowReal(d, f))
	if n, err := rotation.Normalize(q); err == nil {
		return n
	}
	return a
}
