package viz

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/banshee-data/motion.planner/internal/nn"
	"github.com/banshee-data/motion.planner/internal/pointcloud"
	"github.com/banshee-data/motion.planner/internal/policy"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	// ErrNoSample is returned when the requested sample is out of range.
	ErrNoSample = errors.New("viz: sample out of range")
	// ErrNoHeatmap is returned for predictions without per-point weights.
	ErrNoHeatmap = errors.New("viz: prediction has no heatmap weights")
)

// labelColors indexes by pointcloud.Label.
var labelColors = [pointcloud.NumLabels]color.Color{
	color.RGBA{R: 140, G: 140, B: 140, A: 255},
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
}

var (
	predColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	truthColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// ScenePlot draws a top-down view of one sample: points coloured by their
// dominant label, the decoded trajectory and, when the batch carries a
// target, the ground-truth positions.
func ScenePlot(batch *policy.Batch, pred *policy.Prediction, sample int) (*plot.Plot, error) {
	if sample < 0 || sample >= batch.Size() {
		return nil, fmt.Errorf("sample %d of %d: %w", sample, batch.Size(), ErrNoSample)
	}
	start, end := batch.Points.Span(sample)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sample %d - %d points", sample, end-start)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	byLabel := make([]plotter.XYs, pointcloud.NumLabels)
	for i := start; i < end; i++ {
		l := pointcloud.DominantLabel(batch.Labels.RawRowView(i))
		byLabel[l] = append(byLabel[l], plotter.XY{X: batch.Features.At(i, 0), Y: batch.Features.At(i, 1)})
	}
	for l, pts := range byLabel {
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = labelColors[l]
		s.GlyphStyle.Radius = vg.Points(1.5)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(pointcloud.Label(l).String(), s)
	}

	if pred != nil && pred.Head != nil && pred.Actions != nil {
		if err := addTrajectory(p, "predicted", predColor, trajectory(pred.Actions, sample, pred.Head.Steps)); err != nil {
			return nil, err
		}
	}
	if tgt := batch.Target; tgt != nil && tgt.Actions != nil {
		_, steps := tgt.Masks.Dims()
		var pts plotter.XYs
		for t := 0; t < steps; t++ {
			if tgt.Masks.At(sample, t) == 0 {
				continue
			}
			row := tgt.Actions.RawRowView(sample*steps + t)
			pts = append(pts, plotter.XY{X: row[0], Y: row[1]})
		}
		if err := addTrajectory(p, "ground truth", truthColor, pts); err != nil {
			return nil, err
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SaveScene renders ScenePlot to a PNG (or any format plot supports) at
// path.
func SaveScene(path string, batch *policy.Batch, pred *policy.Prediction, sample int) error {
	p, err := ScenePlot(batch, pred, sample)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save scene plot: %w", err)
	}
	return nil
}

// trajectory returns the decoded positions of one sample up to and
// including the first step whose stop probability reaches one half.
func trajectory(actions mat.Matrix, sample, steps int) plotter.XYs {
	pts := make(plotter.XYs, 0, steps)
	for t := 0; t < steps; t++ {
		r := sample*steps + t
		pts = append(pts, plotter.XY{X: actions.At(r, 0), Y: actions.At(r, 1)})
		if nn.Sigmoid(actions.At(r, policy.ActionWidth-1)) >= 0.5 {
			break
		}
	}
	return pts
}

func addTrajectory(p *plot.Plot, name string, c color.Color, pts plotter.XYs) error {
	if len(pts) == 0 {
		return nil
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1.5)
	points.GlyphStyle.Color = c
	points.GlyphStyle.Radius = vg.Points(3)
	points.GlyphStyle.Shape = draw.CrossGlyph{}
	p.Add(line, points)
	p.Legend.Add(name, line, points)
	return nil
}

// HeatmapPlot draws the step's per-point weights of one sample, shading
// each point from light to dark by its weight relative to the sample's
// maximum.
func HeatmapPlot(pred *policy.Prediction, sample, step int) (*plot.Plot, error) {
	h := pred.Head
	if h.Weights == nil {
		return nil, ErrNoHeatmap
	}
	if sample < 0 || sample >= h.Batch {
		return nil, fmt.Errorf("sample %d of %d: %w", sample, h.Batch, ErrNoSample)
	}
	if step < 0 || step >= h.Steps {
		return nil, fmt.Errorf("step %d of %d out of range", step, h.Steps)
	}
	start, end := h.Offsets.Span(sample)
	pts := make(plotter.XYs, 0, end-start)
	weights := make([]float64, 0, end-start)
	maxW := 0.0
	for i := start; i < end; i++ {
		pts = append(pts, plotter.XY{X: h.Coords.At(i, 0), Y: h.Coords.At(i, 1)})
		w := h.Weights.At(i, step)
		weights = append(weights, w)
		if w > maxW {
			maxW = w
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sample %d step %d - heatmap", sample, step)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	s.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		f := 0.0
		if maxW > 0 {
			f = weights[i] / maxW
		}
		return draw.GlyphStyle{
			Color:  shade(f),
			Radius: vg.Points(1.5 + 2.5*f),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(s)
	return p, nil
}

// shade maps f in [0, 1] from pale yellow to dark red.
func shade(f float64) color.Color {
	lerp := func(a, b uint8) uint8 { return uint8(float64(a) + f*(float64(b)-float64(a))) }
	return color.RGBA{R: lerp(255, 128), G: lerp(237, 0), B: lerp(160, 38), A: 255}
}
