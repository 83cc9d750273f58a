package pointcloud

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Label is the semantic class of a scene point.
type Label int

const (
	LabelObstacle Label = iota
	LabelRobot
	LabelObject
	LabelTarget
)

// NumLabels is the width of a per-point label weight vector.
const NumLabels = 4

var labelNames = [NumLabels]string{"obstacle", "robot", "object", "target"}

func (l Label) String() string {
	if l < 0 || int(l) >= NumLabels {
		return fmt.Sprintf("label(%d)", int(l))
	}
	return labelNames[l]
}

// Point is a scene point in the robot base frame (metres) with its colour
// and semantic label.
type Point struct {
	X, Y, Z float64
	R, G, B float64 // colour in [-1, 1]
	Label   Label
}

// FeatureDim is the width of the raw per-point feature row: xyz then rgb.
const FeatureDim = 6

// Features writes points as an N × FeatureDim matrix.
func Features(points []Point) *mat.Dense {
	if len(points) == 0 {
		return nil
	}
	m := mat.NewDense(len(points), FeatureDim, nil)
	for i, p := range points {
		m.SetRow(i, []float64{p.X, p.Y, p.Z, p.R, p.G, p.B})
	}
	return m
}

// OneHotLabels writes points' labels as an N × NumLabels weight matrix.
func OneHotLabels(points []Point) *mat.Dense {
	if len(points) == 0 {
		return nil
	}
	m := mat.NewDense(len(points), NumLabels, nil)
	for i, p := range points {
		if p.Label >= 0 && int(p.Label) < NumLabels {
			m.Set(i, int(p.Label), 1)
		}
	}
	return m
}

// DominantLabel returns the highest-weighted class in a label weight row.
func DominantLabel(weights []float64) Label {
	best := 0
	for i, w := range weights {
		if w > weights[best] {
			best = i
		}
	}
	return Label(best)
}
