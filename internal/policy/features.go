package policy

import (
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/motion.planner/internal/nn"
	"github.com/banshee-data/motion.planner/internal/pointcloud"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"gonum.org/v1/gonum/mat"
)

// FeaturePreparer assembles the backbone input from raw point features
// and per-point label weights.
type FeaturePreparer struct {
	cfg    Config
	Labels *nn.Embedding // NumLabels × LabelSize
}

// NewFeaturePreparer builds the preparer for a validated config.
func NewFeaturePreparer(cfg Config, src rand.Source) *FeaturePreparer {
	return &FeaturePreparer{
		cfg:    cfg,
		Labels: nn.NewEmbedding(pointcloud.NumLabels, cfg.LabelSize, src),
	}
}

// InputDim returns the feature width the backbone receives.
func (fp *FeaturePreparer) InputDim() int { return fp.cfg.FeatureDim + fp.cfg.LabelSize }

// Prepare returns the backbone input for feats (N × FeatureDim) and labels
// (N × NumLabels class weights), grouped by points. Every label row is a
// blend of the label table rows weighted by that row; one-hot rows reduce
// to a lookup. Context fields are left for the caller.
func (fp *FeaturePreparer) Prepare(feats, labels *mat.Dense, points ragged.Offsets) (*BackboneInput, error) {
	n, c := feats.Dims()
	if err := points.Check(n); err != nil {
		return nil, err
	}
	if c != fp.cfg.FeatureDim {
		return nil, fmt.Errorf("point features have %d columns, want %d: %w", c, fp.cfg.FeatureDim, ragged.ErrLengthMismatch)
	}
	if lr, lc := labels.Dims(); lr != n || lc != pointcloud.NumLabels {
		return nil, fmt.Errorf("labels are %d×%d, want %d×%d: %w", lr, lc, n, pointcloud.NumLabels, ragged.ErrLengthMismatch)
	}
	return &BackboneInput{
		Coords:      mat.DenseCopyOf(feats.Slice(0, n, 0, 3)),
		Features:    nn.HStack(feats, fp.Labels.Weighted(labels)),
		Offsets:     points,
		SampleIndex: points.SampleIndex(),
		GridSize:    fp.cfg.VoxelSize,
	}, nil
}
