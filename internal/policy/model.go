package policy

import (
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/motion.planner/internal/monitoring"
	"github.com/banshee-data/motion.planner/internal/pointcloud"
	"github.com/banshee-data/motion.planner/internal/ragged"
	"gonum.org/v1/gonum/mat"
)

// Batch is one ragged batch of observations.
type Batch struct {
	// Features is N × FeatureDim; the first three columns are xyz.
	Features *mat.Dense
	// Labels is N × NumLabels class weights (obstacle, robot, object,
	// target).
	Labels *mat.Dense
	Points ragged.Offsets

	// Text is the instruction token embeddings of every sample, stacked
	// and grouped by TextLens.
	Text     *mat.Dense
	TextLens ragged.Offsets

	// EEPoses is B × PoseDim, required when pose conditioning is on.
	EEPoses *mat.Dense

	Target *Target
}

// Size returns the number of samples.
func (b *Batch) Size() int { return b.Points.Len() }

// Validate checks that every ragged field agrees with the point and token
// offsets.
func (b *Batch) Validate() error {
	if b.Features == nil || b.Labels == nil || b.Text == nil {
		return fmt.Errorf("batch is missing features, labels or text: %w", ragged.ErrLengthMismatch)
	}
	n, _ := b.Features.Dims()
	if err := b.Points.Check(n); err != nil {
		return fmt.Errorf("points: %w", err)
	}
	if r, c := b.Labels.Dims(); r != n || c != pointcloud.NumLabels {
		return fmt.Errorf("labels are %d×%d, want %d×%d: %w", r, c, n, pointcloud.NumLabels, ragged.ErrLengthMismatch)
	}
	tr, _ := b.Text.Dims()
	if err := b.TextLens.Check(tr); err != nil {
		return fmt.Errorf("text: %w", err)
	}
	if b.TextLens.Len() != b.Points.Len() {
		return fmt.Errorf("%d text groups for %d samples: %w", b.TextLens.Len(), b.Points.Len(), ragged.ErrLengthMismatch)
	}
	if b.EEPoses != nil {
		if r, _ := b.EEPoses.Dims(); r != b.Points.Len() {
			return fmt.Errorf("%d ee poses for %d samples: %w", r, b.Points.Len(), ragged.ErrLengthMismatch)
		}
	}
	return nil
}

// ForwardOptions controls one forward pass.
type ForwardOptions struct {
	// ComputeLoss scores the prediction against Batch.Target.
	ComputeLoss bool
	// SkipDiscDecode uses ground-truth positions instead of decoding the
	// bin distributions in heatmap_disc mode.
	SkipDiscDecode bool
	// Temperature overrides Config.HeatmapTemp when positive.
	Temperature float64
}

// Prediction is the result of a forward pass.
type Prediction struct {
	Head *HeadOutput
	// Actions is (B·T) × ActionWidth; see ActionDecoder.Decode.
	Actions *mat.Dense
	// Losses is set when ForwardOptions.ComputeLoss was requested.
	Losses *Losses
}

// Shape returns (batch, steps, action width).
func (p *Prediction) Shape() [3]int {
	return [3]int{p.Head.Batch, p.Head.Steps, ActionWidth}
}

// Action returns the decoded action of sample b at step t.
func (p *Prediction) Action(b, t int) []float64 {
	return p.Actions.RawRowView(b*p.Head.Steps + t)
}

// TrajectoryModel predicts trajectories and scores them.
type TrajectoryModel interface {
	Forward(batch *Batch, opts ForwardOptions) (*Prediction, error)
	ComputeLoss(out *HeadOutput, tgt *Target) (Losses, error)
	Config() Config
}

// Run is Forward with only the loss switch exposed.
func Run(m TrajectoryModel, batch *Batch, computeLoss bool) (*Prediction, error) {
	return m.Forward(batch, ForwardOptions{ComputeLoss: computeLoss})
}

// components are the parts both planner variants are built from.
type components struct {
	cfg      Config
	Features *FeaturePreparer
	Context  *ContextEncoder
	Backbone Backbone
	Head     *ActionHead
	Decoder  *ActionDecoder
	Loss     *LossComputer
}

func newComponents(cfg Config, backbone Backbone) (components, error) {
	cfg, err := NewConfig(cfg)
	if err != nil {
		return components{}, err
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	c := components{
		cfg:      cfg,
		Features: NewFeaturePreparer(cfg, src),
		Context:  NewContextEncoder(cfg, src),
		Head:     NewActionHead(cfg, src),
		Decoder:  NewActionDecoder(cfg),
		Loss:     NewLossComputer(cfg),
		Backbone: backbone,
	}
	if c.Backbone == nil {
		c.Backbone = NewVoxelBackbone(c.Features.InputDim(), cfg.ContextSize, cfg.HiddenSize, cfg.Dropout, src)
	}
	monitoring.Debugf("policy: %s planner reduce=%s pos=%s rot=%s traj=%d hidden=%d",
		cfg.Variant, cfg.Reduce, cfg.PosPred, cfg.RotPred, cfg.MaxTrajLen, cfg.HiddenSize)
	return c, nil
}

// SetTraining toggles dropout in the head and, when it supports it, the
// backbone.
func (c *components) SetTraining(on bool) {
	c.Head.SetTraining(on)
	if t, ok := c.Backbone.(interface{ SetTraining(bool) }); ok {
		t.SetTraining(on)
	}
}

// run finishes a forward pass once the backbone input is prepared.
func (c *components) run(batch *Batch, in *BackboneInput, opts ForwardOptions) (*Prediction, error) {
	layers, err := c.Backbone.Encode(in)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("backbone returned no layers: %w", ragged.ErrNoGroups)
	}
	final := layers[len(layers)-1]
	if !final.Offsets.Equal(in.Offsets) {
		return nil, fmt.Errorf("backbone output has %v points per sample, input has %v: %w", final.Offsets.Counts(), in.Offsets.Counts(), ragged.ErrLengthMismatch)
	}

	temp := c.cfg.HeatmapTemp
	if opts.Temperature > 0 {
		temp = opts.Temperature
	}
	head, err := c.Head.Forward(final.Features, final.Offsets, final.Coords, temp)
	if err != nil {
		return nil, fmt.Errorf("action head: %w", err)
	}

	actions, err := c.Decoder.Decode(head, batch.Target, opts.SkipDiscDecode)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	pred := &Prediction{Head: head, Actions: actions}

	if opts.ComputeLoss {
		l, err := c.Loss.Compute(head, batch.Target)
		if err != nil {
			return nil, fmt.Errorf("loss: %w", err)
		}
		pred.Losses = &l
	}
	return pred, nil
}

// AdaNormPlanner conditions the backbone on one context vector per
// sample.
type AdaNormPlanner struct {
	components
}

// NewAdaNormPlanner builds a planner; a nil backbone selects the
// VoxelBackbone.
func NewAdaNormPlanner(cfg Config, backbone Backbone) (*AdaNormPlanner, error) {
	cfg.Variant = VariantAdaNorm
	c, err := newComponents(cfg, backbone)
	if err != nil {
		return nil, err
	}
	return &AdaNormPlanner{components: c}, nil
}

// Config returns the validated configuration.
func (p *AdaNormPlanner) Config() Config { return p.cfg }

// Prepare builds the backbone input for batch.
func (p *AdaNormPlanner) Prepare(batch *Batch) (*BackboneInput, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	in, err := p.Features.Prepare(batch.Features, batch.Labels, batch.Points)
	if err != nil {
		return nil, err
	}
	in.Context, err = p.Context.EncodeVector(batch.Text, batch.TextLens, poseInput(batch))
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return in, nil
}

// Forward implements TrajectoryModel.
func (p *AdaNormPlanner) Forward(batch *Batch, opts ForwardOptions) (*Prediction, error) {
	in, err := p.Prepare(batch)
	if err != nil {
		return nil, err
	}
	return p.run(batch, in, opts)
}

// ComputeLoss implements TrajectoryModel.
func (p *AdaNormPlanner) ComputeLoss(out *HeadOutput, tgt *Target) (Losses, error) {
	return p.Loss.Compute(out, tgt)
}

// CrossAttnPlanner conditions the backbone on a ragged sequence of
// context tokens per sample.
type CrossAttnPlanner struct {
	components
}

// NewCrossAttnPlanner builds a planner; a nil backbone selects the
// VoxelBackbone.
func NewCrossAttnPlanner(cfg Config, backbone Backbone) (*CrossAttnPlanner, error) {
	cfg.Variant = VariantCrossAttn
	c, err := newComponents(cfg, backbone)
	if err != nil {
		return nil, err
	}
	return &CrossAttnPlanner{components: c}, nil
}

// Config returns the validated configuration.
func (p *CrossAttnPlanner) Config() Config { return p.cfg }

// Prepare builds the backbone input for batch, with ContextOffsets set.
func (p *CrossAttnPlanner) Prepare(batch *Batch) (*BackboneInput, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	in, err := p.Features.Prepare(batch.Features, batch.Labels, batch.Points)
	if err != nil {
		return nil, err
	}
	ctx, offs, err := p.Context.EncodeSequence(batch.Text, batch.TextLens, poseInput(batch))
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	in.Context, in.ContextOffsets = ctx, &offs
	return in, nil
}

// Forward implements TrajectoryModel.
func (p *CrossAttnPlanner) Forward(batch *Batch, opts ForwardOptions) (*Prediction, error) {
	in, err := p.Prepare(batch)
	if err != nil {
		return nil, err
	}
	return p.run(batch, in, opts)
}

// ComputeLoss implements TrajectoryModel.
func (p *CrossAttnPlanner) ComputeLoss(out *HeadOutput, tgt *Target) (Losses, error) {
	return p.Loss.Compute(out, tgt)
}

// New builds the planner variant named by cfg.Variant.
func New(cfg Config, backbone Backbone) (TrajectoryModel, error) {
	switch cfg.Variant {
	case VariantCrossAttn:
		p, err := NewCrossAttnPlanner(cfg, backbone)
		if err != nil {
			return nil, err
		}
		return p, nil
	case VariantAdaNorm:
		p, err := NewAdaNormPlanner(cfg, backbone)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	_, err := ParseVariant(string(cfg.Variant))
	return nil, err
}

// poseInput avoids handing a typed nil *mat.Dense to a mat.Matrix
// parameter.
func poseInput(b *Batch) mat.Matrix {
	if b.EEPoses == nil {
		return nil
	}
	return b.EEPoses
}
