package policy

import (
	"errors"
	"fmt"

	"github.com/banshee-data/motion.planner/internal/discpos"
	"github.com/banshee-data/motion.planner/internal/rotation"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("policy: invalid config")

// PoseDim is the width of an end-effector pose row: xyz, quaternion
// [qx qy qz qw] and gripper openness.
const PoseDim = 8

// ActionWidth is the width of a decoded action: position, unit quaternion,
// openness logit and stop logit.
const ActionWidth = 3 + 4 + 1 + 1

// Config describes one planner instance. Components copy it at
// construction; it is never mutated afterwards.
type Config struct {
	Variant    Variant
	Reduce     Reduce
	PosPred    PosPred
	RotPred    RotPred
	TextReduce TextReduce
	UsePose    bool

	MaxTrajLen    int
	DimActions    int // ground-truth action row width: 3 + RotPred.TargetWidth() + 1
	TrajEmbedSize int // 0 disables the step embedding; requires MaxTrajLen 1

	FeatureDim   int // raw per-point features, first three columns are xyz
	LabelSize    int // semantic label embedding width
	TextSize     int // instruction token embedding width
	ContextSize  int // context channels fed to the backbone
	HiddenSize   int // backbone output channels consumed by the head
	Dropout      float64
	VoxelSize    float64

	EulerResolution int // degrees per discrete Euler bin
	PosBins         int // bins on each side of a point, per axis
	PosBinSize      float64
	DiscPosRule     discpos.Rule
	DiscPosTopK     int // 0 means 10 candidates per coordinate axis

	HeatmapTemp float64
	PosWeight   float64
	RotWeight   float64

	Seed uint64
}

// DefaultConfig returns the reference planner configuration.
func DefaultConfig() Config {
	return Config{
		Variant:         VariantAdaNorm,
		Reduce:          ReduceMax,
		PosPred:         PosHeatmapMLP,
		RotPred:         RotQuat,
		TextReduce:      TextMean,
		UsePose:         false,
		MaxTrajLen:      5,
		DimActions:      8,
		TrajEmbedSize:   64,
		FeatureDim:      6,
		LabelSize:       16,
		TextSize:        512,
		ContextSize:     64,
		HiddenSize:      64,
		Dropout:         0,
		VoxelSize:       0.01,
		EulerResolution: 5,
		PosBins:         50,
		PosBinSize:      0.01,
		DiscPosRule:     discpos.RuleMax,
		HeatmapTemp:     1,
		PosWeight:       1,
		RotWeight:       1,
		Seed:            1,
	}
}

// NewConfig validates c and returns it.
func NewConfig(c Config) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks enums, sizes and cross-field consistency.
func (c Config) Validate() error {
	if _, err := ParseVariant(string(c.Variant)); err != nil {
		return err
	}
	if _, err := ParseReduce(string(c.Reduce)); err != nil {
		return err
	}
	if _, err := ParsePosPred(string(c.PosPred)); err != nil {
		return err
	}
	if _, err := ParseRotPred(string(c.RotPred)); err != nil {
		return err
	}
	if _, err := ParseTextReduce(string(c.TextReduce)); err != nil {
		return err
	}
	if _, err := discpos.ParseRule(string(c.DiscPosRule)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.MaxTrajLen < 1 {
		return fmt.Errorf("%w: max_traj_len must be at least 1, got %d", ErrInvalidConfig, c.MaxTrajLen)
	}
	if c.TrajEmbedSize < 0 {
		return fmt.Errorf("%w: traj_embed_size must be non-negative, got %d", ErrInvalidConfig, c.TrajEmbedSize)
	}
	if c.TrajEmbedSize == 0 && c.MaxTrajLen != 1 {
		return fmt.Errorf("%w: traj_embed_size 0 requires max_traj_len 1, got %d", ErrInvalidConfig, c.MaxTrajLen)
	}
	if want := 3 + c.RotPred.TargetWidth() + 1; c.DimActions != want {
		return fmt.Errorf("%w: dim_actions %d does not match rotation type %s (want %d)", ErrInvalidConfig, c.DimActions, c.RotPred, want)
	}
	if c.FeatureDim < 3 {
		return fmt.Errorf("%w: feature_dim must include xyz, got %d", ErrInvalidConfig, c.FeatureDim)
	}
	for name, v := range map[string]int{
		"label_size":   c.LabelSize,
		"text_size":    c.TextSize,
		"context_size": c.ContextSize,
		"hidden_size":  c.HiddenSize,
	} {
		if v < 1 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, v)
		}
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %v", ErrInvalidConfig, c.Dropout)
	}
	if !(c.VoxelSize > 0) {
		return fmt.Errorf("%w: voxel_size must be positive, got %v", ErrInvalidConfig, c.VoxelSize)
	}
	if c.EulerResolution < 1 || 360%c.EulerResolution != 0 {
		return fmt.Errorf("%w: euler_resolution must divide 360, got %d", ErrInvalidConfig, c.EulerResolution)
	}
	if c.PosBins < 1 {
		return fmt.Errorf("%w: pos_bins must be positive, got %d", ErrInvalidConfig, c.PosBins)
	}
	if !(c.PosBinSize > 0) {
		return fmt.Errorf("%w: pos_bin_size must be positive, got %v", ErrInvalidConfig, c.PosBinSize)
	}
	if c.DiscPosTopK < 0 {
		return fmt.Errorf("%w: disc_pos_topk must be non-negative, got %d", ErrInvalidConfig, c.DiscPosTopK)
	}
	if !(c.HeatmapTemp > 0) {
		return fmt.Errorf("%w: heatmap temperature must be positive, got %v", ErrInvalidConfig, c.HeatmapTemp)
	}
	if c.PosWeight < 0 || c.RotWeight < 0 {
		return fmt.Errorf("%w: loss weights must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// EulerBins returns the number of discrete Euler bins per axis.
func (c Config) EulerBins() int { return rotation.EulerBins(c.EulerResolution) }

// RotChannels returns the raw rotation channels the head emits.
func (c Config) RotChannels() int {
	switch c.RotPred {
	case RotOrtho6D:
		return 6
	case RotEuler:
		return 3
	case RotEulerDisc:
		return 3 * c.EulerBins()
	default:
		return 4
	}
}

// PosChannels returns the per-point position channels of the heatmap MLP.
func (c Config) PosChannels() int {
	if c.PosPred == PosHeatmapDisc {
		return 3 * 2 * c.PosBins
	}
	return 1 + 3
}

// ActionChannels returns the output width of the non-positional MLP:
// rotation, openness and stop, plus a leading attention logit in attn
// mode.
func (c Config) ActionChannels() int {
	w := c.RotChannels() + 2
	if c.Reduce == ReduceAttn {
		w++
	}
	return w
}

// DiscDecoder returns the discrete position decoder for c.
func (c Config) DiscDecoder() discpos.Decoder {
	k := c.DiscPosTopK
	if k == 0 {
		k = 3 * 10
	}
	return discpos.Decoder{Rule: c.DiscPosRule, TopK: k, BinSize: c.PosBinSize, Bins: c.PosBins}
}
