package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/motion.planner/internal/discpos"
	"github.com/banshee-data/motion.planner/internal/policy"
)

// DefaultConfigPath is the path to the canonical planner defaults file.
const DefaultConfigPath = "config/planner.defaults.json"

// PlannerConfig is the JSON surface of a planner run. Every field is
// optional; the Get* accessors supply defaults for omitted fields.
type PlannerConfig struct {
	// Model structure
	Variant    *string `json:"variant,omitempty"` // "adanorm" or "ca"
	Reduce     *string `json:"reduce,omitempty"`
	PosPred    *string `json:"pos_pred_type,omitempty"`
	RotPred    *string `json:"rot_pred_type,omitempty"`
	TextReduce *string `json:"txt_reduce,omitempty"`
	UseEEPose  *bool   `json:"use_ee_pose,omitempty"`

	// Sizes
	MaxTrajLen    *int `json:"max_traj_len,omitempty"`
	DimActions    *int `json:"dim_actions,omitempty"`
	TrajEmbedSize *int `json:"traj_embed_size,omitempty"`
	FeatureDim    *int `json:"feature_dim,omitempty"`
	LabelChannels *int `json:"pc_label_channels,omitempty"`
	TextSize      *int `json:"txt_ft_size,omitempty"`
	ContextSize   *int `json:"context_channels,omitempty"`
	HiddenSize    *int `json:"hidden_size,omitempty"`

	// Head parameters
	Dropout         *float64 `json:"dropout,omitempty"`
	VoxelSize       *float64 `json:"voxel_size,omitempty"`
	EulerResolution *int     `json:"euler_resolution,omitempty"`
	PosBins         *int     `json:"pos_bins,omitempty"`
	PosBinSize      *float64 `json:"pos_bin_size,omitempty"`
	BestDiscPos     *string  `json:"best_disc_pos,omitempty"`
	DiscPosTopK     *int     `json:"disc_pos_topk,omitempty"`
	HeatmapTemp     *float64 `json:"pos_heatmap_temp,omitempty"`

	// Loss weights
	PosWeight *float64 `json:"pos_weight,omitempty"`
	RotWeight *float64 `json:"rot_weight,omitempty"`

	// Run parameters
	Seed    *uint64 `json:"seed,omitempty"`
	Batches *int    `json:"batches,omitempty"`
}

// EmptyPlannerConfig returns a PlannerConfig with all fields set to nil.
func EmptyPlannerConfig() *PlannerConfig {
	return &PlannerConfig{}
}

// LoadPlannerConfig loads a PlannerConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to defaults, so partial configs are safe.
func LoadPlannerConfig(path string) (*PlannerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPlannerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from
// DefaultConfigPath, searching the current directory and its parents.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PlannerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPlannerConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the file describes a valid planner.
func (c *PlannerConfig) Validate() error {
	if c.Batches != nil && *c.Batches < 1 {
		return fmt.Errorf("batches must be positive, got %d", *c.Batches)
	}
	if _, err := c.ModelConfig(); err != nil {
		return err
	}
	return nil
}

// ModelConfig returns the validated, immutable model configuration.
func (c *PlannerConfig) ModelConfig() (policy.Config, error) {
	m := policy.Config{
		Variant:         policy.Variant(c.GetVariant()),
		Reduce:          policy.Reduce(c.GetReduce()),
		PosPred:         policy.PosPred(c.GetPosPred()),
		RotPred:         policy.RotPred(c.GetRotPred()),
		TextReduce:      policy.TextReduce(c.GetTextReduce()),
		UsePose:         c.GetUseEEPose(),
		MaxTrajLen:      c.GetMaxTrajLen(),
		DimActions:      c.GetDimActions(),
		TrajEmbedSize:   c.GetTrajEmbedSize(),
		FeatureDim:      c.GetFeatureDim(),
		LabelSize:       c.GetLabelChannels(),
		TextSize:        c.GetTextSize(),
		ContextSize:     c.GetContextSize(),
		HiddenSize:      c.GetHiddenSize(),
		Dropout:         c.GetDropout(),
		VoxelSize:       c.GetVoxelSize(),
		EulerResolution: c.GetEulerResolution(),
		PosBins:         c.GetPosBins(),
		PosBinSize:      c.GetPosBinSize(),
		DiscPosRule:     discpos.Rule(c.GetBestDiscPos()),
		DiscPosTopK:     c.GetDiscPosTopK(),
		HeatmapTemp:     c.GetHeatmapTemp(),
		PosWeight:       c.GetPosWeight(),
		RotWeight:       c.GetRotWeight(),
		Seed:            c.GetSeed(),
	}
	return policy.NewConfig(m)
}

var defaults = policy.DefaultConfig()

// GetVariant returns the variant value or the default.
func (c *PlannerConfig) GetVariant() string {
	if c.Variant == nil {
		return string(defaults.Variant)
	}
	return *c.Variant
}

// GetReduce returns the reduce value or the default.
func (c *PlannerConfig) GetReduce() string {
	if c.Reduce == nil {
		return string(defaults.Reduce)
	}
	return *c.Reduce
}

// GetPosPred returns the pos_pred_type value or the default.
func (c *PlannerConfig) GetPosPred() string {
	if c.PosPred == nil {
		return string(defaults.PosPred)
	}
	return *c.PosPred
}

// GetRotPred returns the rot_pred_type value or the default.
func (c *PlannerConfig) GetRotPred() string {
	if c.RotPred == nil {
		return string(defaults.RotPred)
	}
	return *c.RotPred
}

// GetTextReduce returns the txt_reduce value or the default.
func (c *PlannerConfig) GetTextReduce() string {
	if c.TextReduce == nil {
		return string(defaults.TextReduce)
	}
	return *c.TextReduce
}

// GetUseEEPose returns the use_ee_pose value or the default.
func (c *PlannerConfig) GetUseEEPose() bool {
	if c.UseEEPose == nil {
		return defaults.UsePose
	}
	return *c.UseEEPose
}

// GetMaxTrajLen returns the max_traj_len value or the default.
func (c *PlannerConfig) GetMaxTrajLen() int {
	if c.MaxTrajLen == nil {
		return defaults.MaxTrajLen
	}
	return *c.MaxTrajLen
}

// GetDimActions returns dim_actions, or the width implied by the rotation
// type when omitted.
func (c *PlannerConfig) GetDimActions() int {
	if c.DimActions == nil {
		return 3 + policy.RotPred(c.GetRotPred()).TargetWidth() + 1
	}
	return *c.DimActions
}

// GetTrajEmbedSize returns the traj_embed_size value or the default.
func (c *PlannerConfig) GetTrajEmbedSize() int {
	if c.TrajEmbedSize == nil {
		return defaults.TrajEmbedSize
	}
	return *c.TrajEmbedSize
}

// GetFeatureDim returns the feature_dim value or the default.
func (c *PlannerConfig) GetFeatureDim() int {
	if c.FeatureDim == nil {
		return defaults.FeatureDim
	}
	return *c.FeatureDim
}

// GetLabelChannels returns the pc_label_channels value or the default.
func (c *PlannerConfig) GetLabelChannels() int {
	if c.LabelChannels == nil {
		return defaults.LabelSize
	}
	return *c.LabelChannels
}

// GetTextSize returns the txt_ft_size value or the default.
func (c *PlannerConfig) GetTextSize() int {
	if c.TextSize == nil {
		return defaults.TextSize
	}
	return *c.TextSize
}

// GetContextSize returns the context_channels value or the default.
func (c *PlannerConfig) GetContextSize() int {
	if c.ContextSize == nil {
		return defaults.ContextSize
	}
	return *c.ContextSize
}

// GetHiddenSize returns the hidden_size value or the default.
func (c *PlannerConfig) GetHiddenSize() int {
	if c.HiddenSize == nil {
		return defaults.HiddenSize
	}
	return *c.HiddenSize
}

// GetDropout returns the dropout value or the default.
func (c *PlannerConfig) GetDropout() float64 {
	if c.Dropout == nil {
		return defaults.Dropout
	}
	return *c.Dropout
}

// GetVoxelSize returns the voxel_size value or the default.
func (c *PlannerConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return defaults.VoxelSize
	}
	return *c.VoxelSize
}

// GetEulerResolution returns the euler_resolution value or the default.
func (c *PlannerConfig) GetEulerResolution() int {
	if c.EulerResolution == nil {
		return defaults.EulerResolution
	}
	return *c.EulerResolution
}

// GetPosBins returns the pos_bins value or the default.
func (c *PlannerConfig) GetPosBins() int {
	if c.PosBins == nil {
		return defaults.PosBins
	}
	return *c.PosBins
}

// GetPosBinSize returns the pos_bin_size value or the default.
func (c *PlannerConfig) GetPosBinSize() float64 {
	if c.PosBinSize == nil {
		return defaults.PosBinSize
	}
	return *c.PosBinSize
}

// GetBestDiscPos returns the best_disc_pos value or the default.
func (c *PlannerConfig) GetBestDiscPos() string {
	if c.BestDiscPos == nil {
		return string(defaults.DiscPosRule)
	}
	return *c.BestDiscPos
}

// GetDiscPosTopK returns the disc_pos_topk value or the default.
func (c *PlannerConfig) GetDiscPosTopK() int {
	if c.DiscPosTopK == nil {
		return defaults.DiscPosTopK
	}
	return *c.DiscPosTopK
}

// GetHeatmapTemp returns the pos_heatmap_temp value or the default.
func (c *PlannerConfig) GetHeatmapTemp() float64 {
	if c.HeatmapTemp == nil {
		return defaults.HeatmapTemp
	}
	return *c.HeatmapTemp
}

// GetPosWeight returns the pos_weight value or the default.
func (c *PlannerConfig) GetPosWeight() float64 {
	if c.PosWeight == nil {
		return defaults.PosWeight
	}
	return *c.PosWeight
}

// GetRotWeight returns the rot_weight value or the default.
func (c *PlannerConfig) GetRotWeight() float64 {
	if c.RotWeight == nil {
		return defaults.RotWeight
	}
	return *c.RotWeight
}

// GetSeed returns the seed value or the default.
func (c *PlannerConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return defaults.Seed
	}
	return *c.Seed
}

// GetBatches returns the number of synthetic batches to run.
func (c *PlannerConfig) GetBatches() int {
	if c.Batches == nil {
		return 3
	}
	return *c.Batches
}
