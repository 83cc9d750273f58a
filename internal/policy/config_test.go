package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := NewConfig(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 72, cfg.EulerBins())
	assert.Equal(t, 4, cfg.RotChannels())
	assert.Equal(t, 4, cfg.PosChannels())
	assert.Equal(t, 6, cfg.ActionChannels())
	assert.Equal(t, 30, cfg.DiscDecoder().TopK)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"reduce", func(c *Config) { c.Reduce = "sum" }},
		{"pos pred", func(c *Config) { c.PosPred = "heatmap_mlp_mix" }},
		{"rot pred", func(c *Config) { c.RotPred = "euler_delta" }},
		{"text reduce", func(c *Config) { c.TextReduce = "max" }},
		{"variant", func(c *Config) { c.Variant = "" }},
		{"disc rule", func(c *Config) { c.DiscPosRule = "median" }},
		{"traj embed without single step", func(c *Config) { c.TrajEmbedSize = 0 }},
		{"negative traj embed", func(c *Config) { c.TrajEmbedSize = -1 }},
		{"zero traj len", func(c *Config) { c.MaxTrajLen = 0 }},
		{"dim actions", func(c *Config) { c.DimActions = 7 }},
		{"feature dim", func(c *Config) { c.FeatureDim = 2 }},
		{"hidden", func(c *Config) { c.HiddenSize = 0 }},
		{"dropout", func(c *Config) { c.Dropout = 1 }},
		{"voxel", func(c *Config) { c.VoxelSize = 0 }},
		{"euler resolution", func(c *Config) { c.EulerResolution = 7 }},
		{"pos bins", func(c *Config) { c.PosBins = 0 }},
		{"bin size", func(c *Config) { c.PosBinSize = -0.01 }},
		{"temperature", func(c *Config) { c.HeatmapTemp = 0 }},
		{"weights", func(c *Config) { c.RotWeight = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewConfig(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_SingleStepWithoutEmbedding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrajEmbedSize = 0
	cfg.MaxTrajLen = 1
	_, err := NewConfig(cfg)
	assert.NoError(t, err)
}

func TestConfigWidths(t *testing.T) {
	tests := []struct {
		rot        RotPred
		reduce     Reduce
		dimActions int
		rotCh      int
		actionCh   int
	}{
		{RotQuat, ReduceMax, 8, 4, 6},
		{RotOrtho6D, ReduceMean, 8, 6, 8},
		{RotEuler, ReduceAttn, 7, 3, 6},
		{RotEulerDisc, ReduceAttn, 7, 216, 219},
	}
	for _, tt := range tests {
		t.Run(string(tt.rot), func(t *testing.T) {
			cfg := withRot(DefaultConfig(), tt.rot)
			cfg.Reduce = tt.reduce
			require.NoError(t, cfg.Validate())
			assert.Equal(t, tt.dimActions, cfg.DimActions)
			assert.Equal(t, tt.rotCh, cfg.RotChannels())
			assert.Equal(t, tt.actionCh, cfg.ActionChannels())
		})
	}

	cfg := DefaultConfig()
	cfg.PosPred = PosHeatmapDisc
	assert.Equal(t, 300, cfg.PosChannels())
}

func TestParseEnums(t *testing.T) {
	r, err := ParseReduce("attn")
	require.NoError(t, err)
	assert.Equal(t, ReduceAttn, r)

	p, err := ParsePosPred("heatmap_disc")
	require.NoError(t, err)
	assert.Equal(t, PosHeatmapDisc, p)

	rot, err := ParseRotPred("rot6d")
	require.NoError(t, err)
	assert.Equal(t, RotOrtho6D, rot)

	v, err := ParseVariant("ca")
	require.NoError(t, err)
	assert.Equal(t, VariantCrossAttn, v)

	_, err = ParseTextReduce("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
