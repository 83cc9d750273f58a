package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/motion.planner/internal/policy"
)

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigUsesModelDefaults(t *testing.T) {
	cfg := EmptyPlannerConfig()
	m, err := cfg.ModelConfig()
	if err != nil {
		t.Fatalf("ModelConfig() error = %v", err)
	}
	if m != policy.DefaultConfig() {
		t.Errorf("ModelConfig() = %+v, want defaults %+v", m, policy.DefaultConfig())
	}
	if cfg.GetBatches() != 3 {
		t.Errorf("GetBatches() = %d, want 3", cfg.GetBatches())
	}
}

func TestLoadPlannerConfig(t *testing.T) {
	path := writeConfig(t, "planner.json", `{
  "variant": "ca",
  "reduce": "attn",
  "pos_pred_type": "heatmap_disc",
  "rot_pred_type": "euler_disc",
  "max_traj_len": 3,
  "pos_bins": 20,
  "best_disc_pos": "ens1",
  "pos_weight": 2.5,
  "batches": 7
}`)

	cfg, err := LoadPlannerConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	m, err := cfg.ModelConfig()
	if err != nil {
		t.Fatalf("ModelConfig() error = %v", err)
	}
	if m.Variant != policy.VariantCrossAttn {
		t.Errorf("Variant = %q, want ca", m.Variant)
	}
	if m.Reduce != policy.ReduceAttn || m.PosPred != policy.PosHeatmapDisc || m.RotPred != policy.RotEulerDisc {
		t.Errorf("unexpected modes: %s %s %s", m.Reduce, m.PosPred, m.RotPred)
	}
	// dim_actions follows the rotation type when omitted
	if m.DimActions != 7 {
		t.Errorf("DimActions = %d, want 7", m.DimActions)
	}
	if m.MaxTrajLen != 3 || m.PosBins != 20 || m.PosWeight != 2.5 {
		t.Errorf("unexpected sizes: %+v", m)
	}
	if m.DiscPosRule != "ens1" {
		t.Errorf("DiscPosRule = %q, want ens1", m.DiscPosRule)
	}
	// omitted fields keep their defaults
	if m.HiddenSize != policy.DefaultConfig().HiddenSize {
		t.Errorf("HiddenSize = %d, want default", m.HiddenSize)
	}
	if cfg.GetBatches() != 7 {
		t.Errorf("GetBatches() = %d, want 7", cfg.GetBatches())
	}
}

func TestLoadPlannerConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "planner.yaml", `{}`, "extension"},
		{"json", "bad.json", `{"reduce": `, "parse"},
		{"reduce", "reduce.json", `{"reduce": "sum"}`, "reduce"},
		{"traj embed", "traj.json", `{"traj_embed_size": 0, "max_traj_len": 5}`, "traj_embed_size"},
		{"dim actions", "dims.json", `{"rot_pred_type": "euler", "dim_actions": 8}`, "dim_actions"},
		{"batches", "batches.json", `{"batches": 0}`, "batches"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPlannerConfig(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadPlannerConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadPlannerConfig_TooLarge(t *testing.T) {
	body := `{"reduce": "max", "pad": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadPlannerConfig(writeConfig(t, "big.json", body))
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestValidate_WrapsPolicyErrors(t *testing.T) {
	cfg := &PlannerConfig{RotPred: ptrString("axis_angle")}
	err := cfg.Validate()
	if !errors.Is(err, policy.ErrInvalidConfig) {
		t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
	}

	cfg = &PlannerConfig{MaxTrajLen: ptrInt(1), TrajEmbedSize: ptrInt(0)}
	if err := cfg.Validate(); err != nil {
		t.Errorf("single-step config without step embedding should be valid: %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	m, err := cfg.ModelConfig()
	if err != nil {
		t.Fatalf("defaults file is invalid: %v", err)
	}
	if m.MaxTrajLen != 5 || m.RotPred != policy.RotQuat || !m.UsePose {
		t.Errorf("unexpected defaults: %+v", m)
	}
	if cfg.GetBatches() < 1 {
		t.Errorf("GetBatches() = %d", cfg.GetBatches())
	}
}
