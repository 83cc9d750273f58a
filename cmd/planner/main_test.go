package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/motion.planner/internal/monitoring"
	"github.com/banshee-data/motion.planner/internal/runstore"
	"github.com/banshee-data/motion.planner/internal/version"
)

const smallConfig = `{
  "variant": "ca",
  "txt_reduce": "attn",
  "use_ee_pose": true,
  "txt_ft_size": 32,
  "context_channels": 16,
  "hidden_size": 16,
  "pc_label_channels": 4,
  "traj_embed_size": 8,
  "batches": 2
}`

func TestParseCSVIntSlice(t *testing.T) {
	got, err := parseCSVIntSlice("30, 70")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != 30 || got[1] != 70 {
		t.Errorf("parseCSVIntSlice = %v, want [30 70]", got)
	}
	if got, _ := parseCSVIntSlice(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if _, err := parseCSVIntSlice("3,x"); err == nil {
		t.Error("expected error for non-integer entry")
	}
}

func TestFlagDefaults(t *testing.T) {
	if *pointCounts != "30,70" {
		t.Errorf("expected -points default 30,70, got %q", *pointCounts)
	}
	if *batches != 0 {
		t.Errorf("expected -batches default 0, got %d", *batches)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(runOptions{Variant: "ca", Seed: 9, Batches: 4})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetVariant() != "ca" || cfg.GetSeed() != 9 || cfg.GetBatches() != 4 {
		t.Errorf("overrides not applied: variant=%s seed=%d batches=%d", cfg.GetVariant(), cfg.GetSeed(), cfg.GetBatches())
	}

	if _, err := loadConfig(runOptions{Variant: "transformer"}); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func TestRunRecordsAndRenders(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	defer monitoring.SetLogger(nil)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "planner.json")
	if err := os.WriteFile(cfgPath, []byte(smallConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	opts := runOptions{
		ConfigPath:    cfgPath,
		DBPath:        filepath.Join(dir, "runs.db"),
		PlotPath:      filepath.Join(dir, "scene.png"),
		HTMLPath:      filepath.Join(dir, "report.html"),
		Points:        []int{30, 70},
		Tokens:        []int{7, 12},
		MinValidSteps: 2,
	}
	if err := run(opts); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, p := range []string{opts.PlotPath, opts.HTMLPath} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("expected output %s: %v", p, err)
		}
		if info.Size() == 0 {
			t.Errorf("output %s is empty", p)
		}
	}
	html, err := os.ReadFile(opts.HTMLPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(html), "Planner losses (ca)") {
		t.Error("report title missing")
	}

	store, err := runstore.Open(opts.DBPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	runs, err := store.ListRuns()
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Variant != "ca" {
		t.Fatalf("expected one ca run, got %+v", runs)
	}
	if !strings.HasPrefix(runs[0].Notes, version.String()) {
		t.Errorf("run notes %q do not start with the build version", runs[0].Notes)
	}
	losses, err := store.ListLosses(runs[0].RunID)
	if err != nil {
		t.Fatalf("list losses: %v", err)
	}
	if len(losses) != 2 {
		t.Errorf("expected 2 loss rows, got %d", len(losses))
	}
	actions, err := store.ListActions(runs[0].RunID, 1)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 2*5 {
		t.Errorf("expected 10 action rows, got %d", len(actions))
	}
}
