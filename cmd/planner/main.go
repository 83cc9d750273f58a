// Command planner runs the point-cloud trajectory planner over synthetic
// tabletop batches, logging the loss dictionary of every batch and
// optionally recording runs to SQLite and rendering plots.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/motion.planner/internal/config"
	"github.com/banshee-data/motion.planner/internal/monitoring"
	"github.com/banshee-data/motion.planner/internal/policy"
	"github.com/banshee-data/motion.planner/internal/runstore"
	"github.com/banshee-data/motion.planner/internal/synth"
	"github.com/banshee-data/motion.planner/internal/version"
	"github.com/banshee-data/motion.planner/internal/viz"
)

var (
	configPath    = flag.String("config", "", "Path to a planner JSON config (defaults apply when empty)")
	dbPath        = flag.String("db", "", "SQLite database to record the run in (disabled when empty)")
	plotPath      = flag.String("plot", "", "Write a scene plot of the last batch's first sample to this PNG")
	htmlPath      = flag.String("html", "", "Write an HTML loss report to this file")
	batches       = flag.Int("batches", 0, "Number of batches (0 uses the config value)")
	seed          = flag.Uint64("seed", 0, "Random seed (0 uses the config value)")
	variant       = flag.String("variant", "", "Planner variant override: adanorm or ca")
	pointCounts   = flag.String("points", "30,70", "Comma-separated points per sample")
	tokenCounts   = flag.String("tokens", "7,12", "Comma-separated instruction tokens per sample")
	minValidSteps = flag.Int("min-valid-steps", 0, "Shortest trajectory before masking (0 keeps every step valid)")
	voxelLeaf     = flag.Float64("voxel-leaf", 0, "Voxel-grid downsampling leaf size in metres (0 disables)")
	debug         = flag.Bool("debug", false, "Enable debug logging")
	showVersion   = flag.Bool("version", false, "Print the build version and exit")
)

// runOptions is the resolved command line.
type runOptions struct {
	ConfigPath    string
	DBPath        string
	PlotPath      string
	HTMLPath      string
	Batches       int
	Seed          uint64
	Variant       string
	Points        []int
	Tokens        []int
	MinValidSteps int
	VoxelLeaf     float64
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debug)

	points, err := parseCSVIntSlice(*pointCounts)
	if err != nil {
		log.Fatalf("invalid -points: %v", err)
	}
	tokens, err := parseCSVIntSlice(*tokenCounts)
	if err != nil {
		log.Fatalf("invalid -tokens: %v", err)
	}

	if err := run(runOptions{
		ConfigPath:    *configPath,
		DBPath:        *dbPath,
		PlotPath:      *plotPath,
		HTMLPath:      *htmlPath,
		Batches:       *batches,
		Seed:          *seed,
		Variant:       *variant,
		Points:        points,
		Tokens:        tokens,
		MinValidSteps: *minValidSteps,
		VoxelLeaf:     *voxelLeaf,
	}); err != nil {
		log.Fatalf("planner: %v", err)
	}
}

// loadConfig reads the config file, if any, and applies the command-line
// overrides.
func loadConfig(opts runOptions) (*config.PlannerConfig, error) {
	cfg := config.EmptyPlannerConfig()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = config.LoadPlannerConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	if opts.Variant != "" {
		v := opts.Variant
		cfg.Variant = &v
	}
	if opts.Seed != 0 {
		s := opts.Seed
		cfg.Seed = &s
	}
	if opts.Batches != 0 {
		b := opts.Batches
		cfg.Batches = &b
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(opts runOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	modelCfg, err := cfg.ModelConfig()
	if err != nil {
		return err
	}
	model, err := policy.New(modelCfg, nil)
	if err != nil {
		return err
	}
	gen, err := synth.New(modelCfg, synth.Options{
		Counts:        opts.Points,
		TextLens:      opts.Tokens,
		VoxelLeaf:     opts.VoxelLeaf,
		MinValidSteps: opts.MinValidSteps,
		Seed:          modelCfg.Seed,
	})
	if err != nil {
		return err
	}

	var store *runstore.Store
	var runRec *runstore.Run
	if opts.DBPath != "" {
		store, err = runstore.Open(opts.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		runRec = &runstore.Run{
			Variant:    string(modelCfg.Variant),
			Seed:       modelCfg.Seed,
			ConfigJSON: cfgJSON,
			Notes:      fmt.Sprintf("%s points=%v tokens=%v", version.String(), opts.Points, opts.Tokens),
		}
		if err := store.InsertRun(runRec); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		monitoring.Logf("recording run %s to %s", runRec.RunID, opts.DBPath)
	}

	n := cfg.GetBatches()
	history := make([]policy.Losses, 0, n)
	var lastBatch *policy.Batch
	var lastPred *policy.Prediction
	for i := 0; i < n; i++ {
		batch, err := gen.Batch()
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		pred, err := policy.Run(model, batch, true)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		monitoring.Logf("batch %d: actions %v %s", i, pred.Shape(), pred.Losses)
		history = append(history, *pred.Losses)

		if store != nil {
			if err := store.InsertLosses(runRec.RunID, i, *pred.Losses); err != nil {
				return fmt.Errorf("record losses: %w", err)
			}
			if err := store.InsertActions(runRec.RunID, i, pred); err != nil {
				return fmt.Errorf("record actions: %w", err)
			}
		}
		lastBatch, lastPred = batch, pred
	}

	if opts.PlotPath != "" && lastPred != nil {
		if err := viz.SaveScene(opts.PlotPath, lastBatch, lastPred, 0); err != nil {
			return err
		}
		monitoring.Logf("wrote scene plot %s", opts.PlotPath)
	}
	if opts.HTMLPath != "" {
		f, err := os.Create(opts.HTMLPath)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		title := fmt.Sprintf("Planner losses (%s)", modelCfg.Variant)
		if err := viz.RenderReport(f, title, history, lastPred); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close report: %w", err)
		}
		monitoring.Logf("wrote loss report %s", opts.HTMLPath)
	}
	return nil
}

// parseCSVIntSlice parses a comma-separated list of ints
func parseCSVIntSlice(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
