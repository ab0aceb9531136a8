package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/hquant/pkg/cluster"
	"github.com/ChrisMcGann/hquant/pkg/config"
	"github.com/ChrisMcGann/hquant/pkg/core"
	"github.com/ChrisMcGann/hquant/pkg/exttool"
	"github.com/ChrisMcGann/hquant/pkg/filter"
	"github.com/ChrisMcGann/hquant/pkg/integrate"
	"github.com/ChrisMcGann/hquant/pkg/level"
	"github.com/ChrisMcGann/hquant/pkg/writer/sqlite"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the integration pipeline of an analysis",
	Long: `Build the keys and relationship files of every level and integrate them
with the configured external tools.

Examples:
  # Run an analysis
  hquant run --config analysis.yaml

  # Resume in another directory, storing results in a database
  hquant run --config analysis.yaml --workdir /scratch/run1 --db results.db

  # Regenerate everything
  hquant run --config analysis.yaml --override`,
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()

	dir := cfg.Resolve(cfg.WorkDir)
	if cmd.Flags().Changed("workdir") {
		dir = workDir
	}
	database := cfg.Resolve(cfg.Database)
	if cmd.Flags().Changed("db") {
		database = dbPath
	}

	fmt.Printf("Analysis: %s\n", configFile)
	fmt.Printf("Quantification: %s, outcome: %s\n", cfg.QuantTypeValue(), cfg.OutcomeValue())
	fmt.Printf("Working directory: %s\n", dir)

	model, err := buildModel(cfg)
	if err != nil {
		return err
	}
	for _, l := range model.Levels() {
		if !l.Needed {
			fmt.Printf("Skipping %s level of %s: %s\n", l.Kind, l.Experiment, l.Reason)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	files, written, err := model.WriteFiles(dir, cfg.Override)
	if err != nil {
		return fmt.Errorf("failed to write level files: %w", err)
	}
	fmt.Printf("Wrote %d files, kept %d existing\n", written.Written, written.Skipped)

	orch, err := integrate.New(integrate.Config{
		Runner:         exttool.NewExec(cfg.ExecTools(), cfg.Timeout, logger),
		Logger:         logger,
		WorkDir:        dir,
		Calibrate:      cfg.Calibrate,
		RemoveOutliers: cfg.RemoveOutliers,
		FDR:            cfg.FDR,
		Timeout:        cfg.Timeout,
		MaxIterations:  cfg.MaxIterations,
		Workers:        cfg.Workers,
		Override:       cfg.Override,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := orch.Run(ctx, files)
	if err != nil {
		return err
	}

	reused := 0
	steps := res.Steps()
	for _, sr := range steps {
		if sr.Reused {
			reused++
		}
		if sr.Retried {
			fmt.Fprintf(os.Stderr, "Warning: %s step of %s timed out and was rerun without variance estimation\n", sr.Level, sr.Dataset)
		}
	}
	fmt.Printf("Integrated %d steps (%d reused)\n", len(steps), reused)

	if database != "" {
		if err := storeResult(database, cfg, dir, res); err != nil {
			return err
		}
	}

	for _, sr := range res.Final() {
		s, err := integrate.Summarize(sr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to summarize %s: %v\n", sr.HigherLevel, err)
			continue
		}
		fmt.Printf("%s: %d values, mean %.4f, sd %.4f, range [%.4f, %.4f], variance %.4g\n",
			sr.HigherLevel, s.N, s.Mean, s.StdDev, s.Min, s.Max, s.Variance)
	}
	return nil
}

// loadConfig loads and validates the analysis, applying flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("override") {
		cfg.Override = override
	}
	if cmd.Flags().Changed("workers") && workers > 0 {
		cfg.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildModel reads and filters every replicate and clusters proteins when
// the outcome needs it
func buildModel(cfg *config.Config) (*level.Model, error) {
	exps, err := cfg.CoreExperiments()
	if err != nil {
		return nil, err
	}
	outcome := cfg.OutcomeValue()
	flt := cfg.Filter.ForOutcome(outcome)

	opts := level.Options{
		QuantType:               cfg.QuantTypeValue(),
		Outcome:                 outcome,
		Keys:                    cfg.KeyOptions(),
		KeepExperimentsSeparate: cfg.KeepExperimentsSeparate,
		Grouper:                 cfg.Grouper(),
	}

	if outcome == core.OutcomeProteinCluster {
		// Clustering and the model read the same tables; load them once.
		if err := preload(exps); err != nil {
			return nil, err
		}
		res, err := clusterPeptides(cfg, exps, opts, flt, cfg.ClusterParams())
		if err != nil {
			return nil, err
		}
		fmt.Printf("Clustered peptides into %d clusters (%d unassigned)\n", len(res.Clusters), len(res.Unassigned))
		opts.Clusters = res
	}

	return level.NewModel(exps, opts, flt.Apply)
}

// clusterPeptides clusters the filtered peptides of every experiment, or
// applies the configured forced partition
func clusterPeptides(cfg *config.Config, exps []*core.Experiment, opts level.Options, flt *filter.Config, params cluster.Params) (*cluster.Result, error) {
	peptides, err := level.AllPeptides(exps, opts.Keys, flt.Apply)
	if err != nil {
		return nil, err
	}
	if len(cfg.Clustering.Forced) > 0 {
		return cluster.Forced(peptides, cfg.Clustering.Forced)
	}
	return cluster.Run(peptides, params)
}

func preload(exps []*core.Experiment) error {
	for _, e := range exps {
		for _, r := range e.Replicates {
			psms, err := r.Source.PSMs()
			if err != nil {
				return fmt.Errorf("failed to read replicate '%s' of experiment '%s': %w", r.Name, e.Name, err)
			}
			r.Source = core.StaticSource(psms)
		}
	}
	return nil
}

func storeResult(path string, cfg *config.Config, dir string, res *integrate.Result) error {
	w, err := sqlite.NewWriter(path, sqlite.RunInfo{
		QuantType:   cfg.QuantTypeValue().String(),
		Outcome:     cfg.OutcomeValue().String(),
		WorkDir:     dir,
		Description: configFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create results database: %w", err)
	}

	if err := w.WriteResult(res); err != nil {
		w.Close()
		return fmt.Errorf("failed to store results: %w", err)
	}
	if err := w.Finalize(); err != nil {
		return fmt.Errorf("failed to finalize results database: %w", err)
	}
	fmt.Printf("Stored run %s in %s\n", w.RunID(), path)
	return nil
}
