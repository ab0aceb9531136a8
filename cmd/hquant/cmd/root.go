// Package cmd provides CLI command implementations
package cmd

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Flags shared by several commands
	configFile string
	verbose    bool

	// Flags for run command
	workDir  string
	dbPath   string
	override bool
	workers  int

	// Flags for cluster command
	clusterOut     string
	minScore       int
	minSimilarity  float64
	minConsecutive int

	// Flags for check command
	dataFile string
	relsFile string

	// Flags for summarize command
	runID string
)

var rootCmd = &cobra.Command{
	Use:   "hquant",
	Short: "hquant - Hierarchical quantification ratio integration",
	Long: `hquant integrates quantitative proteomics ratios up a hierarchy of levels
(ion, spectrum, peptide, protein, all) by driving external statistical
integration tools over generated relationship and data files.

Supports:
- Isobaric and isotopologue labelling
- Peptide, protein, protein-group and protein-cluster outcomes
- Calibration, outlier removal and resumable runs
- Results stored in a SQLite database`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(summarizeCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every tool call and level transition")

	// Run command flags
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Analysis YAML file (required)")
	runCmd.Flags().StringVarP(&workDir, "workdir", "w", "", "Working directory (overrides work_dir)")
	runCmd.Flags().StringVar(&dbPath, "db", "", "Results database (overrides database)")
	runCmd.Flags().BoolVar(&override, "override", false, "Regenerate files and rerun steps that already have outputs")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent tool calls (0 = from config)")
	runCmd.MarkFlagRequired("config")

	// Cluster command flags
	clusterCmd.Flags().StringVarP(&configFile, "config", "c", "", "Analysis YAML file (required)")
	clusterCmd.Flags().StringVarP(&clusterOut, "out", "o", "", "Write the cluster relationship table here (default stdout)")
	clusterCmd.Flags().IntVar(&minScore, "min-score", 0, "Minimum alignment score (0 = from config)")
	clusterCmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Minimum similarity percentage (0 = from config)")
	clusterCmd.Flags().IntVar(&minConsecutive, "min-consecutive", 0, "Minimum consecutive identical residues (0 = from config)")
	clusterCmd.MarkFlagRequired("config")

	// Check command flags
	checkCmd.Flags().StringVar(&dataFile, "data", "", "Data file (required)")
	checkCmd.Flags().StringVar(&relsFile, "rels", "", "Relationship file (required)")
	checkCmd.MarkFlagRequired("data")
	checkCmd.MarkFlagRequired("rels")

	// Summarize command flags
	summarizeCmd.Flags().StringVar(&runID, "run", "", "Run ID (default latest run)")
}

// newLogger returns the logger handed to the pipeline packages
func newLogger() *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "hquant: ", log.LstdFlags)
}
