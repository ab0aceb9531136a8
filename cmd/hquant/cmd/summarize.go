package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/hquant/pkg/writer/sqlite"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [file]",
	Short: "Summarize the final results stored in a database",
	Long:  `Print the size, weighted mean and spread of the final values of a run.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSummarize,
}

func runSummarize(cmd *cobra.Command, args []string) error {
	scopes, err := sqlite.ReadFinal(args[0], runID)
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		return fmt.Errorf("run has no final results")
	}

	fmt.Printf("Run: %s\n", scopes[0].RunID)
	for _, s := range scopes {
		name := s.Experiment
		if s.Merge {
			name = "merged experiments"
		}
		fmt.Printf("\n%s (%s level)\n", name, s.Level)
		fmt.Printf("  Values:   %d\n", len(s.X))
		fmt.Printf("  Variance: %.4g\n", s.Variance)
		if len(s.X) == 0 {
			continue
		}

		weights := s.Weights
		if floats.Min(weights) <= 0 {
			weights = nil
		}
		mean, sd := stat.MeanStdDev(s.X, weights)
		if len(s.X) == 1 {
			sd = 0
		}
		fmt.Printf("  Mean:     %.4f\n", mean)
		fmt.Printf("  Std dev:  %.4f\n", sd)
		fmt.Printf("  Range:    [%.4f, %.4f]\n", floats.Min(s.X), floats.Max(s.X))
	}
	return nil
}
