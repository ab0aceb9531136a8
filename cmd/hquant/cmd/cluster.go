package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/hquant/pkg/config"
	"github.com/ChrisMcGann/hquant/pkg/level"
	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster the peptides of an analysis into protein clusters",
	Long: `Cluster the filtered peptides of every experiment by shared proteins and
pairwise sequence alignment, and write the cluster to peptide table.

Examples:
  # Use the thresholds of the analysis
  hquant cluster --config analysis.yaml --out clusters.tsv

  # Try stricter thresholds
  hquant cluster --config analysis.yaml --min-score 20 --min-similarity 80 --min-consecutive 5`,
	RunE: runCluster,
}

func runCluster(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	params := cfg.ClusterParams()
	if minScore > 0 {
		params.MinAlignmentScore = minScore
	}
	if minSimilarity > 0 {
		params.MinSimilarityPercentage = minSimilarity
	}
	if minConsecutive > 0 {
		params.MinConsecutiveIdenticalLength = minConsecutive
	}

	exps, err := cfg.CoreExperiments()
	if err != nil {
		return err
	}
	outcome := cfg.OutcomeValue()
	opts := level.Options{Keys: cfg.KeyOptions()}

	res, err := clusterPeptides(cfg, exps, opts, cfg.Filter.ForOutcome(outcome), params)
	if err != nil {
		return err
	}

	// The table may go to stdout; progress goes to stderr.
	fmt.Fprintf(os.Stderr, "Clusters: %d\n", len(res.Clusters))
	fmt.Fprintf(os.Stderr, "Alignment edges: %d\n", len(res.Edges))
	fmt.Fprintf(os.Stderr, "Unassigned peptides: %d\n", len(res.Unassigned))

	table := relmap.New("cluster\tpeptide")
	for _, c := range res.Clusters {
		for _, p := range c.Peptides {
			table.Add(c.Key, p)
		}
	}
	if clusterOut == "" {
		return table.Write(os.Stdout)
	}
	return table.WriteFile(clusterOut)
}
