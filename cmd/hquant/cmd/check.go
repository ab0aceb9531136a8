package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

// maxListed bounds how many missing keys are printed
const maxListed = 20

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that a data file and a relationship file are consistent",
	Long: `Verify that every identifier of a data file appears as a lower-level
identifier in a relationship file, as the integration tools require.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	rows, err := relmap.ReadDataFile(dataFile)
	if err != nil {
		return err
	}
	m, err := relmap.ReadFile(relsFile)
	if err != nil {
		return err
	}

	fmt.Printf("Data rows: %d\n", len(rows))
	fmt.Printf("Relationships: %d pairs, %d higher-level identifiers\n", m.Pairs(), m.Len())
	if unused := relmap.UnusedKeys(rows, m); len(unused) > 0 {
		fmt.Printf("Related identifiers without data: %d\n", len(unused))
	}
	if m.Len() > 0 && m.IsIdentity() {
		fmt.Fprintf(os.Stderr, "Warning: %s maps every identifier onto itself, integrating it aggregates nothing\n", relsFile)
	}

	if relmap.CheckDataValidity(rows, m) {
		fmt.Println("OK: every identifier is related")
		return nil
	}

	missing := relmap.MissingKeys(rows, m)
	for i, key := range missing {
		if i == maxListed {
			fmt.Printf("  ... and %d more\n", len(missing)-maxListed)
			break
		}
		fmt.Printf("  %s\n", key)
	}
	return fmt.Errorf("%d of %d identifiers in %s are missing from %s", len(missing), len(rows), dataFile, relsFile)
}
