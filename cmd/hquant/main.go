// hquant - Hierarchical quantification ratio integration
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/hquant/cmd/hquant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
