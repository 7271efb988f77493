package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/nutrient-buffer/internal/engine"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List the available geometry engines",
	Long:  "Prints the geometry engines compiled into this binary. The geos engine requires building with -tags geos.",
	Run: func(cmd *cobra.Command, _ []string) {
		formatEngines(cmd.OutOrStdout(), engine.Names(), cfg.Engine.Driver)
	},
}

func init() { rootCmd.AddCommand(enginesCmd) }

func formatEngines(out io.Writer, names []string, selected string) {
	for _, n := range names {
		marker := " "
		if n == selected {
			marker = "*"
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", marker, n)
	}
}
