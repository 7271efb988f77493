package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/nutrient-buffer/internal/compound"
)

var compoundsCmd = &cobra.Command{
	Use:   "compounds",
	Short: "List the supported nutrient compounds",
	Long:  "Prints each compound's share of broiler waste mass and its maximum safe soil concentration.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return formatCompounds(cmd.OutOrStdout())
	},
}

func init() { rootCmd.AddCommand(compoundsCmd) }

func formatCompounds(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDEX\tCOMPOUND\tCONVERSION_FACTOR\tMAX_CONCENTRATION")
	_, _ = fmt.Fprintln(w, "-----\t--------\t-----------------\t-----------------")
	for _, c := range compound.All() {
		p, err := c.Properties()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%g\t%g\n", int(c), c, p.ConversionFactor, p.MaxConcentration)
	}
	return w.Flush()
}
