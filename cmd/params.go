// SPDX-License-Identifier: MIT
package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"livefx/internal/dsp"
)

func newParamsCommand() *cobra.Command {
	var asJSON bool

	c := &cobra.Command{
		Use:   "params",
		Short: "Describe the effect parameters and their ranges",
		Long: "Lists every parameter of the pitch, reverb, delay and mixer stages. " +
			"The stage and param columns are the keys used by the effects section " +
			"of the configuration file, the --set flag and the control protocol.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := dsp.NewStandardChain().Registry().Snapshot()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(params)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tPARAM\tLABEL\tDEFAULT\tRANGE\tUNIT")
			for _, p := range params {
				fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%g..%g\t%s\n",
					p.Stage, p.Param, p.Label, p.Default, p.Min, p.Max, p.Unit)
			}
			return w.Flush()
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "Print the parameters as JSON")
	return c
}
