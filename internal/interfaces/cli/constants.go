package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/constants"
)

func newConstantsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "constants",
		Short: "List the physical constants used by the analyzers",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			all := constants.All()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), all)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSYMBOL\tVALUE\tUNIT\tNAME")
			fmt.Fprintln(w, "---\t------\t-----\t----\t----")
			for _, c := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Key, c.Symbol, c.FormatValue(), c.Unit, c.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// writeJSON writes v as indented JSON
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
