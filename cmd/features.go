package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/rooftop-index/internal/feature"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List the features a run can compute",
	RunE: func(_ *cobra.Command, _ []string) error {
		formatFeatures(os.Stdout, feature.Definitions())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(featuresCmd)
}

// formatFeatures writes one row per registered feature.
func formatFeatures(out io.Writer, defs []feature.Definition) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tREQUIRED\tOPTIONAL\tCOLUMNS\tDESCRIPTION")
	_, _ = fmt.Fprintln(w, "----\t--------\t--------\t-------\t-----------")

	for _, d := range defs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			d.ID,
			orDash(strings.Join(d.Required, ",")),
			orDash(formatOptional(d.Optional)),
			orDash(featureColumns(d)),
			d.Description,
		)
	}
	_ = w.Flush()
}

// featureColumns reports the columns written with default arguments.
// Features whose columns depend on required arguments have none.
func featureColumns(d feature.Definition) string {
	if len(d.Required) > 0 {
		if d.ID == feature.ClosenessToPoints {
			return "one per point layer"
		}
		return ""
	}
	return strings.Join(d.Columns(feature.Args(d.Optional)), ",")
}

func formatOptional(opts map[string]any) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, opts[k])
	}
	return strings.Join(parts, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
