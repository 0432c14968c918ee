package pipeline

import (
	"fmt"
	"strings"
)

const summaryWidth = 80

// Summary renders a fixed width execution report suitable for terminal
// output and CI logs.
func (r Result) Summary() string {
	var b strings.Builder

	rule := strings.Repeat("=", summaryWidth)
	divider := strings.Repeat("-", summaryWidth)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "Pipeline Execution Summary")
	fmt.Fprintf(&b, "Run ID: %s\n", r.RunID)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "%-30s %-12s %-10s %-10s Time (s)\n", "Dataset", "Stage", "Status", "Rows")
	fmt.Fprintln(&b, divider)

	for _, ds := range r.Datasets {
		fmt.Fprintf(&b, "%-30s %-12s %-10s %-10d %.1f\n",
			ds.DatasetName, ds.Stage, ds.Status, ds.RowsLoaded, ds.Elapsed.Seconds())
	}

	fmt.Fprintln(&b, divider)

	outcome := "SUCCESS"
	if !r.Success {
		outcome = "FAILED"
	}
	fmt.Fprintf(&b, "Total rows: %d  Elapsed: %.1fs  Result: %s\n",
		r.TotalRows(), r.Elapsed.Seconds(), outcome)
	fmt.Fprintln(&b, rule)

	return b.String()
}
