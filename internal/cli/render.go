package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/vietddude/histprobe/internal/core/domain"
)

func renderJSON(w io.Writer, report *domain.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func renderText(w io.Writer, report *domain.Report) error {
	fmt.Fprintf(w, "\nEndpoint:   %s\n", report.Endpoint)
	fmt.Fprintf(w, "Chain head: %d\n", report.ChainHead)
	fmt.Fprintf(w, "Duration:   %s  (%d RPC calls)\n\n",
		report.Duration.Round(time.Millisecond), report.TotalRoundTrips())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CAPABILITY\tSTATUS\tOLDEST BLOCK\tCALLS\tNOTE")
	for _, res := range report.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			res.Capability, res.Status, describeBoundary(res), res.RoundTrips, res.Detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func describeBoundary(res domain.CapabilityResult) string {
	switch res.Status {
	case domain.StatusFull:
		return "1 (full history)"
	case domain.StatusPartial:
		if res.Approximate {
			return fmt.Sprintf("~%d", res.Boundary)
		}
		return fmt.Sprintf("%d", res.Boundary)
	default:
		return "-"
	}
}
