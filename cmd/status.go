package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
)

func newStatusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize crawl progress without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := crawler.Report(cmd.Context(), c.app.Store())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "domains\t%d\n", report.Total)
			fmt.Fprintf(tw, "complete\t%d\n", report.Complete)
			fmt.Fprintf(tw, "  with search error\t%d\n", report.CompleteError)
			fmt.Fprintf(tw, "pending\t%d\n", report.Pending)
			fmt.Fprintf(tw, "  blocked before\t%d\n", report.Retrying)
			fmt.Fprintf(tw, "attempts\t%d\n", report.Attempts)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
