package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
)

func newCrawlCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one search for every pending domain",
		Long: `Walks the state store and queries the search engine once for every
domain that is not complete yet. Each attempt is saved immediately. When the
search engine answers with a challenge page the pass stops with exit code 2;
run the command again later to continue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRunLock(cmd.Context(), func() error {
				return c.crawl(cmd.Context(), cmd.OutOrStdout())
			})
		},
	}
}

func (c *cli) crawl(ctx context.Context, out io.Writer) error {
	engine, err := c.app.Engine()
	if err != nil {
		return err
	}
	summary, err := engine.RunPass(ctx)
	printPass(out, summary)
	return err
}

func printPass(out io.Writer, s crawler.PassSummary) {
	fmt.Fprintf(out, "pass %s %s: %d searched (%d with errors), %d already complete\n",
		s.RunID, s.Outcome, s.Processed, s.Errored, s.Skipped)
	if s.BlockedDomain != "" {
		fmt.Fprintf(out, "blocked while searching %s; it stays pending\n", s.BlockedDomain)
	}
}
