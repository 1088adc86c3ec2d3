package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/policy-search-crawler/internal/ingest"
)

func newInitCmd(c *cli) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a pending record for every new domain in the input file",
		Long: `Reads the tab-separated organization list (header row, then name,
legal name and URL per line), groups organizations by registered domain and
creates a record for each domain not yet in the state store. Existing records
and their crawl history are left as they are.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRunLock(cmd.Context(), func() error {
				return c.initialize(cmd.Context(), input, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "organization TSV (default from input.path)")
	return cmd
}

func (c *cli) initialize(ctx context.Context, input string, out io.Writer) error {
	if input == "" {
		input = c.app.Config().Input.Path
	}
	// #nosec G304 -- the operator chooses the input file.
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	summary, err := ingest.Initialize(ctx, f, c.app.Store(), c.app.Logger().Named("ingest"))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "found %d viable company URLs (%d without URL, %d unparsable)\n",
		summary.Companies-summary.NoURL-summary.Unparsable, summary.NoURL, summary.Unparsable)
	fmt.Fprintf(out, "%d unique domains: wrote %d new company data records, %d already present\n",
		summary.UniqueDomains, summary.Created, summary.Existing)
	return nil
}
