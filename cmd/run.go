package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd(c *cli) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Initialize from the input file, then crawl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRunLock(cmd.Context(), func() error {
				if err := c.initialize(cmd.Context(), input, cmd.OutOrStdout()); err != nil {
					return err
				}
				return c.crawl(cmd.Context(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "organization TSV (default from input.path)")
	return cmd
}
