package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-search-crawler/internal/app"
	"github.com/JakeFAU/policy-search-crawler/internal/config"
	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
	"github.com/JakeFAU/policy-search-crawler/internal/logging"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitBlocked  = 2
	ExitCanceled = 130
)

// newApp is the application factory. It's a variable so tests can inject
// in-memory components.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// cli carries state shared by the commands of one invocation.
type cli struct {
	cfgFile string
	app     *app.App
}

// newRootCmd creates and configures the root command.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policycrawl",
		Short: "Resumable search crawler for company leave policies.",
		Long: `policycrawl looks up each organization's family and parental leave policy
pages with a site-restricted web search. Progress is stored per registered
domain, so an interrupted or blocked run resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the services once the --config flag has been parsed.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			c.app = appInstance
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default ./policycrawl.yaml or $HOME/.policycrawl/policycrawl.yaml)")

	cmd.AddCommand(newInitCmd(c))
	cmd.AddCommand(newCrawlCmd(c))
	cmd.AddCommand(newRunCmd(c))
	cmd.AddCommand(newStatusCmd(c))
	return cmd
}

// close releases the services even when the command failed; cobra skips
// post-run hooks after an error.
func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	root := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	if err != nil && c.app != nil {
		c.app.Logger().Error("command failed", zap.Error(err))
	}
	c.close()

	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, crawler.ErrBlocked):
		return ExitBlocked
	case errors.Is(err, context.Canceled):
		return ExitCanceled
	default:
		return ExitFailure
	}
}
