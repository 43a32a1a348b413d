// Package cmd implements the veille command line interface.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veillehq/veille/internal/app"
	"github.com/veillehq/veille/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "veille",
	Short: "veille monitors web sources and answers questions about them",
	Long: `veille continuously monitors a set of web sources, indexes their
content for semantic search, and answers questions grounded in what it
has collected, with citations.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(
		newIngestCmd(),
		newAskCmd(),
		newFeedbackCmd(),
		newSourcesCmd(),
		newSummaryCmd(),
		newVersionCmd(),
	)
}

// withApp wraps a command body with configuration loading, application
// setup, teardown, and signal-aware context cancellation.
func withApp(fn func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		a, err := app.Setup(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, a, cmd, args)
	}
}
