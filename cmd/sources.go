package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/veillehq/veille/internal/app"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage monitored sources",
	}
	cmd.AddCommand(newSourcesAddCmd(), newSourcesListCmd(), newSourcesOffCmd())
	return cmd
}

func newSourcesAddCmd() *cobra.Command {
	var tags []string
	var hint string
	var everyHours int

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a URL for monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			every := time.Duration(everyHours) * time.Hour
			if err := a.Store.AddSource(ctx, args[0], tags, hint, every); err != nil {
				return err
			}
			cmd.Printf("Added %s (checked every %dh)\n", args[0], everyHours)
			return nil
		}),
	}

	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags for filtering retrieval")
	cmd.Flags().StringVar(&hint, "hint", "auto", "page type hint: auto, article, index, feed")
	cmd.Flags().IntVar(&everyHours, "every", 24, "check frequency in hours")
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sources",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			sources, err := a.Store.ListActiveSources(ctx)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				cmd.Println("No active sources. Add one with: veille sources add <url>")
				return nil
			}
			for _, src := range sources {
				checked := "never"
				if !src.LastChecked.IsZero() {
					checked = src.LastChecked.Format(time.RFC3339)
				}
				chunks, err := a.Store.CountSourceChunks(ctx, src.URL)
				if err != nil {
					return err
				}
				cmd.Printf("%s\n  tags=%v hint=%s every=%s last_checked=%s chunks=%d\n",
					src.URL, src.Tags, src.Hint, src.CheckFrequency, checked, chunks)
			}
			return nil
		}),
	}
}

func newSourcesOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "off <url>",
		Short: "Stop monitoring a source (existing content stays queryable)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if err := a.Store.DeactivateSource(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("Deactivated %s\n", args[0])
			return nil
		}),
	}
}
