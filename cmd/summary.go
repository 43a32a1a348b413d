package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/veillehq/veille/internal/app"
)

func newSummaryCmd() *cobra.Command {
	var topic string
	var sinceDays int

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Digest recently ingested content",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			var digest string
			var err error
			if topic != "" {
				since := time.Now().UTC().AddDate(0, 0, -sinceDays)
				digest, err = a.Summarizer.Topic(ctx, topic, since)
			} else {
				digest, err = a.Summarizer.Daily(ctx)
			}
			if err != nil {
				return err
			}
			cmd.Println(digest)
			return nil
		}),
	}

	cmd.Flags().StringVar(&topic, "topic", "", "digest a single topic instead of everything")
	cmd.Flags().IntVar(&sinceDays, "since", 7, "horizon in days for topic digests")
	return cmd
}
