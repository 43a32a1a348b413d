package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/veillehq/veille/internal/app"
	"github.com/veillehq/veille/internal/retrieve"
)

func newAskCmd() *cobra.Command {
	var topK int
	var tag, source string
	var sinceDays int

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about monitored content",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			var opts []retrieve.Option
			if topK > 0 {
				opts = append(opts, retrieve.WithTopK(topK))
			}
			if tag != "" {
				opts = append(opts, retrieve.WithTag(tag))
			}
			if source != "" {
				opts = append(opts, retrieve.WithSource(source))
			}
			if sinceDays > 0 {
				opts = append(opts, retrieve.WithSince(time.Now().AddDate(0, 0, -sinceDays)))
			}

			ans, err := a.Composer.Ask(ctx, question, nil, opts...)
			if err != nil {
				return err
			}

			cmd.Println(ans.Text)
			cmd.Println()
			if len(ans.Citations) > 0 {
				cmd.Println("Sources:")
				for _, c := range ans.Citations {
					cmd.Printf("  [%d] %s\n", c.Index, c.URL)
				}
			}
			cmd.Printf("Confidence: %s", ans.Confidence)
			if ans.Degraded {
				cmd.Print(" (degraded)")
			}
			cmd.Printf("\nAnswer ID: %s (rate it with: veille feedback %s <1-5>)\n", ans.ID, ans.ID)
			return nil
		}),
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "number of chunks to retrieve")
	cmd.Flags().StringVar(&tag, "tag", "", "restrict to sources with this tag")
	cmd.Flags().StringVar(&source, "source", "", "restrict to one source URL")
	cmd.Flags().IntVar(&sinceDays, "since", 0, "restrict to content from the last N days")
	return cmd
}

func newFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <answer-id> <score>",
		Short: "Rate a previous answer from 1 (bad) to 5 (great)",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			score, err := strconv.Atoi(args[1])
			if err != nil || score < 1 || score > 5 {
				return fmt.Errorf("score must be an integer between 1 and 5")
			}
			if err := a.Store.SetQueryFeedback(ctx, args[0], score); err != nil {
				return err
			}
			cmd.Println("Feedback recorded.")
			return nil
		}),
	}
}
