package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/veillehq/veille/internal/app"
	"github.com/veillehq/veille/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var watch bool
	var sourceURL string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and index monitored sources",
		Long: `Runs one ingest cycle over all sources due for a check, or a single
source with --source. With --watch, keeps running on a schedule until
interrupted. Only one ingest process runs at a time; concurrent
invocations exit immediately.`,
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			lock, err := acquireIngestLock()
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			if sourceURL != "" {
				src, err := a.Store.GetSource(ctx, sourceURL)
				if err != nil {
					return err
				}
				out := a.Orchestrator.IngestSource(ctx, src)
				printOutcomes(cmd, []ingest.Outcome{out})
				return out.Err
			}

			if watch {
				a.Scheduler.Run(ctx)
				return nil
			}

			outcomes, err := a.Orchestrator.RunCycle(ctx)
			if err != nil {
				return err
			}
			printOutcomes(cmd, outcomes)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running on the check schedule")
	cmd.Flags().StringVar(&sourceURL, "source", "", "ingest a single source URL now")
	return cmd
}

// acquireIngestLock takes the cross-process ingest lock. Scheduled and
// manual runs share it, so they never race on the same sources.
func acquireIngestLock() (*flock.Flock, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".veille")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, "ingest.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another ingest is already running")
	}
	return lock, nil
}

func printOutcomes(cmd *cobra.Command, outcomes []ingest.Outcome) {
	for _, out := range outcomes {
		switch {
		case out.Err != nil:
			cmd.Printf("%-10s %s (%v)\n", out.Status, out.SourceURL, out.Err)
		case out.FollowUps > 0:
			cmd.Printf("%-10s %s (%d follow-ups registered)\n", out.Status, out.SourceURL, out.FollowUps)
		default:
			cmd.Printf("%-10s %s\n", out.Status, out.SourceURL)
		}
	}
}
