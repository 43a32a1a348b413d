package cmd

import (
	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("veille %s\n", AppVersion)
			cmd.Printf("Build Time: %s\n", BuildTime)
			cmd.Printf("Git Commit: %s\n", GitCommit)
		},
	}
}
