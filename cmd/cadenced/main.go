// Package main implements cadenced, the autonomous day-cycle scheduling
// daemon, and its operator commands.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	serverURL  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cadenced",
		Short: "Autonomous day-cycle scheduler",
		Long: `cadenced decides, queues and dispatches discretionary work across the
phases of the day while respecting a daily budget.

Run "cadenced serve" to start the daemon. The other commands inspect a
running daemon or the configured day phases.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/cadence/config.yaml)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "cadenced server URL (default from config)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newPhaseCmd())
	root.AddCommand(newSummariesCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "cadenced by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
