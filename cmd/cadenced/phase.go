package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"github.com/fyrsmithlabs/cadence/internal/dayphase"
)

func newPhaseCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Show the current day phase and the next transition",
		Long: `Show the current day phase and when the next one begins, using the
phase windows from the configuration.

Examples:
  cadenced phase
  cadenced phase --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			tracker, err := dayphase.NewTracker(nil, dayphase.WithWindows(cfg.Phases.Windows()))
			if err != nil {
				return err
			}
			next := tracker.NextTransition()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(next)
			}
			fmt.Fprintf(out, "Current phase: %s\n", next.CurrentPhase)
			fmt.Fprintf(out, "Next phase:    %s at %s (in %d min)\n", next.NextPhase, next.TransitionAt, next.MinutesRemaining)
			for _, w := range tracker.Windows() {
				fmt.Fprintf(out, "  %-9s %02d:00-%02d:00\n", w.Phase, w.StartHour, w.EndHour)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
