// Package cmd implements lotteryctl, the offline companion of the lottery
// service: it replays draws from scenario files and checks stored reports.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// RootCmd builds the lotteryctl command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lotteryctl",
		Short:         "Replay and verify summer-job lottery runs",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		simulateCmd(),
		digestCmd(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
