// cprcoach: real-time CPR compression coaching server
//
// Clients stream pose landmarks (or client-computed metrics) over a
// WebSocket and receive live coaching cues, spoken answers and a scored
// session summary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cprcoach",
		Short:         "Real-time CPR compression coaching",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newReplayCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
