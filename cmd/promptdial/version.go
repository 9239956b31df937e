package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// Build metadata, set through -ldflags at release time.
var (
	version   = "development"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("promptdial %s (flow %s, commit %s, built %s)\n",
				version, core.FlowVersion, gitCommit, buildDate)
		},
	}
}
