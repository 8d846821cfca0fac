package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/refereehq/referee/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("referee %s\n", version.GitRelease)
		fmt.Printf("  Go:     %s\n", runtime.Version())
		if version.GitCommit != "" {
			fmt.Printf("  Commit: %s\n", version.GitCommit)
		}
	},
}
