package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags.
var (
	AppVersion = "dev"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("zhiyin %s (commit %s, built %s)\n", AppVersion, GitCommit, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
