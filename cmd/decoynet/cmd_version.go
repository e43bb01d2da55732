package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voslund/decoynet/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("decoynet %s (commit: %s, built: %s)\n", version.Version, version.GitCommit, version.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
