package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "decoynet",
	Short: "Distributed deception network sensor",
	Long: `decoynet runs deception sensors that pose as weakly secured SSH
hosts, capture attacker behavior in an instrumented shell and feed a
shared control plane that blocks attackers across the whole network.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
