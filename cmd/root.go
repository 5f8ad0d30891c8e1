// Package cmd defines and implements the CLI commands for the
// listing-harvester executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing-harvester",
		Short: "Harvests real-estate listings into an incremental CSV store.",
		Long: `listing-harvester walks configured search and listing URLs, extracts
listing records, and merges them into a single CSV store that only ever
gains fields and never loses known values. Interrupted runs resume from
whatever the store already holds.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newHarvestCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
