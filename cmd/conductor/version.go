package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	// Skip config loading so version works in a broken workspace.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "conductor version %s\n", version.Get())
	},
}
