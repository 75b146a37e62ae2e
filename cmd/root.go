package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/poriamsz55/distork-cli/internal/ui"
	"github.com/poriamsz55/distork-cli/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "distork",
	Short:   "Voice rooms in your terminal",
	Long:    `distork is a command-line client for distork voice rooms. It connects to a room, exchanges audio directly with every other participant over WebRTC, and keeps a live chat transcript alongside the call.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
