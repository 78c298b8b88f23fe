// Package commands implements the daybreak CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "daybreak",
	Short: "Personal productivity agent",
	Long: `Daybreak watches your email, chat, and meeting notes, extracts
actionable tasks with a local LLM, and files them for you.

Configure accounts in daybreak.yaml and run 'daybreak agent start'.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.config/daybreak/daybreak.yaml)")
}
