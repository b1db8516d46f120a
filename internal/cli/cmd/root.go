package cmd

import (
	"github.com/spf13/cobra"
)

// RegisterCommands adds all available commands to the root command
func RegisterCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewResumeCommand())
	rootCmd.AddCommand(NewRunProjectCommand())
	rootCmd.AddCommand(NewShowCommand())
	rootCmd.AddCommand(NewAbortCommand())
	rootCmd.AddCommand(NewBufferCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewCleanHistoryCommand())
	rootCmd.AddCommand(NewCodeCommand())
	rootCmd.AddCommand(NewSyncCommand())
}
