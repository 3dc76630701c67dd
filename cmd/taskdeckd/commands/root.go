// Package commands provides the CLI commands for the taskdeck daemon.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "taskdeckd",
	Short: "taskdeckd - agent session orchestration daemon",
	Long: `taskdeckd runs coding-agent sessions against local working
directories and exposes an HTTP API for managing tasks, streaming
their output, and answering permission and question pause points.

Run 'taskdeckd serve' to start the daemon.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("taskdeckd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
