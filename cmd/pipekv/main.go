// Package main is the entry point for the pipekv CLI.
//
// pipekv can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach
// and a line-oriented client for interactive sessions.
//
// Usage:
//
//	pipekv serve -c config.yaml           # Start the server
//	pipekv validate -c config.yaml        # Validate configuration
//	pipekv client <id> <register_path>    # Connect a client session
//	pipekv version                        # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "pipekv",
	Short: "A key-value store served over named pipes",
	Long: `pipekv is an in-memory key-value store for local clients.

It executes batch job files against the store and lets clients
subscribe to keys over named pipes, notifying them of every change.

Quick start:
  1. Create a config file (pipekv.yaml)
  2. Run: pipekv serve -c pipekv.yaml
  3. Connect: pipekv client 1 /tmp/pipekv

Example config:
  jobs_dir: ./jobs
  register_path: /tmp/pipekv
  max_sessions: 8
  max_backups: 2`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pipekv binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pipekv %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
