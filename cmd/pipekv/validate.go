package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pipekv/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a pipekv configuration file without starting the server.

This command parses the YAML, applies PIPEKV_ environment overrides,
expands environment variables and validates all fields. It prints the
effective configuration.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pipekv validate -c config.yaml
  pipekv validate --config /etc/pipekv/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	admin := cfg.AdminAddr
	if admin == "" {
		admin = "disabled"
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Jobs:          %s (%s)\n", cfg.JobsDir, cfg.JobPattern)
	fmt.Printf("  Register path: %s\n", cfg.RegisterPath)
	fmt.Printf("  Sessions:      %d (max %d subscriptions each)\n", cfg.MaxSessions, cfg.MaxSubscriptions)
	fmt.Printf("  Job threads:   %d\n", cfg.MaxThreads)
	fmt.Printf("  Backups:       %d concurrent\n", cfg.MaxBackups)
	fmt.Printf("  Watch jobs:    %t\n", cfg.WatchJobs)
	fmt.Printf("  Admin:         %s\n", admin)
	fmt.Printf("  Log level:     %s\n", cfg.Log.Level)

	return nil
}
