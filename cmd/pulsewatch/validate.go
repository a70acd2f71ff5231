package main

import (
	"fmt"

	"github.com/jpalmerr/pulsewatch/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a PulseWatch configuration file without starting the server.

This command parses the YAML, expands environment variables, validates all
fields and expands device grids. No connections are opened. It's useful for
CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulsewatch validate -c config.yaml
  pulsewatch validate --config /etc/pulsewatch/config.yaml`,
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

	// grid expansion catches template and name errors Load cannot see
	devices, err := config.BuildDevices(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	direct := len(cfg.Devices)
	fromGrids := len(devices) - direct

	storage := "memory"
	if cfg.Database.DSN != "" {
		storage = "postgres"
	}
	cacheMode := "disabled"
	if cfg.Redis.Addr != "" {
		cacheMode = "redis"
	}
	notifications := "log"
	if cfg.SMTP.Enabled() {
		notifications = "smtp"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:           %d\n", cfg.Port)
	fmt.Fprintf(out, "  Check interval: %s\n", cfg.CheckInterval.Duration())
	fmt.Fprintf(out, "  Concurrency:    %d\n", cfg.MaxConcurrency)
	fmt.Fprintf(out, "  Storage:        %s\n", storage)
	fmt.Fprintf(out, "  Cache:          %s\n", cacheMode)
	fmt.Fprintf(out, "  Notifications:  %s\n", notifications)
	fmt.Fprintf(out, "  Devices:        %d direct + %d from grids = %d total\n",
		direct, fromGrids, len(devices))

	return nil
}
