// Package main is the entry point for the pulsewatch CLI.
//
// PulseWatch can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pulsewatch serve -c config.yaml    # Start monitoring and the API
//	pulsewatch check -c config.yaml    # Run one check cycle and print it
//	pulsewatch validate -c config.yaml # Validate configuration
//	pulsewatch version                 # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsewatch",
	Short: "A network device monitor with alerting",
	Long: `PulseWatch monitors network devices and services.

It pings hosts or requests health URLs at a fixed interval, classifies each
device as online, warning or offline, raises alerts on transitions, and
streams every change to authenticated WebSocket clients.

Quick start:
  1. Create a config file (pulsewatch.yaml)
  2. Run: pulsewatch serve -c pulsewatch.yaml
  3. Query http://localhost:8080/api/devices with a bearer token

Example config:
  check_interval: 30s
  auth:
    jwt_secret: ${PULSEWATCH_JWT_SECRET}
  devices:
    - name: core-switch
      host: 10.0.0.2
      type: switch`,
	SilenceUsage: true,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
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
	Long:  `Print the version, commit hash, and build date of this pulsewatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pulsewatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger on stderr at the level named by the
// --log-level flag.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")
	level, err := parseLevel(name)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})), nil
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}
