package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/jpalmerr/pulsewatch/config"
	"github.com/jpalmerr/pulsewatch/model"
	"github.com/spf13/cobra"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
)

// checkCmd runs a single check cycle over the configured devices.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check all configured devices once",
	Long: `Run one check cycle over the devices in a config file and print the results.

Devices are checked in memory: nothing is written to the configured database
and no alert emails are sent.

Exit codes:
  0 - All devices checked (or no device offline with --fail-on-offline)
  1 - Config is invalid, or a device is offline with --fail-on-offline

Example:
  pulsewatch check -c config.yaml
  pulsewatch check -c config.yaml --output json --fail-on-offline`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	checkCmd.Flags().StringP("output", "o", outputFormatText, "output format: text or json")
	checkCmd.Flags().Bool("fail-on-offline", false, "exit non-zero when any device is offline")
	_ = checkCmd.MarkFlagRequired("config")
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("output")
	if format != outputFormatText && format != outputFormatJSON {
		return fmt.Errorf("unsupported output format %q", format)
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, cleanup, err := buildMonitor(ctx, cfg, backends{}, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	results, err := m.CheckAll(ctx)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if format == outputFormatJSON {
		if err := writeResultsJSON(out, results); err != nil {
			return err
		}
	} else {
		writeResultsTable(out, results)
	}

	failOnOffline, _ := cmd.Flags().GetBool("fail-on-offline")
	if failOnOffline {
		offline := 0
		for _, r := range results {
			if r.Status == model.StatusOffline {
				offline++
			}
		}
		if offline > 0 {
			return fmt.Errorf("%d device(s) offline", offline)
		}
	}
	return nil
}

func writeResultsJSON(w io.Writer, results []model.CheckResult) error {
	if results == nil {
		results = []model.CheckResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writeResultsTable(w io.Writer, results []model.CheckResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tTYPE\tTARGET\tSTATUS\tRESPONSE\tERROR")
	for _, r := range results {
		d := r.Device
		target := d.Host
		if d.CheckURL != "" {
			target = d.CheckURL
		}
		response := "-"
		if r.ResponseTimeMs != nil {
			response = fmt.Sprintf("%dms", *r.ResponseTimeMs)
		}
		lastError := ""
		if d.LastError != nil {
			lastError = *d.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Name, d.Type, target, r.Status, response, lastError)
	}
	_ = tw.Flush()
}
