package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulsewatch/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd starts monitoring and the API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start monitoring and the API server",
	Long: `Start the PulseWatch monitor.

The server will:
  - Load configuration from the specified YAML file
  - Connect to PostgreSQL, Redis and SMTP when configured
  - Check all active devices on start, then every check_interval
  - Serve the REST API and the WebSocket hub on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pulsewatch serve -c config.yaml
  pulsewatch serve --config /etc/pulsewatch/config.yaml --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"devices", len(cfg.Devices),
		"grids", len(cfg.Grids),
		"database", cfg.Database.DSN != "",
		"redis", cfg.Redis.Addr != "",
		"smtp", cfg.SMTP.Enabled(),
	)

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, cleanup, err := buildMonitor(ctx, cfg, backends{database: true, redis: true, smtp: true}, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	logger.Info("starting server",
		"port", cfg.Port,
		"check_interval", cfg.CheckInterval.Duration().String(),
	)

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- m.Start(ctx)
	}()

	// wait for server to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
