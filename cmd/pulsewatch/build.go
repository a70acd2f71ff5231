package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsewatch"
	"github.com/jpalmerr/pulsewatch/config"
	"github.com/jpalmerr/pulsewatch/internal/cache"
	"github.com/jpalmerr/pulsewatch/internal/notify"
	"github.com/jpalmerr/pulsewatch/internal/store"
)

const redisPingTimeout = 3 * time.Second

// backends selects which external services buildMonitor connects to.
type backends struct {
	database bool
	redis    bool
	smtp     bool
}

// buildMonitor converts cfg into a Monitor. The returned cleanup closes any
// connections it opened and is safe to call when err is non-nil.
func buildMonitor(ctx context.Context, cfg *config.Config, use backends, logger *slog.Logger) (*pulsewatch.Monitor, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("failed to close connection", "error", err)
			}
		}
	}

	devices, err := config.BuildDevices(cfg)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to build devices: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, cleanup, err
	}

	opts := []pulsewatch.Option{
		pulsewatch.WithJWTSecret(cfg.Auth.JWTSecret),
		pulsewatch.WithDevices(devices...),
		pulsewatch.WithPort(cfg.Port),
		pulsewatch.WithCheckInterval(cfg.CheckInterval.Duration()),
		pulsewatch.WithProbeTimeout(cfg.ProbeTimeout.Duration()),
		pulsewatch.WithWarningThreshold(cfg.WarningThreshold.Duration()),
		pulsewatch.WithMaxConcurrency(cfg.MaxConcurrency),
		pulsewatch.WithAlertRetention(cfg.AlertRetention.Duration()),
		pulsewatch.WithLocation(loc),
		pulsewatch.WithAllowedOrigins(cfg.AllowedOrigins...),
		pulsewatch.WithLogger(logger),
	}
	if cfg.Title != "" {
		opts = append(opts, pulsewatch.WithTitle(cfg.Title))
	}

	if use.database && cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, cleanup, err
		}
		opts = append(opts, pulsewatch.WithStore(pg))
	}

	if use.redis && cfg.Redis.Addr != "" {
		rdb := cache.NewRedis(cfg.Redis.Addr)
		closers = append(closers, rdb.Close)
		// an unreachable Redis only costs cache hits; the client redials on use
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		if err := rdb.Ping(pingCtx); err != nil {
			logger.Warn("Redis unavailable, reads go to the store until it recovers", "addr", cfg.Redis.Addr, "error", err)
		} else {
			logger.Info("connected to Redis", "addr", cfg.Redis.Addr)
		}
		cancel()
		opts = append(opts, pulsewatch.WithCacheBackend(rdb))
	}

	if use.smtp && cfg.SMTP.Enabled() {
		n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}, logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to configure smtp: %w", err)
		}
		opts = append(opts, pulsewatch.WithNotifier(n))
	}

	m, err := pulsewatch.New(opts...)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to create monitor: %w", err)
	}
	return m, cleanup, nil
}
