// Package pulsewatch provides an embeddable network device monitor with
// alerting and live updates.
//
// PulseWatch is designed as an SDK-first library. A [Monitor] periodically
// probes devices over ICMP or HTTP, classifies them as online, warning or
// offline, raises alerts on transitions, and pushes every change to
// authenticated WebSocket clients.
//
// # Quick Start
//
//	m, _ := pulsewatch.New(
//	    pulsewatch.WithJWTSecret(os.Getenv("JWT_SECRET")),
//	    pulsewatch.WithDevice(model.Device{Name: "gateway", Host: "10.0.0.1"}),
//	)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	m.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// PulseWatch uses the functional options pattern for configuration:
//
//	m, err := pulsewatch.New(
//	    pulsewatch.WithJWTSecret(secret),
//	    pulsewatch.WithDevices(devices...),
//	    pulsewatch.WithCheckInterval(time.Minute),
//	    pulsewatch.WithMaxConcurrency(8),
//	    pulsewatch.WithPort(9090),
//	)
//
// Devices without a check URL are pinged; devices with one get an HTTP GET.
// A device that answers slower than the warning threshold is reported as
// warning.
//
// # Alerts
//
// A device going offline raises one disaster alert, entering warning raises
// one warning alert, and recovering to online resolves every open alert of
// the device after recording an information alert. Alert emails and the
// daily report are sent in the background through the configured
// [Notifier].
//
// # Architecture
//
// PulseWatch consists of several internal packages (under internal/):
//
//   - internal/scheduler: Periodic jobs with overlap protection
//   - internal/probe: ICMP and HTTP reachability probes
//   - internal/evaluator: Status classification
//   - internal/alerter: Alert decisions and resolution
//   - internal/monitor: The check engine tying the above together
//   - internal/hub: WebSocket hub with per-device subscriptions
//   - internal/cache: Read-through caching with Redis or in memory
//   - internal/store: In-memory and PostgreSQL persistence
//   - internal/notify: SMTP delivery on a background queue
//   - internal/server: REST API and realtime endpoint
//
// The internal packages are not part of the public API and may change
// without notice.
package pulsewatch
