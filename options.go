package pulsewatch

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/auth"
	"github.com/jpalmerr/pulsewatch/model"
)

// monitorConfig holds mutable state during Monitor construction.
type monitorConfig struct {
	title            string
	port             int
	checkInterval    time.Duration
	probeTimeout     time.Duration
	warningThreshold time.Duration
	maxConcurrency   int
	alertRetention   time.Duration
	location         *time.Location
	allowedOrigins   []string
	logger           *slog.Logger
	store            Store
	cacheBackend     CacheBackend
	notifier         Notifier
	authn            Authenticator
	devices          []model.Device
	checkCallbacks   []func(model.CheckResult)
}

// Option is a function that configures a [Monitor] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*monitorConfig) error

// WithDevice seeds a device into the store when the monitor starts.
//
// Devices are upserted by name, so seeding an existing device updates its
// configuration without touching its status history.
func WithDevice(d model.Device) Option {
	return func(cfg *monitorConfig) error {
		if d.Name == "" {
			return errors.New("device name is required")
		}
		if d.Host == "" && d.CheckURL == "" {
			return errors.New("device host or check URL is required")
		}
		cfg.devices = append(cfg.devices, d)
		return nil
	}
}

// WithDevices seeds several devices. Equivalent to calling [WithDevice]
// for each one.
func WithDevices(devices ...model.Device) Option {
	return func(cfg *monitorConfig) error {
		for _, d := range devices {
			if err := WithDevice(d)(cfg); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithStore sets the persistence layer. Defaults to an in-memory store.
func WithStore(s Store) Option {
	return func(cfg *monitorConfig) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithCacheBackend enables read caching for devices and stats.
//
// Without a backend every read goes to the store.
func WithCacheBackend(b CacheBackend) Option {
	return func(cfg *monitorConfig) error {
		if b == nil {
			return errors.New("cache backend cannot be nil")
		}
		cfg.cacheBackend = b
		return nil
	}
}

// WithNotifier sets where alert emails and daily reports are delivered.
// Defaults to a notifier that only logs them.
func WithNotifier(n Notifier) Option {
	return func(cfg *monitorConfig) error {
		if n == nil {
			return errors.New("notifier cannot be nil")
		}
		cfg.notifier = n
		return nil
	}
}

// WithAuthenticator sets the token verifier for the API and the realtime hub.
func WithAuthenticator(a Authenticator) Option {
	return func(cfg *monitorConfig) error {
		if a == nil {
			return errors.New("authenticator cannot be nil")
		}
		cfg.authn = a
		return nil
	}
}

// WithJWTSecret authenticates clients with HS256 tokens signed by secret.
func WithJWTSecret(secret string) Option {
	return func(cfg *monitorConfig) error {
		v, err := auth.NewJWTVerifier(secret)
		if err != nil {
			return err
		}
		cfg.authn = v
		return nil
	}
}

// WithCheckInterval sets the time between check cycles.
//
// Defaults to 30 seconds. Returns an error if the interval is shorter than
// one second.
func WithCheckInterval(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d < time.Second {
			return errors.New("check interval must be at least 1s")
		}
		cfg.checkInterval = d
		return nil
	}
}

// WithProbeTimeout bounds each reachability probe. Defaults to 5 seconds.
func WithProbeTimeout(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("probe timeout must be positive")
		}
		cfg.probeTimeout = d
		return nil
	}
}

// WithWarningThreshold sets the response time above which a reachable
// device is reported as warning. Defaults to 1 second.
func WithWarningThreshold(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("warning threshold must be positive")
		}
		cfg.warningThreshold = d
		return nil
	}
}

// WithMaxConcurrency sets how many devices a check cycle probes at once.
//
// Defaults to 1: devices are checked one after another. Returns an error if
// the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *monitorConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithAlertRetention sets how long resolved alerts are kept before the
// nightly cleanup deletes them. Defaults to 30 days.
func WithAlertRetention(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d < time.Hour {
			return errors.New("alert retention must be at least 1h")
		}
		cfg.alertRetention = d
		return nil
	}
}

// WithLocation sets the time zone of the daily report and cleanup jobs.
// Defaults to local time.
func WithLocation(loc *time.Location) Option {
	return func(cfg *monitorConfig) error {
		if loc == nil {
			return errors.New("location cannot be nil")
		}
		cfg.location = loc
		return nil
	}
}

// WithAllowedOrigins restricts the browser origins accepted by the
// realtime endpoint. By default any origin is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(cfg *monitorConfig) error {
		cfg.allowedOrigins = append(cfg.allowedOrigins, origins...)
		return nil
	}
}

// WithPort sets the HTTP port for the API server.
//
// Defaults to 8080 if not specified. Port 0 picks a free port, which
// [Monitor.Addr] reports once started.
//
// Returns an error if the port is outside the valid range (0-65535).
func WithPort(port int) Option {
	return func(cfg *monitorConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Monitor instance.
//
// If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	m, err := pulsewatch.New(
//	    pulsewatch.WithJWTSecret(secret),
//	    pulsewatch.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *monitorConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTitle sets the instance title reported by the health endpoint.
//
// If not specified, defaults to "PulseWatch".
func WithTitle(title string) Option {
	return func(cfg *monitorConfig) error {
		cfg.title = title
		return nil
	}
}

// WithCheckCallback registers a function to be called after every device
// check, scheduled or manual.
//
// Multiple callbacks run in registration order. Callbacks must be
// non-blocking: they run on the checking goroutine. Panics within callbacks
// are recovered and logged.
//
// Example:
//
//	m, err := pulsewatch.New(
//	    pulsewatch.WithJWTSecret(secret),
//	    pulsewatch.WithCheckCallback(func(r model.CheckResult) {
//	        if r.Changed() {
//	            log.Printf("%s is now %s", r.Device.Name, r.Status)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithCheckCallback(cb func(model.CheckResult)) Option {
	return func(cfg *monitorConfig) error {
		if cb == nil {
			return nil // no-op for nil callback (safe to call)
		}
		cfg.checkCallbacks = append(cfg.checkCallbacks, cb)
		return nil
	}
}
