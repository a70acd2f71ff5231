package pulsewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jpalmerr/pulsewatch/internal/alerter"
	"github.com/jpalmerr/pulsewatch/internal/auth"
	"github.com/jpalmerr/pulsewatch/internal/cache"
	"github.com/jpalmerr/pulsewatch/internal/hub"
	"github.com/jpalmerr/pulsewatch/internal/monitor"
	"github.com/jpalmerr/pulsewatch/internal/notify"
	"github.com/jpalmerr/pulsewatch/internal/probe"
	"github.com/jpalmerr/pulsewatch/internal/scheduler"
	"github.com/jpalmerr/pulsewatch/internal/server"
	"github.com/jpalmerr/pulsewatch/internal/store"
	"github.com/jpalmerr/pulsewatch/model"
)

const (
	defaultCheckInterval    = 30 * time.Second
	defaultProbeTimeout     = 5 * time.Second
	defaultWarningThreshold = time.Second
	defaultPort             = 8080
	defaultMaxConcurrency   = 1

	statsInterval  = 10 * time.Second
	queueDrainWait = 10 * time.Second
)

// Job names registered by [Monitor.Start].
const (
	JobCheckCycle     = "check-cycle"
	JobStatsBroadcast = "stats-broadcast"
	JobDailyReport    = "daily-report"
	JobAlertCleanup   = "alert-cleanup"
)

// Store is the persistence layer for devices and alerts.
type Store = store.Store

// CacheBackend is a key/value store with TTLs used for read caching.
type CacheBackend = cache.Backend

// Notifier delivers alert emails and daily reports.
type Notifier = notify.Notifier

// Report is the daily fleet summary passed to a [Notifier].
type Report = notify.Report

// Authenticator verifies API and realtime tokens.
type Authenticator = auth.Authenticator

// Identity is the principal an [Authenticator] returns.
type Identity = auth.Identity

// Monitor is the main orchestrator for device checks, alerting and live
// updates.
//
// A Monitor is created using [New] with functional options and started with
// [Monitor.Start]. The engine and realtime hub are built once in New, so
// [Monitor.CheckDevice] and [Monitor.CheckAll] work without starting the
// scheduler or the server.
//
// The typical lifecycle is:
//
//	m, err := pulsewatch.New(
//	    pulsewatch.WithJWTSecret(secret),
//	    pulsewatch.WithDevice(model.Device{Name: "gw", Host: "10.0.0.1"}),
//	)
//	if err != nil {
//	    slog.Error("failed to create monitor", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	m.Start(ctx) // blocks until context cancelled
type Monitor struct {
	title          string
	port           int
	checkInterval  time.Duration
	alertRetention time.Duration
	location       *time.Location
	logger         *slog.Logger
	seeds          []model.Device

	store  Store
	authn  Authenticator
	prober *probe.Prober
	queue  *notify.Queue
	hub    *hub.Hub
	engine *monitor.Engine

	mu      sync.Mutex
	seeded  bool
	started bool
	server  *server.Server
}

// New creates a new [Monitor] instance with the given options.
//
// An authenticator must be configured via [WithAuthenticator] or
// [WithJWTSecret]. Other options have defaults:
//   - Store: in memory
//   - Cache: disabled
//   - Notifier: log only
//   - Check interval: 30 seconds
//   - Probe timeout: 5 seconds
//   - Warning threshold: 1 second
//   - Max concurrency: 1
//   - Alert retention: 30 days
//   - Port: 8080
//
// Returns an error if any option is invalid or device names repeat.
func New(opts ...Option) (*Monitor, error) {
	cfg := &monitorConfig{
		port:             defaultPort,
		checkInterval:    defaultCheckInterval,
		probeTimeout:     defaultProbeTimeout,
		warningThreshold: defaultWarningThreshold,
		maxConcurrency:   defaultMaxConcurrency,
		alertRetention:   monitor.DefaultAlertRetention,
		location:         time.Local,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.authn == nil {
		return nil, errors.New("an authenticator is required")
	}

	// the store upserts seeds by name
	seen := make(map[string]bool, len(cfg.devices))
	for _, d := range cfg.devices {
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate device name: %q", d.Name)
		}
		seen[d.Name] = true
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	st := cfg.store
	if st == nil {
		st = store.NewMemoryStore()
	}
	notifier := cfg.notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	queue := notify.NewQueue(notifier, notify.QueueConfig{
		OnAlertSent: st.MarkAlertEmailed,
		Logger:      logger,
	})
	h := hub.New(cfg.authn, hub.Config{AllowedOrigins: cfg.allowedOrigins}, logger)
	prober := probe.NewProber(probe.NewClient(), probe.NewICMPPinger(), cfg.probeTimeout)

	m := &Monitor{
		title:          cfg.title,
		port:           cfg.port,
		checkInterval:  cfg.checkInterval,
		alertRetention: cfg.alertRetention,
		location:       cfg.location,
		logger:         logger,
		seeds:          cfg.devices,
		store:          st,
		authn:          cfg.authn,
		prober:         prober,
		queue:          queue,
		hub:            h,
	}

	var onCheck func(model.CheckResult)
	if len(cfg.checkCallbacks) > 0 {
		callbacks := cfg.checkCallbacks
		onCheck = func(r model.CheckResult) {
			for _, cb := range callbacks {
				invokeCallbackSafe(cb, r, logger)
			}
		}
	}

	engine, err := monitor.New(monitor.Deps{
		Store:     st,
		Prober:    prober,
		Alerts:    alerter.NewManager(st, queue, h, logger),
		Cache:     cache.NewCoordinator(cfg.cacheBackend, logger),
		Publisher: h,
		Reporter:  queue,
	}, monitor.Config{
		WarningThreshold: cfg.warningThreshold,
		MaxConcurrency:   cfg.maxConcurrency,
		AlertRetention:   cfg.alertRetention,
		OnCheck:          onCheck,
	}, logger)
	if err != nil {
		return nil, err
	}
	m.engine = engine
	h.AttachSource(engine)

	return m, nil
}

// Start seeds the configured devices, starts the scheduler, the
// notification worker and the HTTP server, and blocks until ctx is
// cancelled.
//
// During execution:
//
//   - All active devices are checked immediately, then every check interval
//   - Aggregate stats are pushed to realtime clients every 10 seconds
//   - The daily report is queued at 09:00 and old alerts are purged at 03:00
//   - The API and realtime hub are served on the configured port
//
// Start may be called once. Returns nil on graceful shutdown. Returns an
// error if seeding fails or the HTTP server fails to start.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	if err := m.seed(ctx); err != nil {
		return err
	}

	m.logger.Info("pulsewatch starting", "seeded_devices", len(m.seeds))
	m.logger.Info("checks configured", "interval", m.checkInterval.String())

	sched := scheduler.New(m.location, m.logger)
	if err := m.registerJobs(sched); err != nil {
		return err
	}

	// the queue outlives ctx so pending emails drain during shutdown
	m.queue.Start(context.WithoutCancel(ctx))
	sched.Start(ctx)

	// cleanup stops producers before the queue so nothing is lost in between
	cleanup := func() {
		sched.Stop()
		m.hub.Close()
		drainCtx, cancel := context.WithTimeout(context.Background(), queueDrainWait)
		defer cancel()
		if err := m.queue.Stop(drainCtx); err != nil {
			m.logger.Warn("notification queue stopped early", "error", err, "dropped", m.queue.Dropped())
		}
		m.prober.Close()
	}

	srv := server.NewServer(m.engine, m.authn, m.hub, m.port, m.title, m.logger)
	if err := srv.Start(ctx); err != nil {
		cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	<-ctx.Done()
	cleanup()
	m.logger.Info("pulsewatch stopped")
	return nil
}

func (m *Monitor) registerJobs(s *scheduler.Scheduler) error {
	jobs := []scheduler.Job{
		{
			Name:       JobCheckCycle,
			Interval:   m.checkInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				if _, err := m.engine.CheckAll(ctx); err != nil {
					return err
				}
				return m.engine.BroadcastStats(ctx)
			},
		},
		{
			Name:     JobStatsBroadcast,
			Interval: statsInterval,
			Run:      m.engine.BroadcastStats,
		},
		{
			Name:   JobDailyReport,
			Hour:   9,
			Minute: 0,
			Run:    m.engine.DailyReport,
		},
		{
			Name:   JobAlertCleanup,
			Hour:   3,
			Minute: 0,
			Run: func(ctx context.Context) error {
				_, err := m.engine.CleanupAlerts(ctx)
				return err
			},
		},
	}
	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// seed upserts the configured devices once.
func (m *Monitor) seed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seeded {
		return nil
	}
	for _, d := range m.seeds {
		if _, err := m.store.UpsertDevice(ctx, d); err != nil {
			return fmt.Errorf("seed device %q: %w", d.Name, err)
		}
	}
	m.seeded = true
	return nil
}

// CheckDevice probes one device and records the outcome, including any
// alert and live update it causes. Only d.ID is used; the rest of the
// device is read from the store.
func (m *Monitor) CheckDevice(ctx context.Context, d model.Device) (model.CheckResult, error) {
	return m.engine.CheckDevice(ctx, d)
}

// CheckAll runs one check cycle over every active device, seeding the
// configured devices first if needed.
//
// Results are in store order. Devices that fail to persist are logged and
// omitted.
func (m *Monitor) CheckAll(ctx context.Context) ([]model.CheckResult, error) {
	if err := m.seed(ctx); err != nil {
		return nil, err
	}
	return m.engine.CheckAll(ctx)
}

// Devices returns the devices matching filter.
func (m *Monitor) Devices(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error) {
	if err := m.seed(ctx); err != nil {
		return nil, err
	}
	return m.engine.Devices(ctx, filter)
}

// Stats returns the aggregate device and alert counts.
func (m *Monitor) Stats(ctx context.Context) (model.Stats, error) {
	return m.engine.Stats(ctx)
}

// Addr returns the HTTP server address, or nil before the server starts.
func (m *Monitor) Addr() net.Addr {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Addr()
}

// Port returns the configured HTTP port.
func (m *Monitor) Port() int {
	return m.port
}

// CheckInterval returns the configured time between check cycles.
func (m *Monitor) CheckInterval() time.Duration {
	return m.checkInterval
}

// invokeCallbackSafe calls a check callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(model.CheckResult), result model.CheckResult, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("check callback panicked",
				"panic", r,
				"device", result.Device.Name,
			)
		}
	}()
	cb(result)
}
