// Package monitor runs device checks and the engine's periodic work.
//
// A check probes one device, derives its new status, persists it, and then
// fans out the side effects: alerting, cache invalidation and a live device
// update. The status write comes first; the remaining effects are
// best-effort and a failure in one of them never undoes the write.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpalmerr/pulsewatch/internal/alerter"
	"github.com/jpalmerr/pulsewatch/internal/cache"
	"github.com/jpalmerr/pulsewatch/internal/evaluator"
	"github.com/jpalmerr/pulsewatch/internal/notify"
	"github.com/jpalmerr/pulsewatch/internal/probe"
	"github.com/jpalmerr/pulsewatch/internal/store"
	"github.com/jpalmerr/pulsewatch/model"
)

const (
	// DefaultAlertRetention is how long resolved alerts are kept.
	DefaultAlertRetention = 30 * 24 * time.Hour

	reportAlertLimit = 20
)

// Prober checks the reachability of one device.
type Prober interface {
	Probe(ctx context.Context, d model.Device) probe.Result
}

// Publisher pushes live updates to connected observers.
type Publisher interface {
	SendDeviceUpdate(deviceID int64, payload any) int
	BroadcastStats(stats model.Stats)
}

// Reporter queues the daily report for delivery.
type Reporter interface {
	EnqueueReport(report notify.Report) bool
}

// Deps are the collaborators of an [Engine]. Store, Prober and Alerts are
// required; the rest may be nil.
type Deps struct {
	Store     store.Store
	Prober    Prober
	Alerts    *alerter.Manager
	Cache     *cache.Coordinator
	Publisher Publisher
	Reporter  Reporter
}

// Config tunes an [Engine]. Zero fields take defaults.
type Config struct {
	WarningThreshold time.Duration
	MaxConcurrency   int
	AlertRetention   time.Duration

	// OnCheck is called after every completed device check.
	OnCheck func(model.CheckResult)
}

// Engine checks devices and serves the read side of the monitoring state.
type Engine struct {
	store     store.Store
	prober    Prober
	alerts    *alerter.Manager
	cache     *cache.Coordinator
	publisher Publisher
	reporter  Reporter
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	locks deviceLocks
}

// New creates an engine.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	if deps.Prober == nil {
		return nil, errors.New("monitor: prober is required")
	}
	if deps.Alerts == nil {
		return nil, errors.New("monitor: alert manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewCoordinator(nil, logger)
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = evaluator.DefaultWarningThreshold
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.AlertRetention <= 0 {
		cfg.AlertRetention = DefaultAlertRetention
	}

	return &Engine{
		store:     deps.Store,
		prober:    deps.Prober,
		alerts:    deps.Alerts,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		reporter:  deps.Reporter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		locks:     deviceLocks{held: make(map[int64]*deviceLock)},
	}, nil
}

// CheckDevice probes the device identified by d.ID and records the outcome.
//
// Checks of the same device are serialized, and each one starts from the
// stored record rather than from d, so a check queued behind another sees
// its result.
//
// Only a failure to load or persist the device is returned. Alerting, cache
// and broadcast failures are logged.
func (e *Engine) CheckDevice(ctx context.Context, d model.Device) (model.CheckResult, error) {
	id := d.ID
	unlock := e.locks.lock(id)
	defer unlock()

	stored, err := e.store.FindDevice(ctx, id)
	if err != nil {
		return model.CheckResult{}, fmt.Errorf("failed to load device %d: %w", id, err)
	}
	return e.check(ctx, stored)
}

func (e *Engine) check(ctx context.Context, d model.Device) (model.CheckResult, error) {
	result := e.prober.Probe(ctx, d)
	outcome := evaluator.Apply(&d, result, e.cfg.WarningThreshold, e.now())

	if err := e.store.SaveDevice(ctx, d); err != nil {
		return model.CheckResult{}, fmt.Errorf("failed to save device %d: %w", d.ID, err)
	}

	logArgs := []any{
		"device_id", d.ID,
		"device", d.Name,
		"status", d.Status,
		"previous_status", outcome.PreviousStatus,
	}
	if d.ResponseTimeMs != nil {
		logArgs = append(logArgs, "response_time_ms", *d.ResponseTimeMs)
	}
	if !result.Success {
		logArgs = append(logArgs, "error_kind", result.ErrorKind, "error", result.Err)
	}
	e.logger.Debug("device checked", logArgs...)

	if _, err := e.alerts.Handle(ctx, d, outcome.PreviousStatus); err != nil {
		e.logger.Error("alert handling failed", "device_id", d.ID, "error", err)
	}

	e.cache.InvalidateDevice(ctx, d.ID)

	if e.publisher != nil {
		e.publisher.SendDeviceUpdate(d.ID, d)
	}

	checked := model.CheckResult{
		Device:         d,
		Status:         outcome.Status,
		ResponseTimeMs: outcome.ResponseTimeMs,
		PreviousStatus: outcome.PreviousStatus,
	}
	e.notifyCheck(checked)
	return checked, nil
}

// CheckDeviceByID checks a device, active or not.
func (e *Engine) CheckDeviceByID(ctx context.Context, id int64) (model.CheckResult, error) {
	return e.CheckDevice(ctx, model.Device{ID: id})
}

// CheckAll checks every active device once and returns the results in
// device order. A device whose check fails is logged and left out; the
// cycle continues with the next one.
//
// With MaxConcurrency above one, devices are spread across a bounded
// worker pool. Each device is still checked by exactly one worker.
func (e *Engine) CheckAll(ctx context.Context) ([]model.CheckResult, error) {
	start := e.now()
	devices, err := e.store.FindActiveDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active devices: %w", err)
	}

	slots := make([]*model.CheckResult, len(devices))
	workers := min(e.cfg.MaxConcurrency, len(devices))

	if workers <= 1 {
		for i, d := range devices {
			if ctx.Err() != nil {
				break
			}
			slots[i] = e.checkOne(ctx, d)
		}
	} else {
		jobs := make(chan int, len(devices))
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					if ctx.Err() != nil {
						return
					}
					slots[i] = e.checkOne(ctx, devices[i])
				}
			}()
		}
		// buffered for every device, so sends never wait on a worker
		for i := range devices {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	results := make([]model.CheckResult, 0, len(devices))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}

	e.logger.Info("check cycle complete",
		"devices", len(devices),
		"checked", len(results),
		"failed", len(devices)-len(results),
		"duration", e.now().Sub(start),
	)
	return results, ctx.Err()
}

// checkOne checks d, logging instead of returning failures. A panic inside
// a check is contained to that device.
func (e *Engine) checkOne(ctx context.Context, d model.Device) (res *model.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			e.logger.Error("device check panic",
				"device_id", d.ID,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			res = nil
		}
	}()

	r, err := e.CheckDevice(ctx, d)
	if err != nil {
		e.logger.Error("device check failed", "device_id", d.ID, "device", d.Name, "error", err)
		return nil
	}
	return &r
}

func (e *Engine) notifyCheck(r model.CheckResult) {
	if e.cfg.OnCheck == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("check callback panic", "device_id", r.Device.ID, "panic", fmt.Sprintf("%v", p))
		}
	}()
	e.cfg.OnCheck(r)
}

// Devices lists devices matching filter through the cache.
func (e *Engine) Devices(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error) {
	return e.cache.Devices(ctx, filter, func(ctx context.Context) ([]model.Device, error) {
		return e.store.ListDevices(ctx, filter)
	})
}

// Device returns one device through the cache.
func (e *Engine) Device(ctx context.Context, id int64) (model.Device, error) {
	return e.cache.Device(ctx, id, func(ctx context.Context) (model.Device, error) {
		return e.store.FindDevice(ctx, id)
	})
}

// Stats returns aggregate counts through the cache.
func (e *Engine) Stats(ctx context.Context) (model.Stats, error) {
	return e.cache.Stats(ctx, e.computeStats)
}

// RecentAlerts returns up to limit alerts, newest first.
func (e *Engine) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return e.store.RecentAlerts(ctx, limit)
}

func (e *Engine) computeStats(ctx context.Context) (model.Stats, error) {
	devices, err := e.store.ListDevices(ctx, model.DeviceFilter{})
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to list devices: %w", err)
	}
	active, err := e.store.CountUnresolvedAlerts(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to count alerts: %w", err)
	}
	return model.ComputeStats(devices, active, e.now()), nil
}

// BroadcastStats recomputes the aggregate counts, bypassing the cache, and
// pushes them to every observer.
func (e *Engine) BroadcastStats(ctx context.Context) error {
	stats, err := e.computeStats(ctx)
	if err != nil {
		return err
	}
	if e.publisher != nil {
		e.publisher.BroadcastStats(stats)
	}
	return nil
}

// BuildReport assembles the daily summary.
func (e *Engine) BuildReport(ctx context.Context) (notify.Report, error) {
	stats, err := e.computeStats(ctx)
	if err != nil {
		return notify.Report{}, err
	}
	offline, err := e.store.ListDevices(ctx, model.DeviceFilter{Status: model.StatusOffline})
	if err != nil {
		return notify.Report{}, fmt.Errorf("failed to list offline devices: %w", err)
	}
	warning, err := e.store.ListDevices(ctx, model.DeviceFilter{Status: model.StatusWarning})
	if err != nil {
		return notify.Report{}, fmt.Errorf("failed to list warning devices: %w", err)
	}
	alerts, err := e.store.RecentAlerts(ctx, reportAlertLimit)
	if err != nil {
		return notify.Report{}, fmt.Errorf("failed to list recent alerts: %w", err)
	}
	return notify.Report{
		GeneratedAt:  stats.GeneratedAt,
		Stats:        stats,
		Offline:      offline,
		Warning:      warning,
		RecentAlerts: alerts,
	}, nil
}

// DailyReport builds the daily summary and queues it for delivery.
func (e *Engine) DailyReport(ctx context.Context) error {
	report, err := e.BuildReport(ctx)
	if err != nil {
		return err
	}
	if e.reporter == nil {
		e.logger.Info("daily report built, no reporter configured", "total", report.Stats.Total, "offline", report.Stats.Offline)
		return nil
	}
	if !e.reporter.EnqueueReport(report) {
		return errors.New("daily report not queued")
	}
	return nil
}

// CleanupAlerts deletes resolved alerts older than the retention period.
func (e *Engine) CleanupAlerts(ctx context.Context) (int64, error) {
	cutoff := e.now().Add(-e.cfg.AlertRetention)
	n, err := e.store.DeleteResolvedAlertsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	e.logger.Info("resolved alerts cleaned up", "deleted", n, "cutoff", cutoff)
	return n, nil
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// deviceLocks hands out one mutex per device id. Entries are dropped once
// no check holds or waits on them.
type deviceLocks struct {
	mu   sync.Mutex
	held map[int64]*deviceLock
}

func (l *deviceLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	dl, ok := l.held[id]
	if !ok {
		dl = &deviceLock{}
		l.held[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}
