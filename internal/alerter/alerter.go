// Package alerter turns device status transitions into alerts.
//
// [Decide] is the pure transition rule. [Manager] applies it: it persists
// the alert, queues the email, broadcasts the event and, on recovery,
// resolves every open alert of the device.
package alerter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

const (
	MessageUnreachable = "Device is unreachable"
	MessageRecovered   = "Device is back online"
)

// Decision is the alert a transition calls for. The zero value means no alert.
type Decision struct {
	Create     bool
	Level      model.AlertLevel
	Message    string
	ResolveAll bool
}

// Decide applies the alert rules to a status transition:
//
//	online → offline              disaster, "Device is unreachable"
//	any → warning (not from warning) warning, "High response time: <n>ms"
//	offline|warning → online      information, "Device is back online", resolve all
//
// Every other transition, including most from unknown, raises nothing.
func Decide(previous, next model.Status, responseTimeMs *int64) Decision {
	switch {
	case previous == model.StatusOnline && next == model.StatusOffline:
		return Decision{Create: true, Level: model.LevelDisaster, Message: MessageUnreachable}

	case next == model.StatusWarning && previous != model.StatusWarning:
		var rt int64
		if responseTimeMs != nil {
			rt = *responseTimeMs
		}
		return Decision{Create: true, Level: model.LevelWarning, Message: fmt.Sprintf("High response time: %dms", rt)}

	case next == model.StatusOnline && previous.Adverse():
		return Decision{Create: true, Level: model.LevelInformation, Message: MessageRecovered, ResolveAll: true}
	}
	return Decision{}
}

// Store is the persistence the manager needs.
type Store interface {
	CreateAlert(ctx context.Context, a model.Alert) (model.Alert, error)
	FindUnresolvedAlerts(ctx context.Context, deviceID int64) ([]model.Alert, error)
	ResolveAlert(ctx context.Context, id int64, at time.Time) error
}

// Dispatcher queues alert emails for background delivery.
type Dispatcher interface {
	EnqueueAlert(alert model.Alert, device model.Device) bool
}

// Broadcaster publishes new alerts to live observers.
type Broadcaster interface {
	BroadcastAlert(alert model.Alert)
}

// Manager applies [Decide] and carries out its side effects.
type Manager struct {
	store       Store
	dispatcher  Dispatcher
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager creates a manager. dispatcher and broadcaster may be nil.
func NewManager(store Store, dispatcher Dispatcher, broadcaster Broadcaster, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:       store,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle evaluates the transition of device from previous to its current
// status and returns the created alert, or nil when none was due.
//
// Only a failure to persist the alert is returned. Email, broadcast and
// resolution failures are logged and never undo the alert.
func (m *Manager) Handle(ctx context.Context, device model.Device, previous model.Status) (*model.Alert, error) {
	d := Decide(previous, device.Status, device.ResponseTimeMs)
	if !d.Create {
		return nil, nil
	}

	now := m.now()
	alert, err := m.store.CreateAlert(ctx, model.Alert{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Message:    d.Message,
		Level:      d.Level,
		Timestamp:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s alert for device %d: %w", d.Level, device.ID, err)
	}

	m.logger.Info("alert raised",
		"alert_id", alert.ID,
		"device_id", device.ID,
		"device", device.Name,
		"level", alert.Level,
		"message", alert.Message,
	)

	if alert.Level.Notifies() && m.dispatcher != nil {
		if !m.dispatcher.EnqueueAlert(alert, device) {
			m.logger.Warn("alert email not queued", "alert_id", alert.ID)
		}
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastAlert(alert)
	}

	if d.ResolveAll {
		m.resolveAll(ctx, device.ID, now)
	}
	return &alert, nil
}

func (m *Manager) resolveAll(ctx context.Context, deviceID int64, at time.Time) {
	open, err := m.store.FindUnresolvedAlerts(ctx, deviceID)
	if err != nil {
		m.logger.Error("failed to load unresolved alerts", "device_id", deviceID, "error", err)
		return
	}

	resolved := 0
	for _, a := range open {
		err := m.store.ResolveAlert(ctx, a.ID, at)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, model.ErrAlreadyResolved):
		default:
			m.logger.Error("failed to resolve alert", "alert_id", a.ID, "device_id", deviceID, "error", err)
		}
	}
	m.logger.Debug("resolved alerts", "device_id", deviceID, "count", resolved)
}
