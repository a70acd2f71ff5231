package store

import (
	"context"
	"errors"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

// ErrNotFound is returned when a device or alert does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations used by the monitoring engine.
//
// Store implementations must be safe for concurrent access. Every method
// takes a context because persistence is one of the suspension points of a
// check cycle.
type Store interface {
	// UpsertDevice inserts a device or updates the configured fields of an
	// existing device with the same name. Health fields of an existing device
	// are left untouched. Used for seeding from configuration.
	UpsertDevice(ctx context.Context, d model.Device) (model.Device, error)

	// ListDevices returns devices matching the filter ordered by ID.
	ListDevices(ctx context.Context, filter model.DeviceFilter) ([]model.Device, error)

	// FindActiveDevices returns devices with IsActive set, ordered by ID.
	FindActiveDevices(ctx context.Context) ([]model.Device, error)

	// FindDevice returns the device with the given ID or [ErrNotFound].
	FindDevice(ctx context.Context, id int64) (model.Device, error)

	// SaveDevice persists the health fields of an existing device.
	SaveDevice(ctx context.Context, d model.Device) error

	// CreateAlert stores a new alert and returns it with its assigned ID.
	CreateAlert(ctx context.Context, a model.Alert) (model.Alert, error)

	// FindUnresolvedAlerts returns the unresolved alerts of a device, oldest first.
	FindUnresolvedAlerts(ctx context.Context, deviceID int64) ([]model.Alert, error)

	// ResolveAlert marks an alert resolved. Resolving an already resolved
	// alert returns [model.ErrAlreadyResolved].
	ResolveAlert(ctx context.Context, id int64, at time.Time) error

	// MarkAlertEmailed records that the alert email was delivered. A resolved
	// alert is not modified and [model.ErrAlreadyResolved] is returned.
	MarkAlertEmailed(ctx context.Context, id int64) error

	// RecentAlerts returns up to limit alerts, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)

	// CountUnresolvedAlerts returns the number of unresolved alerts.
	CountUnresolvedAlerts(ctx context.Context) (int, error)

	// DeleteResolvedAlertsBefore removes resolved alerts whose resolution
	// time is before cutoff and returns how many were removed.
	DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
