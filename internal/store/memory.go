package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

// MemoryStore is an in-memory implementation of [Store].
//
// Devices are keyed by ID and alerts are kept in creation order, so the
// newest alert is always last. Data does not survive a restart.
type MemoryStore struct {
	mu           sync.RWMutex
	devices      map[int64]model.Device
	alerts       []model.Alert
	nextDeviceID int64
	nextAlertID  int64
	now          func() time.Time
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[int64]model.Device),
		now:     time.Now,
	}
}

// UpsertDevice inserts d, or updates the device that already has d's name.
func (m *MemoryStore) UpsertDevice(_ context.Context, d model.Device) (model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, existing := range m.devices {
		if existing.Name != d.Name {
			continue
		}
		existing.Host = d.Host
		existing.Type = d.Type
		existing.CheckURL = d.CheckURL
		existing.Port = d.Port
		existing.Description = d.Description
		existing.IsActive = d.IsActive
		existing.UpdatedAt = now
		m.devices[id] = existing
		return existing, nil
	}

	m.nextDeviceID++
	d.ID = m.nextDeviceID
	if d.Status == "" {
		d.Status = model.StatusUnknown
	}
	if d.Type == "" {
		d.Type = model.TypeOther
	}
	d.CreatedAt = now
	d.UpdatedAt = now
	m.devices[d.ID] = d
	return d, nil
}

// ListDevices returns a snapshot of the devices matching filter.
func (m *MemoryStore) ListDevices(_ context.Context, filter model.DeviceFilter) ([]model.Device, error) {
	return m.collect(filter.Matches), nil
}

// FindActiveDevices returns a snapshot of the active devices.
func (m *MemoryStore) FindActiveDevices(_ context.Context) ([]model.Device, error) {
	return m.collect(func(d model.Device) bool { return d.IsActive }), nil
}

func (m *MemoryStore) collect(keep func(model.Device) bool) []model.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]model.Device, 0, len(m.devices))
	for _, d := range m.devices {
		if keep(d) {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// FindDevice returns the device with the given ID.
func (m *MemoryStore) FindDevice(_ context.Context, id int64) (model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	return d, nil
}

// SaveDevice copies the health fields of d onto the stored device.
// Configuration fields are left as stored.
func (m *MemoryStore) SaveDevice(_ context.Context, d model.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.devices[d.ID]
	if !ok {
		return fmt.Errorf("device %d: %w", d.ID, ErrNotFound)
	}
	existing.Status = d.Status
	existing.ResponseTimeMs = d.ResponseTimeMs
	existing.LastCheckedAt = d.LastCheckedAt
	existing.ConsecutiveFailures = d.ConsecutiveFailures
	existing.LastError = d.LastError
	existing.UpdatedAt = m.now()
	m.devices[d.ID] = existing
	return nil
}

// CreateAlert appends a and assigns it the next ID.
func (m *MemoryStore) CreateAlert(_ context.Context, a model.Alert) (model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[a.DeviceID]; !ok {
		return model.Alert{}, fmt.Errorf("device %d: %w", a.DeviceID, ErrNotFound)
	}
	m.nextAlertID++
	a.ID = m.nextAlertID
	m.alerts = append(m.alerts, a)
	return a, nil
}

// FindUnresolvedAlerts returns the unresolved alerts of deviceID.
func (m *MemoryStore) FindUnresolvedAlerts(_ context.Context, deviceID int64) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts []model.Alert
	for _, a := range m.alerts {
		if a.DeviceID == deviceID && !a.Resolved {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

// ResolveAlert marks the alert resolved at the given time.
func (m *MemoryStore) ResolveAlert(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, err := m.alertIndex(id)
	if err != nil {
		return err
	}
	return m.alerts[i].Resolve(at)
}

// MarkAlertEmailed sets EmailSent on the alert. A resolved alert is left
// unchanged and [model.ErrAlreadyResolved] is returned.
func (m *MemoryStore) MarkAlertEmailed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, err := m.alertIndex(id)
	if err != nil {
		return err
	}
	if m.alerts[i].Resolved {
		return model.ErrAlreadyResolved
	}
	m.alerts[i].EmailSent = true
	return nil
}

// alertIndex must be called with mu held.
func (m *MemoryStore) alertIndex(id int64) (int, error) {
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("alert %d: %w", id, ErrNotFound)
}

// RecentAlerts returns up to limit alerts, newest first.
func (m *MemoryStore) RecentAlerts(_ context.Context, limit int) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	alerts := make([]model.Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(alerts) < limit; i-- {
		alerts = append(alerts, m.alerts[i])
	}
	return alerts, nil
}

// CountUnresolvedAlerts counts alerts that are not resolved.
func (m *MemoryStore) CountUnresolvedAlerts(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n, nil
}

// DeleteResolvedAlertsBefore drops resolved alerts resolved before cutoff.
func (m *MemoryStore) DeleteResolvedAlertsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alerts[:0]
	var removed int64
	for _, a := range m.alerts {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	return removed, nil
}
