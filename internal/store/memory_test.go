package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

func seedDevice(t *testing.T, s *MemoryStore, name string, active bool) model.Device {
	t.Helper()
	d, err := s.UpsertDevice(context.Background(), model.Device{
		Name:     name,
		Host:     "10.0.0.1",
		Type:     model.TypeServer,
		IsActive: active,
	})
	if err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	return d
}

func TestNewMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	if s == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	devices, err := s.ListDevices(context.Background(), model.DeviceFilter{})
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("ListDevices() = %v items, want 0", len(devices))
	}
}

func TestMemoryStore_UpsertDevice(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	d := seedDevice(t, s, "web-1", true)
	if d.ID != 1 {
		t.Errorf("ID = %d, want 1", d.ID)
	}
	if d.Status != model.StatusUnknown {
		t.Errorf("Status = %v, want %v", d.Status, model.StatusUnknown)
	}

	// same name updates in place and keeps health fields
	d.Status = model.StatusOnline
	if err := s.SaveDevice(ctx, d); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}
	updated, err := s.UpsertDevice(ctx, model.Device{Name: "web-1", Host: "10.0.0.2", IsActive: true})
	if err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if updated.ID != d.ID {
		t.Errorf("UpsertDevice() ID = %d, want %d", updated.ID, d.ID)
	}
	if updated.Host != "10.0.0.2" {
		t.Errorf("Host = %v, want 10.0.0.2", updated.Host)
	}
	if updated.Status != model.StatusOnline {
		t.Errorf("Status = %v, want %v", updated.Status, model.StatusOnline)
	}
}

func TestMemoryStore_SaveDeviceHealthOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	stale := seedDevice(t, s, "web-1", true)
	if _, err := s.UpsertDevice(ctx, model.Device{Name: "web-1", Host: "10.0.0.9", CheckURL: "http://10.0.0.9/health", IsActive: false}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}

	rt := int64(42)
	checked := time.Now()
	lastErr := "timeout"
	stale.Status = model.StatusWarning
	stale.ResponseTimeMs = &rt
	stale.LastCheckedAt = &checked
	stale.ConsecutiveFailures = 3
	stale.LastError = &lastErr
	if err := s.SaveDevice(ctx, stale); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}

	got, _ := s.FindDevice(ctx, stale.ID)
	if got.Host != "10.0.0.9" || got.CheckURL != "http://10.0.0.9/health" || got.IsActive {
		t.Errorf("config fields reverted: host %q url %q active %v", got.Host, got.CheckURL, got.IsActive)
	}
	if got.Status != model.StatusWarning || got.ConsecutiveFailures != 3 {
		t.Errorf("Status = %v failures %d, want warning 3", got.Status, got.ConsecutiveFailures)
	}
	if got.ResponseTimeMs == nil || *got.ResponseTimeMs != 42 {
		t.Errorf("ResponseTimeMs = %v, want 42", got.ResponseTimeMs)
	}
	if got.LastCheckedAt == nil || got.LastError == nil || *got.LastError != "timeout" {
		t.Errorf("LastCheckedAt = %v LastError = %v", got.LastCheckedAt, got.LastError)
	}
}

func TestMemoryStore_FindActiveDevices(t *testing.T) {
	s := NewMemoryStore()
	seedDevice(t, s, "a", true)
	seedDevice(t, s, "b", false)
	seedDevice(t, s, "c", true)

	devices, err := s.FindActiveDevices(context.Background())
	if err != nil {
		t.Fatalf("FindActiveDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("FindActiveDevices() = %v items, want 2", len(devices))
	}
	if devices[0].Name != "a" || devices[1].Name != "c" {
		t.Errorf("FindActiveDevices() order = %v, %v", devices[0].Name, devices[1].Name)
	}
}

func TestMemoryStore_FindDeviceNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.FindDevice(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FindDevice() error = %v, want ErrNotFound", err)
	}

	err = s.SaveDevice(context.Background(), model.Device{ID: 42})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveDevice() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_AlertLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	d := seedDevice(t, s, "db-1", true)
	now := time.Now()

	first, err := s.CreateAlert(ctx, model.Alert{DeviceID: d.ID, Level: model.LevelDisaster, Timestamp: now})
	if err != nil {
		t.Fatalf("CreateAlert() error = %v", err)
	}
	second, _ := s.CreateAlert(ctx, model.Alert{DeviceID: d.ID, Level: model.LevelWarning, Timestamp: now})
	if first.ID == second.ID {
		t.Fatalf("CreateAlert() reused ID %d", first.ID)
	}

	unresolved, _ := s.FindUnresolvedAlerts(ctx, d.ID)
	if len(unresolved) != 2 {
		t.Fatalf("FindUnresolvedAlerts() = %v items, want 2", len(unresolved))
	}

	if err := s.ResolveAlert(ctx, first.ID, now); err != nil {
		t.Fatalf("ResolveAlert() error = %v", err)
	}
	if err := s.ResolveAlert(ctx, first.ID, now); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Errorf("ResolveAlert() twice error = %v, want ErrAlreadyResolved", err)
	}
	if err := s.ResolveAlert(ctx, 99, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveAlert(99) error = %v, want ErrNotFound", err)
	}

	count, _ := s.CountUnresolvedAlerts(ctx)
	if count != 1 {
		t.Errorf("CountUnresolvedAlerts() = %d, want 1", count)
	}

	if err := s.MarkAlertEmailed(ctx, second.ID); err != nil {
		t.Fatalf("MarkAlertEmailed() error = %v", err)
	}
	recent, _ := s.RecentAlerts(ctx, 1)
	if len(recent) != 1 || recent[0].ID != second.ID || !recent[0].EmailSent {
		t.Errorf("RecentAlerts(1) = %+v, want emailed alert %d", recent, second.ID)
	}

	// resolved alerts stay as they were
	if err := s.MarkAlertEmailed(ctx, first.ID); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Errorf("MarkAlertEmailed(resolved) error = %v, want ErrAlreadyResolved", err)
	}
	all, _ := s.RecentAlerts(ctx, 0)
	for _, a := range all {
		if a.ID == first.ID && a.EmailSent {
			t.Error("resolved alert was marked emailed")
		}
	}
}

func TestMemoryStore_CreateAlertUnknownDevice(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.CreateAlert(context.Background(), model.Alert{DeviceID: 7})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateAlert() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_DeleteResolvedAlertsBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	d := seedDevice(t, s, "sw-1", true)
	now := time.Now()

	old, _ := s.CreateAlert(ctx, model.Alert{DeviceID: d.ID, Timestamp: now})
	fresh, _ := s.CreateAlert(ctx, model.Alert{DeviceID: d.ID, Timestamp: now})
	s.CreateAlert(ctx, model.Alert{DeviceID: d.ID, Timestamp: now})

	s.ResolveAlert(ctx, old.ID, now.Add(-40*24*time.Hour))
	s.ResolveAlert(ctx, fresh.ID, now.Add(-time.Hour))

	removed, err := s.DeleteResolvedAlertsBefore(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteResolvedAlertsBefore() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteResolvedAlertsBefore() = %d, want 1", removed)
	}

	recent, _ := s.RecentAlerts(ctx, 0)
	if len(recent) != 2 {
		t.Errorf("RecentAlerts() = %v items, want 2", len(recent))
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	d := seedDevice(t, s, "pc-1", true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			dev, _ := s.FindDevice(ctx, d.ID)
			dev.ConsecutiveFailures++
			s.SaveDevice(ctx, dev)
		}()
		go func() {
			defer wg.Done()
			s.CreateAlert(ctx, model.Alert{DeviceID: d.ID})
			s.ListDevices(ctx, model.DeviceFilter{})
		}()
	}
	wg.Wait()

	count, _ := s.CountUnresolvedAlerts(ctx)
	if count != 50 {
		t.Errorf("CountUnresolvedAlerts() = %d, want 50", count)
	}
}
