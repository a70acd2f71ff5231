package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

const (
	// DeviceListTTL bounds how stale a filtered device listing can be.
	DeviceListTTL = 30 * time.Second

	// DeviceTTL bounds how stale a single device can be.
	DeviceTTL = 60 * time.Second

	// StatsTTL bounds how stale the aggregate stats can be. Stats are not
	// invalidated on mutation.
	StatsTTL = 10 * time.Second

	// StatsKey holds the global aggregate stats.
	StatsKey = "stats:global"

	deviceListPattern = "devices:list:*"
)

// DeviceListKey returns the cache key for a filtered device listing.
func DeviceListKey(f model.DeviceFilter) string {
	return fmt.Sprintf("devices:list:%s:%s:%s", f.Status, f.Type, f.Search)
}

// DeviceKey returns the cache key for a single device.
func DeviceKey(id int64) string {
	return fmt.Sprintf("devices:%d", id)
}

// Coordinator implements the read-through and invalidation rules on top of a
// [Backend]. Backend failures are logged and absorbed: reads fall through to
// the loader and writes are dropped.
type Coordinator struct {
	backend Backend
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator. A nil backend disables caching.
func NewCoordinator(backend Backend, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{backend: backend, logger: logger}
}

// Enabled reports whether a backend is configured.
func (c *Coordinator) Enabled() bool {
	return c.backend != nil
}

// Devices returns the cached listing for filter, or calls load and caches its result.
func (c *Coordinator) Devices(ctx context.Context, filter model.DeviceFilter, load func(context.Context) ([]model.Device, error)) ([]model.Device, error) {
	return readThrough(ctx, c, DeviceListKey(filter), DeviceListTTL, load)
}

// Device returns the cached device, or calls load and caches its result.
func (c *Coordinator) Device(ctx context.Context, id int64, load func(context.Context) (model.Device, error)) (model.Device, error) {
	return readThrough(ctx, c, DeviceKey(id), DeviceTTL, load)
}

// Stats returns the cached stats, or calls load and caches its result.
func (c *Coordinator) Stats(ctx context.Context, load func(context.Context) (model.Stats, error)) (model.Stats, error) {
	return readThrough(ctx, c, StatsKey, StatsTTL, load)
}

// InvalidateDevice drops the device's key and every cached listing. It must
// be called after any write that changes a device.
func (c *Coordinator) InvalidateDevice(ctx context.Context, id int64) {
	if c.backend == nil {
		return
	}
	if err := c.backend.Del(ctx, DeviceKey(id)); err != nil {
		c.logger.Warn("cache invalidation failed", "key", DeviceKey(id), "error", err)
	}
	if err := c.backend.DeletePattern(ctx, deviceListPattern); err != nil {
		c.logger.Warn("cache invalidation failed", "pattern", deviceListPattern, "error", err)
	}
}

func readThrough[T any](ctx context.Context, c *Coordinator, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c.backend == nil {
		return load(ctx)
	}

	data, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	case errors.Is(err, ErrMiss):
		c.logger.Debug("cache miss", "key", key)
	default:
		c.logger.Warn("cache read failed", "key", key, "error", err)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return v, nil
	}
	if err := c.backend.Set(ctx, key, encoded, ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return v, nil
}
