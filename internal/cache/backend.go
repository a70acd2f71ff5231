// Package cache keeps the read cache coherent with device state.
//
// The [Coordinator] owns the key scheme and the invalidation discipline:
// every device mutation drops the device's own key and every cached list.
// Aggregate stats are cached with a short TTL and never invalidated.
//
// Backends are pluggable. [RedisBackend] is used when a Redis address is
// configured; [MemoryBackend] serves single-process deployments and tests.
// A nil backend turns the coordinator into a pass-through.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrMiss is returned by [Backend.Get] when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a byte-oriented key/value store with per-key TTLs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// DeletePattern removes every key matching a glob pattern such as
	// "devices:list:*".
	DeletePattern(ctx context.Context, pattern string) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is an in-process [Backend]. Expired entries are dropped
// lazily on read.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryBackend) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryBackend) DeletePattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.entries {
		if globMatch(pattern, k) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Keys returns the live keys, for inspection in tests and debugging.
func (m *MemoryBackend) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// globMatch reports whether s matches pattern, where '*' matches any run of
// characters, including separators, as in Redis.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
