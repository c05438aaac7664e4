package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as the Redis
// backend. Expiry is applied lazily on access.
type Memory struct {
	mu       sync.Mutex
	floats   map[string]*floatEntry
	counters map[string]*counterEntry
	windows  map[string]*windowEntry
	values   map[string]*valueEntry

	now func() time.Time
}

type floatEntry struct {
	value     float64
	expiresAt time.Time
}

type counterEntry struct {
	value     int64
	expiresAt time.Time
}

type windowEntry struct {
	events    []time.Time
	expiresAt time.Time
}

type valueEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryOption configures the memory store.
type MemoryOption func(*Memory)

// WithTimeFunc sets a custom time function (for testing).
func WithTimeFunc(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = fn
	}
}

// NewMemory creates a new in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		floats:   make(map[string]*floatEntry),
		counters: make(map[string]*counterEntry),
		windows:  make(map[string]*windowEntry),
		values:   make(map[string]*valueEntry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Store = (*Memory)(nil)

// IncrByFloat atomically adds amount to the float counter at key.
func (m *Memory) IncrByFloat(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.floats[key]
	if !ok || now.After(e.expiresAt) {
		e = &floatEntry{expiresAt: now.Add(ttl)}
		m.floats[key] = e
	}
	e.value += amount
	return e.value, nil
}

// GetFloat returns the current value of a float counter, 0 if absent.
func (m *Memory) GetFloat(ctx context.Context, key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.floats[key]
	if !ok || m.now().After(e.expiresAt) {
		return 0, nil
	}
	return e.value, nil
}

// Incr atomically increments the integer counter at key.
func (m *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.counters[key]
	if !ok || now.After(e.expiresAt) {
		e = &counterEntry{expiresAt: now.Add(ttl)}
		m.counters[key] = e
	}
	e.value++
	return e.value, nil
}

// WindowAdd records an event and returns the count of events inside the window.
func (m *Memory) WindowAdd(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.windows[key]
	if !ok || m.now().After(e.expiresAt) {
		e = &windowEntry{}
		m.windows[key] = e
	}

	cutoff := now.Add(-window)
	kept := e.events[:0]
	for _, ts := range e.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.events = append(kept, now)
	e.expiresAt = m.now().Add(ttl)

	return int64(len(e.events)), nil
}

// Get returns the value stored at key, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	if !ok || m.now().After(e.expiresAt) {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value at key with the given TTL.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = &valueEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Ping always succeeds for the in-memory store.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
