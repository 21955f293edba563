package kv

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. It is the default for local runs and tests. Values live only as long as
// the process; WithMemoryTTL bounds how long an unwritten key is kept.
type Memory struct {
	mu     sync.RWMutex
	values map[string]memoryValue
	ttl    time.Duration
	now    func() time.Time
}

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && !now.Before(v.expiresAt)
}

// MemoryOption customises the Memory store.
type MemoryOption func(*Memory)

// WithMemoryTTL expires every written key ttl after its last write. Zero keeps keys forever.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMemoryClock overrides the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an empty Memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{values: make(map[string]memoryValue), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok || value.expired(m.now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value.data...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := memoryValue{data: append([]byte(nil), value...)}
	if m.ttl > 0 {
		stored.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.values[key] = stored
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired keys and reports how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, value := range m.values {
		if value.expired(now) {
			delete(m.values, key)
			removed++
		}
	}
	return removed
}

// Keys lists live keys; used by tests to assert on storage layout.
func (m *Memory) Keys() []string {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k, v := range m.values {
		if !v.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}
