package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

type memoryCounters struct {
	mu          sync.Mutex
	entries     map[string]*memoryEntry
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-process counter cache with a janitor goroutine that
// drops expired entries. Suitable for single-instance deployments and tests;
// multi-instance deployments should use the redis backend so all replicas
// share one view of the counters.
func NewMemory(cleanupFreq time.Duration) Counters {
	if cleanupFreq <= 0 {
		cleanupFreq = time.Minute
	}
	m := &memoryCounters{
		entries:     make(map[string]*memoryEntry),
		cleanupFreq: cleanupFreq,
		stop:        make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

func (m *memoryCounters) gcLoop() {
	ticker := time.NewTicker(m.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *memoryCounters) evictExpired() {
	now := time.Now()
	m.mu.Lock()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

func (m *memoryCounters) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || now.After(e.expiresAt) {
		// First hit starts a fresh window.
		m.entries[key] = &memoryEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}
	e.count++
	return e.count, nil
}

func (m *memoryCounters) Get(_ context.Context, key string) (int64, bool, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || now.After(e.expiresAt) {
		return 0, false, nil
	}
	return e.count, true, nil
}

func (m *memoryCounters) SetMarker(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = &memoryEntry{count: 1, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *memoryCounters) HasMarker(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *memoryCounters) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryCounters) Close(_ context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}
