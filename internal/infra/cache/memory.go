package cache

import (
	"context"
	"sync"
	"time"

	"oneiro-bot/internal/domain"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// Memory in-process реализация кэша для запуска без Redis.
type Memory struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	windows map[string][]time.Time
	now     func() time.Time
}

var (
	_ domain.Cache      = (*Memory)(nil)
	_ domain.RateWindow = (*Memory)(nil)
)

// NewMemory создаёт кэш в памяти.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem), windows: make(map[string][]time.Time), now: time.Now}
}

// WithClock подменяет часы.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) alive(key string, now time.Time) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

// Once выполняет функцию, если ключ ещё не задан.
func (m *Memory) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ok, _ := m.Acquire(ctx, key, ttl)
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Acquire ставит ключ, если его нет.
func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.alive(key, now); ok {
		return false, nil
	}
	m.items[key] = memoryItem{value: []byte("1"), expiresAt: expiry(now, ttl)}
	return true, nil
}

// Set задаёт значение.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := append([]byte(nil), value...)
	m.items[key] = memoryItem{value: dup, expiresAt: expiry(m.now(), ttl)}
	return nil
}

// Get возвращает значение или ErrMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.alive(key, m.now())
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Hit учитывает попытку в скользящем окне.
func (m *Memory) Hit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	floor := now.Add(-window)
	kept := m.windows[key][:0]
	for _, at := range m.windows[key] {
		if at.After(floor) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= limit {
		m.windows[key] = kept
		return false, nil
	}
	m.windows[key] = append(kept, now)
	return true, nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
