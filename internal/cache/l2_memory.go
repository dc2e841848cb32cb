package cache

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// MemoryL2 is an in-process stand-in for the shared cache tier, used when no
// database is configured. It satisfies the same L2 contract as PostgresL2 so
// Cache's behavior does not depend on which tier is wired in.
type MemoryL2 struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryL2 constructs an empty MemoryL2.
func NewMemoryL2() *MemoryL2 {
	return &MemoryL2{entries: make(map[string]memEntry)}
}

func (m *MemoryL2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryL2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryL2) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryL2) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = memEntry{value: encodeCounter(1), expiresAt: now.Add(ttl)}
		m.entries[key] = e
		return 1, nil
	}

	n := decodeCounter(e.value) + 1
	e.value = encodeCounter(n)
	m.entries[key] = e
	return n, nil
}

func (m *MemoryL2) Close() error { return nil }

func encodeCounter(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeCounter(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
