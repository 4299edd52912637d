package settings

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore keeps settings in a map. Used in dev mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) IsConsentGranted(ctx context.Context) bool {
	return m.Bool(ctx, KeyAgreement, false)
}

func (m *MemoryStore) IsJobEnabled(ctx context.Context, jobKey string) bool {
	return m.Bool(ctx, jobKey, false)
}

func (m *MemoryStore) Bool(_ context.Context, key string, def bool) bool {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (m *MemoryStore) Int(_ context.Context, key string, def int) int {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func (m *MemoryStore) SetBool(_ context.Context, key string, value bool) error {
	return m.set(key, strconv.FormatBool(value))
}

func (m *MemoryStore) SetInt(_ context.Context, key string, value int) error {
	return m.set(key, strconv.Itoa(value))
}

func (m *MemoryStore) set(key, raw string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
