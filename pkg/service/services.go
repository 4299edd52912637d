package service

import (
	"context"
	"sync"
)

// ServiceLister reads the OS subsystem's list of enabled accessibility services
type ServiceLister interface {
	EnabledServices(ctx context.Context) ([]string, error)
}

// ServiceListerFunc adapts a function to ServiceLister
type ServiceListerFunc func(ctx context.Context) ([]string, error)

func (f ServiceListerFunc) EnabledServices(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// MemoryServiceList holds the enabled-services listing pushed by the bridge
type MemoryServiceList struct {
	mu  sync.RWMutex
	ids []string
}

// NewMemoryServiceList creates a listing with the given identities
func NewMemoryServiceList(ids ...string) *MemoryServiceList {
	return &MemoryServiceList{ids: append([]string(nil), ids...)}
}

// Set replaces the listing
func (m *MemoryServiceList) Set(ids []string) {
	m.mu.Lock()
	m.ids = append([]string(nil), ids...)
	m.mu.Unlock()
}

func (m *MemoryServiceList) EnabledServices(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.ids...), nil
}

var (
	_ ServiceLister = (*MemoryServiceList)(nil)
	_ ServiceLister = ServiceListerFunc(nil)
)
