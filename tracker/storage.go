package tracker

import "sync"

const (
	VisitorKey  = "pod_visitor_id"
	InternalKey = "pod_internal"
	SessionKey  = "pod_session_id"
)

// DurableStore survives browser restarts (localStorage).
type DurableStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// TabStore lives as long as one tab, across reloads (sessionStorage).
type TabStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// MemoryStore satisfies both storage interfaces in process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}
