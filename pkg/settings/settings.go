// Package settings stores user choices, such as fan control modes and
// calibration overrides, across restarts.
package settings

import "sync"

// Store is a flat string key/value store.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Memory is a Store that lives as long as the process.
type Memory struct {
	values map[string]string
	mutex  sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		values: map[string]string{},
	}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *Memory) Set(key, value string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values[key] = value
}

func (m *Memory) Remove(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.values, key)
}

// Snapshot returns a copy of every stored value.
func (m *Memory) Snapshot() map[string]string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
